package otp

import (
	"context"
	"time"
)

// Record 是一条待验证的一次性验证码。
//
// 每个邮箱最多存在一条；新的登录请求直接覆盖旧记录。
type Record struct {
	Code      string    `json:"code"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store 抽象验证码的存放位置。
//
// 两个实现：Redis（带 TTL，多实例共享）和进程内 map（随进程生灭）。
// 过期判断由 Authenticator 基于 Record.ExpiresAt 做，Store 只负责保管，
// 这样"已过期但仍在保管期内"的记录能区分出 Expired 而不是 NotFound。
type Store interface {
	Put(ctx context.Context, email string, rec Record) error
	Get(ctx context.Context, email string) (Record, bool, error)
	Delete(ctx context.Context, email string) error
}
