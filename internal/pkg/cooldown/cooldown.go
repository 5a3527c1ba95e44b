package cooldown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "serveq:otp:cooldown:"

// Cooldown 用 Redis SetNX + TTL 实现按邮箱的验证码重发冷却。
type Cooldown struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cooldown {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cooldown{
		rdb: rdb,
		ttl: ttl,
	}
}

// Acquire 尝试占用冷却窗口。
//
// 返回 false 表示该邮箱仍在冷却中，同时给出剩余等待时间。
func (c *Cooldown) Acquire(ctx context.Context, email string) (bool, time.Duration, error) {
	if c == nil || c.rdb == nil || email == "" {
		return true, 0, nil
	}
	key := keyPrefix + hashEmail(email)
	ok, err := c.rdb.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown setnx: %w", err)
	}
	if ok {
		return true, 0, nil
	}
	remain, err := c.rdb.TTL(ctx, key).Result()
	if err != nil || remain < 0 {
		remain = c.ttl
	}
	return false, remain, nil
}

// Reset 清除冷却（测试和运营修复用）。
func (c *Cooldown) Reset(ctx context.Context, email string) error {
	if c == nil || c.rdb == nil || email == "" {
		return nil
	}
	key := keyPrefix + hashEmail(email)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}

func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
