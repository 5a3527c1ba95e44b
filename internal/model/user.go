package model

import "time"

// User 表示系统用户。
//
// 用户在首次 OTP 验证成功时创建，之后每次验证只更新 LastLogin，永不删除。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 邮箱（唯一业务键）
	Username  string    `gorm:"type:varchar(64)" json:"username"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}
