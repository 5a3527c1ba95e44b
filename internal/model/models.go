package model

import "time"

// BookingStatus 预约状态。
type BookingStatus string

// 观测到的业务流程里预约只会处于 ACTIVE；过了 SlotEnd 也不会自动流转，
// 状态的退出（取消/完成）留给运营侧带外处理。
const BookingStatusActive BookingStatus = "ACTIVE"

// Booking 表示一次槽位预约。
//
// 两条硬性约束：
//  1. 同一邮箱最多存在一条 ACTIVE 预约；
//  2. 同一起始时刻最多被占用一次（任何状态），SlotStart 上的唯一索引兜底。
type Booking struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	Email     string        `gorm:"type:varchar(191);index;not null" json:"email"`
	SlotStart time.Time     `gorm:"uniqueIndex;not null" json:"slot_start"`
	SlotEnd   time.Time     `gorm:"not null" json:"slot_end"`
	Status    BookingStatus `gorm:"type:varchar(16);index;default:ACTIVE" json:"status"`
}

// NotificationType 通知类型。
type NotificationType string

const (
	NotificationTypeConfirmation NotificationType = "CONFIRMATION" // 预约成功确认
	NotificationTypeReminder     NotificationType = "REMINDER"     // 开始前 10 分钟提醒
)

// Notification 表示一条用户通知。
//
// 只通过把 Cleared 置为 true 来"消费"，从不物理删除。
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Email   string           `gorm:"type:varchar(191);index;not null" json:"email"`
	Message string           `gorm:"type:varchar(255);not null" json:"message"`
	Type    NotificationType `gorm:"type:varchar(16);not null" json:"type"`
	Cleared bool             `gorm:"default:false" json:"cleared"`
}
