package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
	"github.com/NishanthMohanan/serveq1/internal/clock"
	"github.com/NishanthMohanan/serveq1/internal/model"
	"github.com/NishanthMohanan/serveq1/internal/pkg/metrics"

	"gorm.io/gorm"
)

const reminderMessage = "Your appointment is in 10 minutes"

// Engine 负责提醒的生成与通知的查询、清除。
//
// 提醒生成与查询拆成两步：ReconcileReminders 是幂等的写操作，
// ListActive 是纯查询；HTTP 读路径先 Reconcile 再 List，观测行为
// 与"读时生成"一致。
type Engine struct {
	db     *gorm.DB
	clock  clock.Clock
	window time.Duration
	logger *slog.Logger

	mu sync.Mutex // 串行化 notifications 集合上的读改写
}

func NewEngine(db *gorm.DB, clk clock.Clock, window time.Duration, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Engine{
		db:     db,
		clock:  clk,
		window: window,
		logger: logger,
	}
}

// ReconcileReminders 为进入提醒窗口的预约补生成提醒。
//
// 规则：邮箱存在 slot_start ∈ [now, now+window]（闭区间）的 ACTIVE 预约，
// 且当前没有未清除的 REMINDER 时，恰好生成一条。判重按
// (email, type=REMINDER, cleared=false) 而不是按预约——两条预约同时进入
// 窗口也只产生一条在途提醒。重复调用不产生新记录。
func (e *Engine) ReconcileReminders(ctx context.Context, email string) error {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&model.Notification{}).
			Where("email = ? AND type = ? AND cleared = ?", email, model.NotificationTypeReminder, false).
			Count(&pending).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "query notifications failed", err)
		}
		if pending > 0 {
			return nil
		}

		var due int64
		if err := tx.Model(&model.Booking{}).
			Where("email = ? AND status = ?", email, model.BookingStatusActive).
			Where("slot_start >= ? AND slot_start <= ?", now, now.Add(e.window)).
			Count(&due).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "query bookings failed", err)
		}
		if due == 0 {
			return nil
		}

		n := model.Notification{
			Email:   email,
			Message: reminderMessage,
			Type:    model.NotificationTypeReminder,
		}
		if err := tx.Create(&n).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "create reminder failed", err)
		}

		metrics.RemindersGeneratedTotal.Inc()
		e.logger.Info("reminder generated", slog.String("email", email))
		return nil
	})
}

// ListActive 返回邮箱所有未清除的通知，按插入顺序。
func (e *Engine) ListActive(ctx context.Context, email string) ([]model.Notification, error) {
	notifications := []model.Notification{}
	if err := e.db.WithContext(ctx).
		Where("email = ? AND cleared = ?", email, false).
		Order("id ASC").
		Find(&notifications).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "query notifications failed", err)
	}
	return notifications, nil
}

// Clear 将指定通知标记为已清除；id 不存在时报 NotFound。
//
// NotFound 只看行存不存在，不看行的状态：重复清除同一条通知是无操作。
// 不能用 UPDATE 的影响行数区分这两种情况——MySQL 默认报告"改变的行数"，
// 已清除的行会被计为 0，跟不存在混在一起；先查再改。
func (e *Engine) Clear(ctx context.Context, id uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n model.Notification
		if err := tx.First(&n, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "notification not found")
			}
			return apperr.Wrap(apperr.KindStorage, "load notification failed", err)
		}
		if n.Cleared {
			return nil
		}

		if err := tx.Model(&model.Notification{}).
			Where("id = ?", id).
			Update("cleared", true).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "clear notification failed", err)
		}

		metrics.NotificationsClearedTotal.Inc()
		return nil
	})
}
