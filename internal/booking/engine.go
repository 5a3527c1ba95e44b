package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
	"github.com/NishanthMohanan/serveq1/internal/clock"
	"github.com/NishanthMohanan/serveq1/internal/model"
	"github.com/NishanthMohanan/serveq1/internal/pkg/metrics"
	"github.com/NishanthMohanan/serveq1/internal/slots"

	"gorm.io/gorm"
)

// 槽位描述符形如 "2024-01-01 09:00 AM-09:30 AM"。
const descriptorTimeLayout = slots.DateLayout + " " + slots.TimeLabelLayout

// Mailer 发送预约确认邮件。发送失败不回滚预约。
type Mailer interface {
	SendBookingConfirmation(to, startLabel string) error
}

// Engine 执行预约的校验与落库。
type Engine struct {
	db     *gorm.DB
	clock  clock.Clock
	mailer Mailer
	logger *slog.Logger

	mu sync.Mutex // 串行化 bookings 集合上的校验-写入序列
}

func NewEngine(db *gorm.DB, clk clock.Clock, mailer Mailer, logger *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		clock:  clk,
		mailer: mailer,
		logger: logger,
	}
}

// Book 校验并提交一次预约。
//
// 失败模式按顺序判定，前面的命中就短路：
// 描述符格式 → 时间可解析 → 该用户已有 ACTIVE 预约 → 槽位已成过去 →
// 起始时刻已被占用。3/4/5 的相对顺序是对外契约，调整会改变并发冲突时
// 报出的错误种类。
// 成功时预约与确认通知在同一事务里写入，二者要么都可见要么都不可见。
func (e *Engine) Book(ctx context.Context, email, slotDescriptor string) (*model.Booking, error) {
	start, end, startLabel, err := parseDescriptor(slotDescriptor, e.clock.Location())
	if err != nil {
		metrics.BookingRejectedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var booked *model.Booking
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&model.Booking{}).
			Where("email = ? AND status = ?", email, model.BookingStatusActive).
			Count(&active).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "query bookings failed", err)
		}
		if active > 0 {
			return apperr.New(apperr.KindAlreadyBooked, "user already has an active booking")
		}

		if !start.After(now) {
			return apperr.New(apperr.KindPastSlot, "cannot book past slot")
		}

		var taken int64
		if err := tx.Model(&model.Booking{}).
			Where("slot_start = ?", start).
			Count(&taken).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "query slot failed", err)
		}
		if taken > 0 {
			return apperr.New(apperr.KindSlotTaken, "slot already booked")
		}

		b := model.Booking{
			Email:     email,
			SlotStart: start,
			SlotEnd:   end,
			Status:    model.BookingStatusActive,
		}
		if err := tx.Create(&b).Error; err != nil {
			// 唯一索引兜底：并发窗口里输掉竞争的一方同样报槽位冲突
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.KindSlotTaken, "slot already booked")
			}
			return apperr.Wrap(apperr.KindStorage, "create booking failed", err)
		}

		n := model.Notification{
			Email:   email,
			Message: "Booking confirmed for " + startLabel,
			Type:    model.NotificationTypeConfirmation,
		}
		if err := tx.Create(&n).Error; err != nil {
			return apperr.Wrap(apperr.KindStorage, "create confirmation failed", err)
		}

		booked = &b
		return nil
	})
	if txErr != nil {
		metrics.BookingRejectedTotal.WithLabelValues(string(apperr.KindOf(txErr))).Inc()
		return nil, txErr
	}

	metrics.BookingsCreatedTotal.Inc()
	e.logger.Info("booking created",
		slog.String("email", email),
		slog.Time("slot_start", booked.SlotStart),
	)

	if e.mailer != nil {
		if err := e.mailer.SendBookingConfirmation(email, startLabel); err != nil {
			e.logger.Warn("send confirmation email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	}

	return booked, nil
}

// ActiveStarts 返回所有 ACTIVE 预约的起始时刻，供网格生成标记占用。
func (e *Engine) ActiveStarts(ctx context.Context) (slots.StartSet, error) {
	var starts []time.Time
	if err := e.db.WithContext(ctx).Model(&model.Booking{}).
		Where("status = ?", model.BookingStatusActive).
		Pluck("slot_start", &starts).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "query bookings failed", err)
	}
	set := make(slots.StartSet, len(starts))
	for _, t := range starts {
		set.Add(t)
	}
	return set, nil
}

// parseDescriptor 把 "YYYY-MM-DD HH:MM AM-HH:MM PM" 拆成两个带时区的时刻。
func parseDescriptor(descriptor string, loc *time.Location) (start, end time.Time, startLabel string, err error) {
	datePart, timePart, ok := strings.Cut(descriptor, " ")
	if !ok {
		return time.Time{}, time.Time{}, "", apperr.New(apperr.KindInvalidFormat, "invalid slot format")
	}
	startStr, endStr, ok := strings.Cut(timePart, "-")
	if !ok {
		return time.Time{}, time.Time{}, "", apperr.New(apperr.KindInvalidFormat, "invalid slot format")
	}
	startLabel = strings.TrimSpace(startStr)

	start, err = time.ParseInLocation(descriptorTimeLayout, datePart+" "+startLabel, loc)
	if err != nil {
		return time.Time{}, time.Time{}, "", apperr.New(apperr.KindInvalidDateTime, "invalid slot time")
	}
	end, err = time.ParseInLocation(descriptorTimeLayout, datePart+" "+strings.TrimSpace(endStr), loc)
	if err != nil {
		return time.Time{}, time.Time{}, "", apperr.New(apperr.KindInvalidDateTime, "invalid slot time")
	}
	return start, end, startLabel, nil
}
