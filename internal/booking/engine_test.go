package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
	"github.com/NishanthMohanan/serveq1/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var testLoc = time.FixedZone("IST", 5*3600+30*60)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time           { return c.now }
func (c *fakeClock) Location() *time.Location { return c.now.Location() }
func (c *fakeClock) Advance(d time.Duration)  { c.now = c.now.Add(d) }

type mockMailer struct {
	confirmations []string
	err           error
}

func (m *mockMailer) SendBookingConfirmation(to, startLabel string) error {
	m.confirmations = append(m.confirmations, to+":"+startLabel)
	return m.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.User{}, &model.Booking{}, &model.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *mockMailer, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	clk := &fakeClock{now: time.Date(2026, 9, 1, 8, 0, 0, 0, testLoc)}
	mailer := &mockMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(db, clk, mailer, logger), clk, mailer, db
}

func TestBook_Success(t *testing.T) {
	engine, _, mailer, db := newTestEngine(t)
	ctx := context.Background()

	b, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if b.Email != "alice@example.com" || b.Status != model.BookingStatusActive {
		t.Fatalf("unexpected booking: %+v", b)
	}
	wantStart := time.Date(2026, 9, 1, 9, 0, 0, 0, testLoc)
	if !b.SlotStart.Equal(wantStart) {
		t.Fatalf("expected slot_start %v, got %v", wantStart, b.SlotStart)
	}
	if !b.SlotEnd.Equal(wantStart.Add(30 * time.Minute)) {
		t.Fatalf("expected slot_end %v, got %v", wantStart.Add(30*time.Minute), b.SlotEnd)
	}

	var n model.Notification
	if err := db.Where("email = ?", "alice@example.com").First(&n).Error; err != nil {
		t.Fatalf("load confirmation: %v", err)
	}
	if n.Type != model.NotificationTypeConfirmation {
		t.Fatalf("expected confirmation notification, got %s", n.Type)
	}
	if n.Message != "Booking confirmed for 09:00 AM" {
		t.Fatalf("unexpected confirmation message: %q", n.Message)
	}
	if n.Cleared {
		t.Fatalf("confirmation should start uncleared")
	}

	if len(mailer.confirmations) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(mailer.confirmations))
	}
}

func TestBook_InvalidFormat(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	for _, descriptor := range []string{"garbage", "2026-09-01", "2026-09-01 09:00AM"} {
		_, err := engine.Book(context.Background(), "alice@example.com", descriptor)
		if !apperr.IsKind(err, apperr.KindInvalidFormat) {
			t.Fatalf("descriptor %q: expected invalid format, got %v", descriptor, err)
		}
	}
}

func TestBook_InvalidDateTime(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	for _, descriptor := range []string{
		"2026-13-01 09:00 AM-09:30 AM",
		"2026-09-01 29:00 AM-09:30 AM",
		"2026-09-01 09:00 AM-zz:30 AM",
	} {
		_, err := engine.Book(context.Background(), "alice@example.com", descriptor)
		if !apperr.IsKind(err, apperr.KindInvalidDateTime) {
			t.Fatalf("descriptor %q: expected invalid datetime, got %v", descriptor, err)
		}
	}
}

func TestBook_PastSlot(t *testing.T) {
	engine, clk, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Book(ctx, "alice@example.com", "2026-09-01 07:00 AM-07:30 AM")
	if !apperr.IsKind(err, apperr.KindPastSlot) {
		t.Fatalf("expected past slot, got %v", err)
	}

	// 边界：起点等于当前时刻同样算过去
	clk.now = time.Date(2026, 9, 1, 9, 0, 0, 0, testLoc)
	_, err = engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM")
	if !apperr.IsKind(err, apperr.KindPastSlot) {
		t.Fatalf("expected past slot at exact start instant, got %v", err)
	}
}

func TestBook_AlreadyBooked(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := engine.Book(ctx, "alice@example.com", "2026-09-01 10:00 AM-10:30 AM")
	if !apperr.IsKind(err, apperr.KindAlreadyBooked) {
		t.Fatalf("expected already booked, got %v", err)
	}
}

func TestBook_AlreadyBookedWinsOverPastSlot(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	// 既有活跃预约、又是过去的槽位：报已有预约
	_, err := engine.Book(ctx, "alice@example.com", "2026-09-01 07:00 AM-07:30 AM")
	if !apperr.IsKind(err, apperr.KindAlreadyBooked) {
		t.Fatalf("expected already booked to win, got %v", err)
	}
}

func TestBook_SlotTaken(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := engine.Book(ctx, "bob@example.com", "2026-09-01 09:00 AM-09:30 AM")
	if !apperr.IsKind(err, apperr.KindSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}
}

func TestBook_FailedAttemptLeavesNoRows(t *testing.T) {
	engine, _, _, db := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := engine.Book(ctx, "bob@example.com", "2026-09-01 09:00 AM-09:30 AM"); err == nil {
		t.Fatalf("expected conflict")
	}

	var bookings, notifications int64
	if err := db.Model(&model.Booking{}).Count(&bookings).Error; err != nil {
		t.Fatalf("count bookings: %v", err)
	}
	if err := db.Model(&model.Notification{}).Where("email = ?", "bob@example.com").Count(&notifications).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if bookings != 1 || notifications != 0 {
		t.Fatalf("rejected attempt must leave no rows: bookings=%d notifications=%d", bookings, notifications)
	}
}

func TestBook_ActiveBookingOutlivesSlotEnd(t *testing.T) {
	engine, clk, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("booking: %v", err)
	}

	// 槽位结束后预约不自动完结，仍然占住"单预约"名额
	clk.Advance(4 * time.Hour)
	_, err := engine.Book(ctx, "alice@example.com", "2026-09-01 02:00 PM-02:30 PM")
	if !apperr.IsKind(err, apperr.KindAlreadyBooked) {
		t.Fatalf("expected already booked after slot end, got %v", err)
	}
}

func TestActiveStarts(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	set, err := engine.ActiveStarts(ctx)
	if err != nil {
		t.Fatalf("active starts: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %d entries", len(set))
	}

	if _, err := engine.Book(ctx, "alice@example.com", "2026-09-01 09:00 AM-09:30 AM"); err != nil {
		t.Fatalf("book alice: %v", err)
	}
	if _, err := engine.Book(ctx, "bob@example.com", "2026-09-01 10:00 AM-10:30 AM"); err != nil {
		t.Fatalf("book bob: %v", err)
	}

	set, err = engine.ActiveStarts(ctx)
	if err != nil {
		t.Fatalf("active starts: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(set))
	}
	if !set.Has(time.Date(2026, 9, 1, 9, 0, 0, 0, testLoc)) {
		t.Fatalf("expected alice's slot in set")
	}
	if !set.Has(time.Date(2026, 9, 1, 10, 0, 0, 0, testLoc)) {
		t.Fatalf("expected bob's slot in set")
	}
}
