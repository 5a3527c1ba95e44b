package notification

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

	if err := db.AutoMigrate(&model.Booking{}, &model.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	clk := &fakeClock{now: time.Date(2026, 9, 1, 8, 50, 0, 0, testLoc)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(db, clk, 10*time.Minute, logger), clk, db
}

func seedBooking(t *testing.T, db *gorm.DB, email string, start time.Time) {
	t.Helper()
	b := model.Booking{
		Email:     email,
		SlotStart: start,
		SlotEnd:   start.Add(30 * time.Minute),
		Status:    model.BookingStatusActive,
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func countReminders(t *testing.T, db *gorm.DB, email string) int64 {
	t.Helper()
	var n int64
	err := db.Model(&model.Notification{}).
		Where("email = ? AND type = ? AND cleared = ?", email, model.NotificationTypeReminder, false).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count reminders: %v", err)
	}
	return n
}

func TestReconcileReminders_CreatesOneReminder(t *testing.T) {
	engine, clk, db := newTestEngine(t)
	ctx := context.Background()

	seedBooking(t, db, "alice@example.com", clk.now.Add(5*time.Minute))

	if err := engine.ReconcileReminders(ctx, "alice@example.com"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := countReminders(t, db, "alice@example.com"); got != 1 {
		t.Fatalf("expected 1 reminder, got %d", got)
	}

	var n model.Notification
	if err := db.Where("type = ?", model.NotificationTypeReminder).First(&n).Error; err != nil {
		t.Fatalf("load reminder: %v", err)
	}
	if n.Message != "Your appointment is in 10 minutes" {
		t.Fatalf("unexpected reminder message: %q", n.Message)
	}

	// 幂等：重复调用不产生第二条
	if err := engine.ReconcileReminders(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if got := countReminders(t, db, "alice@example.com"); got != 1 {
		t.Fatalf("expected reconcile to be idempotent, got %d reminders", got)
	}
}

func TestReconcileReminders_WindowBoundariesInclusive(t *testing.T) {
	engine, clk, db := newTestEngine(t)
	ctx := context.Background()

	// 下界：恰好现在开始
	seedBooking(t, db, "lower@example.com", clk.now)
	if err := engine.ReconcileReminders(ctx, "lower@example.com"); err != nil {
		t.Fatalf("reconcile lower: %v", err)
	}
	if got := countReminders(t, db, "lower@example.com"); got != 1 {
		t.Fatalf("lower boundary should be inside window, got %d reminders", got)
	}

	// 上界：恰好 now+window 开始
	seedBooking(t, db, "upper@example.com", clk.now.Add(10*time.Minute))
	if err := engine.ReconcileReminders(ctx, "upper@example.com"); err != nil {
		t.Fatalf("reconcile upper: %v", err)
	}
	if got := countReminders(t, db, "upper@example.com"); got != 1 {
		t.Fatalf("upper boundary should be inside window, got %d reminders", got)
	}

	// 窗口外：晚一秒
	seedBooking(t, db, "outside@example.com", clk.now.Add(10*time.Minute+time.Second))
	if err := engine.ReconcileReminders(ctx, "outside@example.com"); err != nil {
		t.Fatalf("reconcile outside: %v", err)
	}
	if got := countReminders(t, db, "outside@example.com"); got != 0 {
		t.Fatalf("slot past the window must not trigger a reminder, got %d", got)
	}
}

func TestReconcileReminders_NoActiveBooking(t *testing.T) {
	engine, _, db := newTestEngine(t)

	if err := engine.ReconcileReminders(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := countReminders(t, db, "alice@example.com"); got != 0 {
		t.Fatalf("expected no reminder without bookings, got %d", got)
	}
}

func TestReconcileReminders_SingleReminderForMultipleDueBookings(t *testing.T) {
	engine, clk, db := newTestEngine(t)
	ctx := context.Background()

	seedBooking(t, db, "alice@example.com", clk.now.Add(3*time.Minute))
	seedBooking(t, db, "alice@example.com", clk.now.Add(7*time.Minute))

	if err := engine.ReconcileReminders(ctx, "alice@example.com"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := countReminders(t, db, "alice@example.com"); got != 1 {
		t.Fatalf("expected a single in-flight reminder, got %d", got)
	}
}

func TestReconcileReminders_ClearedReminderAllowsNewOne(t *testing.T) {
	engine, clk, db := newTestEngine(t)
	ctx := context.Background()

	seedBooking(t, db, "alice@example.com", clk.now.Add(5*time.Minute))
	if err := engine.ReconcileReminders(ctx, "alice@example.com"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	list, err := engine.ListActive(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	if err := engine.Clear(ctx, list[0].ID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	// 判重只看未清除的提醒，清掉后可以再生成
	if err := engine.ReconcileReminders(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if got := countReminders(t, db, "alice@example.com"); got != 1 {
		t.Fatalf("expected a fresh reminder after clear, got %d", got)
	}
}

func TestListActive_FiltersAndOrders(t *testing.T) {
	engine, _, db := newTestEngine(t)
	ctx := context.Background()

	rows := []model.Notification{
		{Email: "alice@example.com", Message: "first", Type: model.NotificationTypeConfirmation},
		{Email: "alice@example.com", Message: "second", Type: model.NotificationTypeReminder},
		{Email: "alice@example.com", Message: "cleared", Type: model.NotificationTypeReminder, Cleared: true},
		{Email: "bob@example.com", Message: "other user", Type: model.NotificationTypeConfirmation},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	list, err := engine.ListActive(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].Message != "first" || list[1].Message != "second" {
		t.Fatalf("expected insertion order, got %q then %q", list[0].Message, list[1].Message)
	}

	empty, err := engine.ListActive(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", empty)
	}
}

func TestClear_MarksNotification(t *testing.T) {
	engine, _, db := newTestEngine(t)
	ctx := context.Background()

	n := model.Notification{Email: "alice@example.com", Message: "hello", Type: model.NotificationTypeConfirmation}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	if err := engine.Clear(ctx, n.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	var got model.Notification
	if err := db.First(&got, n.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.Cleared {
		t.Fatalf("expected notification to be cleared")
	}

	// 重复清除是可以的：行还在，状态不变
	if err := engine.Clear(ctx, n.ID); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestClear_AlreadyClearedIsNoOp(t *testing.T) {
	engine, _, db := newTestEngine(t)
	ctx := context.Background()

	// 行已处于清除态：重复提交（如前端双击）必须成功，而不是 NotFound
	n := model.Notification{
		Email:   "alice@example.com",
		Message: "hello",
		Type:    model.NotificationTypeConfirmation,
		Cleared: true,
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	if err := engine.Clear(ctx, n.ID); err != nil {
		t.Fatalf("clearing an already-cleared notification must be a no-op, got %v", err)
	}

	var got model.Notification
	if err := db.First(&got, n.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.Cleared {
		t.Fatalf("notification must stay cleared")
	}
}

func TestClear_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.Clear(context.Background(), 9999)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
