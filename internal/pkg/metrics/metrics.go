package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 指标在包加载时创建、在 InitMetrics 里统一注册，
// 这样单元测试不注册也能安全地 Inc/Observe。
var (
	OTPIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_otp_issued_total",
		Help: "Total number of OTP codes issued.",
	})

	OTPVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serveq_otp_verify_total",
		Help: "OTP verification attempts by result.",
	}, []string{"result"})

	BookingsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_bookings_created_total",
		Help: "Total number of bookings successfully created.",
	})

	BookingRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serveq_booking_rejected_total",
		Help: "Booking attempts rejected by reason.",
	}, []string{"reason"})

	RemindersGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_reminders_generated_total",
		Help: "Total number of reminder notifications generated.",
	})

	NotificationsClearedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_notifications_cleared_total",
		Help: "Total number of notifications cleared.",
	})

	LoginThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_login_throttled_total",
		Help: "Login requests rejected by the rate limiter.",
	})

	LoginCooldownHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serveq_login_cooldown_hits_total",
		Help: "Login requests rejected by the per-email resend cooldown.",
	})

	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "serveq_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token.",
		Buckets: prometheus.DefBuckets,
	})
)

var registerOnce sync.Once

// InitMetrics 向默认 registry 注册所有指标，可安全重复调用。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OTPIssuedTotal,
			OTPVerifyTotal,
			BookingsCreatedTotal,
			BookingRejectedTotal,
			RemindersGeneratedTotal,
			NotificationsClearedTotal,
			LoginThrottledTotal,
			LoginCooldownHitsTotal,
			RateLimitWaitDuration,
		)
	})
}
