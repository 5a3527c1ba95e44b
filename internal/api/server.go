package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
	"github.com/NishanthMohanan/serveq1/internal/booking"
	"github.com/NishanthMohanan/serveq1/internal/clock"
	"github.com/NishanthMohanan/serveq1/internal/config"
	"github.com/NishanthMohanan/serveq1/internal/model"
	"github.com/NishanthMohanan/serveq1/internal/notification"
	"github.com/NishanthMohanan/serveq1/internal/otp"
	"github.com/NishanthMohanan/serveq1/internal/pkg/cooldown"
	"github.com/NishanthMohanan/serveq1/internal/pkg/metrics"
	"github.com/NishanthMohanan/serveq1/internal/pkg/notify"
	"github.com/NishanthMohanan/serveq1/internal/pkg/ratelimit"
	"github.com/NishanthMohanan/serveq1/internal/slots"

	apimw "github.com/NishanthMohanan/serveq1/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、各业务引擎以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	clock  clock.Clock

	auth          Authenticator
	booker        BookingEngine
	notifications NotificationEngine
	cooldown      *cooldown.Cooldown
	limiter       *ratelimit.Limiter
}

// Authenticator 是 OTP 登录引擎的接口。
type Authenticator interface {
	RequestLogin(ctx context.Context, email, username string) (string, error)
	Verify(ctx context.Context, email, code string) (*model.User, error)
}

// BookingEngine 是预约引擎的接口。
type BookingEngine interface {
	Book(ctx context.Context, email, slotDescriptor string) (*model.Booking, error)
	ActiveStarts(ctx context.Context) (slots.StartSet, error)
}

// NotificationEngine 是通知引擎的接口。
type NotificationEngine interface {
	ReconcileReminders(ctx context.Context, email string) error
	ListActive(ctx context.Context, email string) ([]model.Notification, error)
	Clear(ctx context.Context, id uint) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装 OTP / 预约 / 通知引擎
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Booking{}, &model.Notification{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	clk, err := clock.NewFixedZone(cfg.Booking.Timezone)
	if err != nil {
		return nil, err
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	otpStore := otp.NewRedisStore(rdb, cfg.Booking.OTPValidity)
	authenticator := otp.NewAuthenticator(otpStore, db, clk, mailer, cfg.Booking.OTPValidity, logger)
	bookingEngine := booking.NewEngine(db, clk, mailer, logger)
	notificationEngine := notification.NewEngine(db, clk, cfg.Booking.ReminderWindow, logger)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(apimw.RequestLogger(logger))

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		rdb:           rdb,
		router:        r,
		clock:         clk,
		auth:          authenticator,
		booker:        bookingEngine,
		notifications: notificationEngine,
		cooldown:      cooldown.New(rdb, cfg.Booking.ResendCooldown),
		limiter:       ratelimit.New(rdb, logger, "", cfg.Booking.LoginRateLimit, cfg.Booking.LoginRateBurst),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	login := s.router.Group("/")
	login.Use(apimw.RateLimit(s.limiter, s.logger))
	login.POST("/login", s.handleLogin)

	s.router.POST("/verify-otp", s.handleVerifyOTP)
	s.router.GET("/slots", s.handleListSlots)

	authed := s.router.Group("/")
	authed.Use(apimw.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/book", s.handleBook)
	authed.GET("/notifications", s.handleListNotifications)
	authed.POST("/notifications/clear", s.handleClearNotification)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

type bookRequest struct {
	Email string `json:"email" binding:"required,email"`
	Slot  string `json:"slot" binding:"required"`
}

type clearNotificationRequest struct {
	ID uint `json:"id" binding:"required"`
}

// handleLogin 处理登录请求：签发验证码。
//
// POST /login
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, remain, err := s.cooldown.Acquire(c.Request.Context(), req.Email)
	if err != nil {
		s.logger.Warn("cooldown check failed", slog.String("error", err.Error()))
		// Redis 故障时不拦登录
	} else if !ok {
		metrics.LoginCooldownHitsTotal.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many requests",
			"retry_after": int(remain.Seconds()),
		})
		return
	}

	code, err := s.auth.RequestLogin(c.Request.Context(), req.Email, req.Username)
	if err != nil {
		// 签发失败不烧冷却窗口，用户可以立即重试
		if resetErr := s.cooldown.Reset(c.Request.Context(), req.Email); resetErr != nil {
			s.logger.Warn("cooldown reset failed", slog.String("error", resetErr.Error()))
		}
		s.writeError(c, err)
		return
	}

	// 演示模式：验证码直接随响应返回，正式投递由邮件完成
	c.JSON(http.StatusOK, gin.H{"otp": code, "success": true})
}

// handleVerifyOTP 校验验证码并签发 JWT。
//
// POST /verify-otp
func (s *Server) handleVerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.auth.Verify(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(c, err)
		return
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		s.logger.Error("sign token failed", slog.String("email", req.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user, "token": token})
}

// handleListSlots 返回指定日期的槽位网格。
//
// GET /slots?date=YYYY-MM-DD
func (s *Server) handleListSlots(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing date"})
		return
	}

	booked, err := s.booker.ActiveStarts(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	wh := slots.WorkingHours{
		Start:           s.cfg.Booking.WorkingHours.Start,
		End:             s.cfg.Booking.WorkingHours.End,
		IntervalMinutes: s.cfg.Booking.WorkingHours.IntervalMinutes,
	}
	grid, err := slots.Generate(date, wh, booked, s.clock.Now(), s.clock.Location())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"slots": grid})
}

// handleBook 处理预约请求。
//
// POST /book
func (s *Server) handleBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := s.booker.Book(c.Request.Context(), req.Email, req.Slot)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Booked successfully", "booking": b})
}

// handleListNotifications 返回未清除的通知，读路径顺带补生成提醒。
//
// GET /notifications?email=...
func (s *Server) handleListNotifications(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}

	if err := s.notifications.ReconcileReminders(c.Request.Context(), email); err != nil {
		s.writeError(c, err)
		return
	}
	list, err := s.notifications.ListActive(c.Request.Context(), email)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// handleClearNotification 将通知标记为已清除。
//
// POST /notifications/clear
func (s *Server) handleClearNotification(c *gin.Context) {
	var req clearNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.notifications.Clear(c.Request.Context(), req.ID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) issueToken(userID uint) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Security.JWTSecret))
}

// writeError 将核心层错误按 Kind 映射为状态码与响应体。
func (s *Server) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kindStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err), "kind": string(kind)})
}

func kindStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidOTP, apperr.KindOTPExpired:
		return http.StatusUnauthorized
	case apperr.KindInvalidFormat, apperr.KindInvalidDateTime, apperr.KindPastSlot:
		return http.StatusBadRequest
	case apperr.KindAlreadyBooked, apperr.KindSlotTaken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
