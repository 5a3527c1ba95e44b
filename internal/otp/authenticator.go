package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
	"github.com/NishanthMohanan/serveq1/internal/clock"
	"github.com/NishanthMohanan/serveq1/internal/model"
	"github.com/NishanthMohanan/serveq1/internal/pkg/metrics"

	"gorm.io/gorm"
)

// Mailer 发送验证码邮件。发送失败不阻断登录流程。
type Mailer interface {
	SendOTPCode(to, code string) error
}

// Authenticator 负责验证码的签发与校验。
type Authenticator struct {
	store    Store
	db       *gorm.DB
	clock    clock.Clock
	mailer   Mailer
	validity time.Duration
	logger   *slog.Logger

	mu sync.Mutex // 串行化 users 集合上的读改写
}

func NewAuthenticator(store Store, db *gorm.DB, clk clock.Clock, mailer Mailer, validity time.Duration, logger *slog.Logger) *Authenticator {
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &Authenticator{
		store:    store,
		db:       db,
		clock:    clk,
		mailer:   mailer,
		validity: validity,
		logger:   logger,
	}
}

// RequestLogin 为邮箱签发一个 6 位数字验证码。
//
// 同一邮箱的旧记录会被直接覆盖，任意时刻最多一条在途验证码。
// 返回验证码本身（演示用途，正式投递走邮件）。
func (a *Authenticator) RequestLogin(ctx context.Context, email, username string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "generate code failed", err)
	}

	rec := Record{
		Code:      code,
		Username:  username,
		ExpiresAt: a.clock.Now().Add(a.validity),
	}
	if err := a.store.Put(ctx, email, rec); err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "store otp failed", err)
	}
	metrics.OTPIssuedTotal.Inc()

	if a.mailer != nil {
		if err := a.mailer.SendOTPCode(email, code); err != nil {
			a.logger.Warn("send otp email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	}

	a.logger.Info("otp issued", slog.String("email", email))
	return code, nil
}

// Verify 校验验证码并返回（必要时创建）用户。
//
// 检查顺序是契约的一部分：无记录 → 码不匹配 → 已过期。
// 成功后记录被删除，同一验证码重放会落在"无记录"上。
func (a *Authenticator) Verify(ctx context.Context, email, code string) (*model.User, error) {
	rec, ok, err := a.store.Get(ctx, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load otp failed", err)
	}
	if !ok {
		metrics.OTPVerifyTotal.WithLabelValues("not_found").Inc()
		return nil, apperr.New(apperr.KindNotFound, "no OTP found for this email")
	}
	if rec.Code != code {
		metrics.OTPVerifyTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.New(apperr.KindInvalidOTP, "invalid OTP")
	}
	now := a.clock.Now()
	if now.After(rec.ExpiresAt) {
		metrics.OTPVerifyTotal.WithLabelValues("expired").Inc()
		return nil, apperr.New(apperr.KindOTPExpired, "OTP expired")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var user model.User
	err = a.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			Email:     email,
			Username:  rec.Username,
			CreatedAt: now,
			LastLogin: now,
		}
		if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "create user failed", err)
		}
	case err != nil:
		return nil, apperr.Wrap(apperr.KindStorage, "query user failed", err)
	default:
		user.LastLogin = now
		if err := a.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", user.ID).Update("last_login", now).Error; err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "update last_login failed", err)
		}
	}

	// 单次使用：删除失败必须上报，否则验证码可被重放
	if err := a.store.Delete(ctx, email); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "consume otp failed", err)
	}

	metrics.OTPVerifyTotal.WithLabelValues("success").Inc()
	a.logger.Info("otp verified", slog.String("email", email))
	return &user, nil
}

// generateCode 在 [100000, 999999] 上均匀取一个 6 位验证码。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return (n.Add(n, big.NewInt(100000))).String(), nil
}
