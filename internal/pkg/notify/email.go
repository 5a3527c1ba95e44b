package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/NishanthMohanan/serveq1/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现 SMTP 邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送邮件。
func (n *EmailNotifier) Send(to, subject, body string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}

// SendOTPCode 发送登录验证码。
func (n *EmailNotifier) SendOTPCode(to, code string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>ServeQ Login Code</h2>
    <p>Your one-time code is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code is valid for 5 minutes.</p>
  </div>
</body>
</html>`, code)
	return n.Send(to, "[ServeQ] Your login code", body)
}

// SendBookingConfirmation 发送预约确认邮件。
func (n *EmailNotifier) SendBookingConfirmation(to, startLabel string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Booking Confirmed</h2>
    <p>Your appointment slot starting at <b>%s</b> is confirmed.</p>
  </div>
</body>
</html>`, startLabel)
	return n.Send(to, "[ServeQ] Booking confirmed", body)
}
