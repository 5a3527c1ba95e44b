package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Booking  BookingConfig  `json:"booking"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string `json:"env"`       // 运行环境: local / prod
	LogLevel string `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // API 服务监听地址
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
}

// WorkingHoursConfig 营业时间配置，决定一天的槽位网格。
type WorkingHoursConfig struct {
	Start           string `json:"start"`            // "HH:MM"
	End             string `json:"end"`              // "HH:MM"
	IntervalMinutes int    `json:"interval_minutes"` // 槽位步长（分钟）
}

// BookingConfig 预约业务配置。
type BookingConfig struct {
	Timezone       string             `json:"timezone"` // 固定业务时区（IANA 名称）
	WorkingHours   WorkingHoursConfig `json:"working_hours"`
	OTPValidity    time.Duration      `json:"otp_validity"`     // OTP 有效期（如 "5m"）
	ReminderWindow time.Duration      `json:"reminder_window"`  // 赴约前提醒窗口（如 "10m"）
	ResendCooldown time.Duration      `json:"resend_cooldown"`  // 同一邮箱重发验证码冷却
	LoginRateLimit float64            `json:"login_rate_limit"` // /login 限流速率（token/s）
	LoginRateBurst float64            `json:"login_rate_burst"` // /login 限流桶容量
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 环境变量始终可以覆盖文件里的值。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "info",
			HTTPAddr: ":8080",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/serveq?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
		Booking: BookingConfig{
			Timezone: "Asia/Kolkata",
			WorkingHours: WorkingHoursConfig{
				Start:           "09:00",
				End:             "17:00",
				IntervalMinutes: 30,
			},
			OTPValidity:    5 * time.Minute,
			ReminderWindow: 10 * time.Minute,
			ResendCooldown: 60 * time.Second,
			LoginRateLimit: 3,
			LoginRateBurst: 5,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Booking.Timezone == "" {
		cfg.Booking.Timezone = defaults.Booking.Timezone
	}
	if cfg.Booking.WorkingHours.Start == "" {
		cfg.Booking.WorkingHours.Start = defaults.Booking.WorkingHours.Start
	}
	if cfg.Booking.WorkingHours.End == "" {
		cfg.Booking.WorkingHours.End = defaults.Booking.WorkingHours.End
	}
	if cfg.Booking.WorkingHours.IntervalMinutes == 0 {
		cfg.Booking.WorkingHours.IntervalMinutes = defaults.Booking.WorkingHours.IntervalMinutes
	}
	if cfg.Booking.OTPValidity == 0 {
		cfg.Booking.OTPValidity = defaults.Booking.OTPValidity
	}
	if cfg.Booking.ReminderWindow == 0 {
		cfg.Booking.ReminderWindow = defaults.Booking.ReminderWindow
	}
	if cfg.Booking.ResendCooldown == 0 {
		cfg.Booking.ResendCooldown = defaults.Booking.ResendCooldown
	}
	if cfg.Booking.LoginRateLimit == 0 {
		cfg.Booking.LoginRateLimit = defaults.Booking.LoginRateLimit
	}
	if cfg.Booking.LoginRateBurst == 0 {
		cfg.Booking.LoginRateBurst = defaults.Booking.LoginRateBurst
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := "3306"
			if p := os.Getenv("DB_PORT"); p != "" {
				port = p
			}
			parsed.Addr = v + ":" + port
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("BOOKING_TIMEZONE"); v != "" {
		cfg.Booking.Timezone = v
	}
	if v := os.Getenv("BOOKING_WORKING_HOURS_START"); v != "" {
		cfg.Booking.WorkingHours.Start = v
	}
	if v := os.Getenv("BOOKING_WORKING_HOURS_END"); v != "" {
		cfg.Booking.WorkingHours.End = v
	}
	if v := os.Getenv("BOOKING_SLOT_INTERVAL_MINUTES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Booking.WorkingHours.IntervalMinutes = i
		}
	}
	if v := os.Getenv("BOOKING_OTP_VALIDITY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Booking.OTPValidity = d
		}
	}
	if v := os.Getenv("BOOKING_REMINDER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Booking.ReminderWindow = d
		}
	}
	if v := os.Getenv("BOOKING_RESEND_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Booking.ResendCooldown = d
		}
	}
	if v := os.Getenv("BOOKING_LOGIN_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Booking.LoginRateLimit = f
		}
	}
	if v := os.Getenv("BOOKING_LOGIN_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Booking.LoginRateBurst = f
		}
	}
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "serveq",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串（如 "5m"、"60s"）。
func (b *BookingConfig) UnmarshalJSON(data []byte) error {
	type Alias BookingConfig
	aux := &struct {
		OTPValidity    string `json:"otp_validity"`
		ReminderWindow string `json:"reminder_window"`
		ResendCooldown string `json:"resend_cooldown"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.OTPValidity != "" {
		d, err := time.ParseDuration(aux.OTPValidity)
		if err != nil {
			return fmt.Errorf("invalid otp_validity format: %w", err)
		}
		b.OTPValidity = d
	}
	if aux.ReminderWindow != "" {
		d, err := time.ParseDuration(aux.ReminderWindow)
		if err != nil {
			return fmt.Errorf("invalid reminder_window format: %w", err)
		}
		b.ReminderWindow = d
	}
	if aux.ResendCooldown != "" {
		d, err := time.ParseDuration(aux.ResendCooldown)
		if err != nil {
			return fmt.Errorf("invalid resend_cooldown format: %w", err)
		}
		b.ResendCooldown = d
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (b BookingConfig) MarshalJSON() ([]byte, error) {
	type Alias BookingConfig
	return json.Marshal(&struct {
		OTPValidity    string `json:"otp_validity"`
		ReminderWindow string `json:"reminder_window"`
		ResendCooldown string `json:"resend_cooldown"`
		*Alias
	}{
		OTPValidity:    b.OTPValidity.String(),
		ReminderWindow: b.ReminderWindow.String(),
		ResendCooldown: b.ResendCooldown.String(),
		Alias:          (*Alias)(&b),
	})
}
