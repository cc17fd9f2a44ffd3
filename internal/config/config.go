package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/spf13/viper"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数名。
const ConfigFileEnv = "AYURLEAF_CONFIG"

// Config はアプリケーション全体の設定を保持する。
// 環境変数（および任意のYAMLファイル）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string
	BaseURL    string

	// Database（空ならプロセス内メモリにセッションを保持する）
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session
	SessionMaxAge        int // 秒
	SessionSweepInterval time.Duration
	SessionRetention     time.Duration
	CleanupInterval      time.Duration

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral int // req/min
	ChatCooldown     time.Duration

	// OTP
	OTPRandomSource   string // crypto | math
	OTPDelivery       string // log | smtp
	OTPQueueSize      int
	PreferDisplayName bool

	// SMTP
	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SMTPTimeout  time.Duration // 接続からQUITまでの上限
	// OTPDrainTimeout はシャットダウン時に未配送のコードを送り切るまで待つ上限。
	OTPDrainTimeout time.Duration

	// Plant identification
	IdentifyDelay  time.Duration
	UploadMaxBytes int64

	// Gemini
	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string
	GeminiTimeout  time.Duration

	// Logging
	LogLevel string
}

// setDefaults はviperにデフォルト値を登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_open_conns", 10)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_max_lifetime", "30m")
	v.SetDefault("session_max_age", 86400)
	v.SetDefault("session_sweep_interval", "10m")
	v.SetDefault("session_retention", "1h")
	v.SetDefault("cleanup_interval", "1h")
	v.SetDefault("cookie_domain", "")
	v.SetDefault("cors_allowed_origin", "http://localhost:3000")
	v.SetDefault("rate_limit_general", 120)
	v.SetDefault("chat_cooldown", "2s")
	v.SetDefault("otp_random_source", "crypto")
	v.SetDefault("otp_delivery", "log")
	v.SetDefault("otp_queue_size", 64)
	v.SetDefault("prefer_display_name", false)
	v.SetDefault("smtp_addr", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_timeout", "10s")
	v.SetDefault("otp_drain_timeout", "15s")
	v.SetDefault("identify_delay", "2s")
	v.SetDefault("upload_max_bytes", 10<<20)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("gemini_endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini_timeout", "30s")
	v.SetDefault("log_level", "info")
}

// Load は環境変数と任意の設定ファイルからConfigを読み込む。
// configFileが空の場合はAYURLEAF_CONFIGを参照し、それも空なら環境変数のみを使う。
// 環境変数は設定ファイルの値より優先される。
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ServerPort:           v.GetString("server_port"),
		BaseURL:              v.GetString("base_url"),
		DatabaseURL:          v.GetString("database_url"),
		DBMaxOpenConns:       v.GetInt("db_max_open_conns"),
		DBMaxIdleConns:       v.GetInt("db_max_idle_conns"),
		DBConnMaxLifetime:    v.GetDuration("db_conn_max_lifetime"),
		SessionMaxAge:        v.GetInt("session_max_age"),
		SessionSweepInterval: v.GetDuration("session_sweep_interval"),
		SessionRetention:     v.GetDuration("session_retention"),
		CleanupInterval:      v.GetDuration("cleanup_interval"),
		CookieDomain:         v.GetString("cookie_domain"),
		CORSAllowedOrigin:    v.GetString("cors_allowed_origin"),
		RateLimitGeneral:     v.GetInt("rate_limit_general"),
		ChatCooldown:         v.GetDuration("chat_cooldown"),
		OTPRandomSource:      strings.ToLower(v.GetString("otp_random_source")),
		OTPDelivery:          strings.ToLower(v.GetString("otp_delivery")),
		OTPQueueSize:         v.GetInt("otp_queue_size"),
		PreferDisplayName:    v.GetBool("prefer_display_name"),
		SMTPAddr:             v.GetString("smtp_addr"),
		SMTPFrom:             v.GetString("smtp_from"),
		SMTPUsername:         v.GetString("smtp_username"),
		SMTPPassword:         v.GetString("smtp_password"),
		SMTPTimeout:          v.GetDuration("smtp_timeout"),
		OTPDrainTimeout:      v.GetDuration("otp_drain_timeout"),
		IdentifyDelay:        v.GetDuration("identify_delay"),
		UploadMaxBytes:       v.GetInt64("upload_max_bytes"),
		GeminiAPIKey:         v.GetString("gemini_api_key"),
		GeminiModel:          v.GetString("gemini_model"),
		GeminiEndpoint:       v.GetString("gemini_endpoint"),
		GeminiTimeout:        v.GetDuration("gemini_timeout"),
		LogLevel:             v.GetString("log_level"),
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	smtpRules := []validation.Rule{}
	if c.OTPDelivery == "smtp" {
		smtpRules = append(smtpRules, validation.Required.Error("is required when OTP_DELIVERY=smtp"))
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.ServerPort, validation.Required),
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.DBMaxOpenConns, validation.By(positiveInt)),
		validation.Field(&c.DBMaxIdleConns, validation.Min(0)),
		validation.Field(&c.DBConnMaxLifetime, validation.By(positiveDuration)),
		validation.Field(&c.SessionMaxAge, validation.By(positiveInt)),
		validation.Field(&c.RateLimitGeneral, validation.By(positiveInt)),
		validation.Field(&c.OTPRandomSource, validation.In("crypto", "math")),
		validation.Field(&c.OTPDelivery, validation.In("log", "smtp")),
		validation.Field(&c.SMTPAddr, smtpRules...),
		validation.Field(&c.SMTPFrom, smtpRules...),
		validation.Field(&c.SMTPTimeout, validation.By(positiveDuration)),
		validation.Field(&c.OTPDrainTimeout, validation.By(positiveDuration)),
		validation.Field(&c.UploadMaxBytes, validation.By(positiveInt64)),
		validation.Field(&c.GeminiModel, validation.Required),
		validation.Field(&c.GeminiEndpoint, validation.Required),
	)
}

func positiveInt(value interface{}) error {
	if n, ok := value.(int); ok && n <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func positiveInt64(value interface{}) error {
	if n, ok := value.(int64); ok && n <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func positiveDuration(value interface{}) error {
	if d, ok := value.(time.Duration); ok && d <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}
