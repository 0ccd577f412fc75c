package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	UpstreamBaseURL    string
	UpstreamTimeoutSec int
	DemoMode           bool

	CertStoragePath     string
	DownloadTokenSecret string
	DownloadTokenTTL    time.Duration
	MaxCertUploadBytes  int64

	EmailSender         string
	EmailRelayURL       string
	EmailRelayServiceID string
	EmailRelayPublicKey string
	EmailTplAdminNotify string
	EmailTplApproval    string
	EmailTplRejection   string
	AdminEmail          string
	EmailRetryAttempts  int
	EmailRetryBase      time.Duration
	EmailAttemptTimeout time.Duration
	SMTPHost            string
	SMTPPort            int
	SMTPFrom            string
	SMTPUser            string
	SMTPPass            string
	SMTPStartTLS        bool

	PasswordHashTimeCost int
	PasswordMinLength    int
	PasswordMaxLength    int
	MaxLoginAttempts     int

	SessionCookieName   string
	SessionIdleMinutes  int
	SessionAbsoluteHour int
	CSRFCookieName      string
	CookieSecure        bool
	TrustProxy          bool
	CORSAllowedOrigins  []string

	DirectoryDBDriver  string
	DirectoryDBDSN     string
	DirectoryTable     string
	DirectoryUserCol   string
	DirectoryPassCol   string
	DirectoryActiveCol string
	DirectoryEmailCol  string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DBPath:                   env("APP_DB_PATH", "./data/app.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		UpstreamBaseURL:          strings.TrimRight(env("UPSTREAM_API_BASE_URL", ""), "/"),
		UpstreamTimeoutSec:       envInt("UPSTREAM_TIMEOUT_SEC", 8),
		DemoMode:                 envBool("DEMO_MODE", false),
		CertStoragePath:          env("CERT_STORAGE_PATH", "./data/certificates"),
		DownloadTokenSecret:      env("DOWNLOAD_TOKEN_SECRET", ""),
		DownloadTokenTTL:         time.Duration(envInt("DOWNLOAD_TOKEN_TTL_MIN", 60)) * time.Minute,
		MaxCertUploadBytes:       int64(envInt("MAX_CERT_UPLOAD_MB", 10)) << 20,
		EmailSender:              strings.ToLower(env("EMAIL_SENDER", "log")),
		EmailRelayURL:            env("EMAIL_RELAY_URL", "https://api.emailjs.com/api/v1.0/email/send"),
		EmailRelayServiceID:      env("EMAIL_RELAY_SERVICE_ID", ""),
		EmailRelayPublicKey:      env("EMAIL_RELAY_PUBLIC_KEY", ""),
		EmailTplAdminNotify:      env("EMAIL_RELAY_TEMPLATE_ADMIN", ""),
		EmailTplApproval:         env("EMAIL_RELAY_TEMPLATE_APPROVAL", ""),
		EmailTplRejection:        env("EMAIL_RELAY_TEMPLATE_REJECTION", ""),
		AdminEmail:               env("ADMIN_EMAIL", ""),
		EmailRetryAttempts:       envInt("EMAIL_RETRY_ATTEMPTS", 3),
		EmailRetryBase:           time.Duration(envInt("EMAIL_RETRY_BASE_MS", 1000)) * time.Millisecond,
		EmailAttemptTimeout:      time.Duration(envInt("EMAIL_TIMEOUT_SEC", 10)) * time.Second,
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPFrom:                 env("SMTP_FROM", "noreply@example.com"),
		SMTPUser:                 env("SMTP_USER", ""),
		SMTPPass:                 env("SMTP_PASS", ""),
		SMTPStartTLS:             envBool("SMTP_STARTTLS", true),
		PasswordHashTimeCost:     envInt("PASSWORD_HASH_TIME_COST", 2),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 8),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		MaxLoginAttempts:         envInt("MAX_LOGIN_ATTEMPTS", 6),
		SessionCookieName:        env("SESSION_COOKIE_NAME", "memberportal_session"),
		SessionIdleMinutes:       envInt("SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHour:      envInt("SESSION_ABSOLUTE_HOURS", 24),
		CSRFCookieName:           env("CSRF_COOKIE_NAME", "memberportal_csrf"),
		CookieSecure:             envBool("COOKIE_SECURE", false),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		DirectoryDBDriver:        env("DIRECTORY_DB_DRIVER", ""),
		DirectoryDBDSN:           env("DIRECTORY_DB_DSN", ""),
		DirectoryTable:           env("DIRECTORY_TABLE", "members"),
		DirectoryUserCol:         env("DIRECTORY_USER_COL", "username"),
		DirectoryPassCol:         env("DIRECTORY_PASS_COL", "password_hash"),
		DirectoryActiveCol:       env("DIRECTORY_ACTIVE_COL", "active"),
		DirectoryEmailCol:        env("DIRECTORY_EMAIL_COL", "email"),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHour <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.PasswordMinLength < 8 {
		return Config{}, fmt.Errorf("password min length must be >= 8")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if cfg.PasswordHashTimeCost < 1 || cfg.PasswordHashTimeCost > 10 {
		return Config{}, fmt.Errorf("PASSWORD_HASH_TIME_COST must be between 1 and 10")
	}
	if cfg.MaxLoginAttempts < 3 {
		return Config{}, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be >= 3")
	}
	if cfg.EmailRetryAttempts < 1 {
		return Config{}, fmt.Errorf("EMAIL_RETRY_ATTEMPTS must be >= 1")
	}
	switch cfg.EmailSender {
	case "relay":
		if cfg.EmailRelayServiceID == "" || cfg.EmailRelayPublicKey == "" {
			return Config{}, fmt.Errorf("EMAIL_RELAY_SERVICE_ID and EMAIL_RELAY_PUBLIC_KEY are required when EMAIL_SENDER=relay")
		}
	case "smtp":
		if cfg.SMTPPort <= 0 {
			return Config{}, fmt.Errorf("invalid SMTP port")
		}
	case "log":
	default:
		return Config{}, fmt.Errorf("EMAIL_SENDER must be one of: relay, smtp, log")
	}
	switch cfg.DirectoryDBDriver {
	case "", "mysql", "pgx":
	default:
		return Config{}, fmt.Errorf("DIRECTORY_DB_DRIVER must be one of: mysql, pgx")
	}
	if cfg.DownloadTokenSecret != "" && len(cfg.DownloadTokenSecret) < 24 {
		return Config{}, fmt.Errorf("DOWNLOAD_TOKEN_SECRET must be at least 24 characters")
	}
	return cfg, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSec) * time.Second
}

// ResolveCookieSecure decides the Secure cookie attribute per request:
// an explicit COOKIE_SECURE=true always wins, otherwise TLS on the
// connection or a trusted X-Forwarded-Proto: https header.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	if c.CookieSecure {
		return true
	}
	if r.TLS != nil {
		return true
	}
	if c.TrustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return false
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
