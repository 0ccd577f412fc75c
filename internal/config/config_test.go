package config

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EmailSender != "log" {
		t.Fatalf("expected log sender by default, got %q", cfg.EmailSender)
	}
	if cfg.SessionIdleDuration() != 30*time.Minute {
		t.Fatalf("unexpected idle duration %v", cfg.SessionIdleDuration())
	}
	if cfg.SessionAbsoluteDuration() != 24*time.Hour {
		t.Fatalf("unexpected absolute duration %v", cfg.SessionAbsoluteDuration())
	}
	if cfg.MaxCertUploadBytes != 10<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxCertUploadBytes)
	}
}

func TestLoadStripsTrailingSlashFromUpstream(t *testing.T) {
	t.Setenv("UPSTREAM_API_BASE_URL", "https://backend.example.com/api/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UpstreamBaseURL != "https://backend.example.com/api" {
		t.Fatalf("expected trailing slash stripped, got %q", cfg.UpstreamBaseURL)
	}
}

func TestLoadPasswordBounds(t *testing.T) {
	t.Setenv("PASSWORD_MIN_LENGTH", "16")
	t.Setenv("PASSWORD_MAX_LENGTH", "12")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for invalid password bounds")
	}
}

func TestLoadRejectsWeakMinLength(t *testing.T) {
	t.Setenv("PASSWORD_MIN_LENGTH", "4")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for min length below 8")
	}
}

func TestLoadRejectsUnknownEmailSender(t *testing.T) {
	t.Setenv("EMAIL_SENDER", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for unknown EMAIL_SENDER")
	}
}

func TestLoadRelaySenderRequiresCredentials(t *testing.T) {
	t.Setenv("EMAIL_SENDER", "relay")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without relay credentials")
	}

	t.Setenv("EMAIL_RELAY_SERVICE_ID", "service_x")
	t.Setenv("EMAIL_RELAY_PUBLIC_KEY", "pk_x")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with relay credentials: %v", err)
	}
}

func TestLoadRejectsShortDownloadSecret(t *testing.T) {
	t.Setenv("DOWNLOAD_TOKEN_SECRET", "too-short")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for short DOWNLOAD_TOKEN_SECRET")
	}
}

func TestLoadRejectsUnknownDirectoryDriver(t *testing.T) {
	t.Setenv("DIRECTORY_DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for unsupported DIRECTORY_DB_DRIVER")
	}
}

func TestResolveCookieSecure(t *testing.T) {
	plain := httptest.NewRequest("GET", "http://example.com/", nil)
	forwarded := httptest.NewRequest("GET", "http://example.com/", nil)
	forwarded.Header.Set("X-Forwarded-Proto", "https")

	cfg := Config{}
	if cfg.ResolveCookieSecure(plain) {
		t.Fatalf("plain http request must not be secure")
	}
	if cfg.ResolveCookieSecure(forwarded) {
		t.Fatalf("forwarded proto must be ignored without TRUST_PROXY")
	}

	cfg.TrustProxy = true
	if !cfg.ResolveCookieSecure(forwarded) {
		t.Fatalf("trusted https forward must be secure")
	}
	if cfg.ResolveCookieSecure(plain) {
		t.Fatalf("trusted proxy without https forward must stay insecure")
	}

	cfg = Config{CookieSecure: true}
	if !cfg.ResolveCookieSecure(plain) {
		t.Fatalf("explicit COOKIE_SECURE must win")
	}
}
