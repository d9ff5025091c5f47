package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")

	cfg, err := LoadFromPath("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr())
	}
	if cfg.Journal.Dir != "/data" {
		t.Fatalf("unexpected journal dir %s", cfg.Journal.Dir)
	}
	if cfg.Journal.File != "overland.ndjson" {
		t.Fatalf("unexpected journal file %s", cfg.Journal.File)
	}
	if cfg.Server.MaxBodyBytes != 10<<20 {
		t.Fatalf("unexpected max body bytes %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Archive.Enabled() || cfg.Cache.Enabled() || cfg.Forward.Enabled() || cfg.Admin.Enabled() {
		t.Fatal("optional subsystems should be disabled by default")
	}
}

func TestLoadRequiresIngestToken(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "")

	_, err := LoadFromPath("", true)
	if err == nil {
		t.Fatal("expected error for missing INGEST_TOKEN")
	}
	if !strings.Contains(err.Error(), "INGEST_TOKEN") {
		t.Fatalf("error should name INGEST_TOKEN, got %v", err)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9100")
	t.Setenv("LOG_DIR", "/tmp/overland")
	t.Setenv("JOURNAL_MAX_BYTES", "1048576")
	t.Setenv("FORWARD_URL", "https://mirror.example.com/api/input")
	t.Setenv("FORWARD_TIMEOUT", "3s")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := LoadFromPath("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9100" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr())
	}
	if cfg.Journal.Dir != "/tmp/overland" {
		t.Fatalf("unexpected journal dir %s", cfg.Journal.Dir)
	}
	if cfg.Journal.MaxBytes != 1<<20 {
		t.Fatalf("unexpected max bytes %d", cfg.Journal.MaxBytes)
	}
	if !cfg.Forward.Enabled() || cfg.Forward.Timeout != 3*time.Second {
		t.Fatalf("forward config not applied: %+v", cfg.Forward)
	}
	if !cfg.Ingest.TrustProxy {
		t.Fatal("TRUST_PROXY not applied")
	}
}

func TestFileOverlayThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
journal:
  dir: /var/overland
  retention_days: 14
rate_limit:
  rps: 50
  burst: 100
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("INGEST_TOKEN", "secret")
	t.Setenv("PORT", "9001")

	cfg, err := LoadFromPath(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("env should override file, got port %d", cfg.Server.Port)
	}
	if cfg.Journal.Dir != "/var/overland" {
		t.Fatalf("file overlay not applied, journal dir %s", cfg.Journal.Dir)
	}
	if cfg.Journal.RetentionDays != 14 {
		t.Fatalf("file overlay not applied, retention %d", cfg.Journal.RetentionDays)
	}
	if cfg.RateLimit.RPS != 50 || cfg.RateLimit.Burst != 100 {
		t.Fatalf("rate limit overlay not applied: %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging overlay not applied: %+v", cfg.Logging)
	}
}

func TestMissingRequiredFileFails(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")

	_, err := LoadFromPath("/nonexistent/overland.yaml", false)
	if err == nil {
		t.Fatal("expected error for missing required config file")
	}
}

func TestPartialAdminConfigRejected(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")
	t.Setenv("ADMIN_USERNAME", "ops")

	_, err := LoadFromPath("", true)
	if err == nil {
		t.Fatal("expected error for partial admin config")
	}
	if !strings.Contains(err.Error(), "ADMIN_JWT_SECRET") {
		t.Fatalf("error should name the missing admin fields, got %v", err)
	}
}

func TestAdminEnabledWhenComplete(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")
	t.Setenv("ADMIN_USERNAME", "ops")
	t.Setenv("ADMIN_JWT_SECRET", "0123456789abcdef")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := LoadFromPath("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Admin.Enabled() {
		t.Fatal("admin should be enabled")
	}
	if cfg.Admin.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.Admin.TokenTTL)
	}
}

func TestCORSOriginsSplit(t *testing.T) {
	c := CORSConfig{AllowedOrigins: "https://a.example.com, https://b.example.com ,"}
	got := c.Origins()
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
	if (CORSConfig{}).Origins() != nil {
		t.Fatal("empty allowlist should yield nil")
	}
}

func TestInvalidForwardURLRejected(t *testing.T) {
	t.Setenv("INGEST_TOKEN", "secret")
	t.Setenv("FORWARD_URL", "://nope")

	_, err := LoadFromPath("", true)
	if err == nil {
		t.Fatal("expected error for invalid FORWARD_URL")
	}
}
