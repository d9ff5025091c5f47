// Package config assembles the overlandd runtime configuration. Values are
// resolved once at process start: code defaults, then an optional YAML file,
// then environment variables. The environment always wins so container
// deployments can override anything without a rebuild of the config file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the TCP port the container image declares via EXPOSE.
const DefaultPort = 8000

// DefaultJournalDir matches the LOG_DIR baked into the image.
const DefaultJournalDir = "/data"

// Config is the complete, immutable runtime configuration.
type Config struct {
	Server    ServerConfig
	Ingest    IngestConfig
	Journal   JournalConfig
	Archive   ArchiveConfig
	Cache     CacheConfig
	Forward   ForwardConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"HOST"`
	Port            int           `env:"PORT"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IngestConfig carries the upload authentication contract.
type IngestConfig struct {
	// Token is the shared secret the Overland app sends as ?token=...
	Token string `env:"INGEST_TOKEN"`
	// AuthSecret, when set, must appear within the Authorization header.
	AuthSecret string `env:"AUTH_SECRET"`
	// TrustProxy makes the first X-Forwarded-For hop the recorded client IP.
	TrustProxy bool `env:"TRUST_PROXY"`
}

// JournalConfig locates and bounds the NDJSON journal.
type JournalConfig struct {
	Dir           string `env:"LOG_DIR"`
	File          string `env:"JOURNAL_FILE"`
	MaxBytes      int64  `env:"JOURNAL_MAX_BYTES"`
	RetentionDays int    `env:"JOURNAL_RETENTION_DAYS"`
	// RetentionSchedule is a cron expression for the retention sweeper.
	RetentionSchedule string `env:"RETENTION_SCHEDULE"`
}

// ArchiveConfig enables the optional Postgres batch archive.
type ArchiveConfig struct {
	DSN             string        `env:"ARCHIVE_DSN"`
	MaxOpenConns    int           `env:"ARCHIVE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"ARCHIVE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"ARCHIVE_CONN_MAX_LIFETIME"`
}

// Enabled reports whether an archive DSN was configured.
func (a ArchiveConfig) Enabled() bool { return strings.TrimSpace(a.DSN) != "" }

// CacheConfig enables the optional Redis last-fix cache.
type CacheConfig struct {
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	FixTTL        time.Duration `env:"REDIS_FIX_TTL"`
}

// Enabled reports whether a Redis address was configured.
func (c CacheConfig) Enabled() bool { return strings.TrimSpace(c.RedisAddr) != "" }

// ForwardConfig enables mirroring accepted payloads downstream.
type ForwardConfig struct {
	URL        string        `env:"FORWARD_URL"`
	Token      string        `env:"FORWARD_TOKEN"`
	Timeout    time.Duration `env:"FORWARD_TIMEOUT"`
	QueueSize  int           `env:"FORWARD_QUEUE"`
	MaxRetries int           `env:"FORWARD_MAX_RETRIES"`
}

// Enabled reports whether a forward URL was configured.
func (f ForwardConfig) Enabled() bool { return strings.TrimSpace(f.URL) != "" }

// AdminConfig guards the operator API. All three credential fields must be
// present for the admin surface to exist at all.
type AdminConfig struct {
	JWTSecret    string        `env:"ADMIN_JWT_SECRET"`
	Username     string        `env:"ADMIN_USERNAME"`
	PasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	TokenTTL     time.Duration `env:"ADMIN_TOKEN_TTL"`
}

// Enabled reports whether the admin surface is fully configured.
func (a AdminConfig) Enabled() bool {
	return a.JWTSecret != "" && a.Username != "" && a.PasswordHash != ""
}

// RateLimitConfig bounds request rates per client IP. RPS of zero disables.
type RateLimitConfig struct {
	RPS   int `env:"RATE_LIMIT_RPS"`
	Burst int `env:"RATE_LIMIT_BURST"`
}

// Enabled reports whether rate limiting is on.
func (r RateLimitConfig) Enabled() bool { return r.RPS > 0 }

// CORSConfig carries the comma-separated origin allowlist.
type CORSConfig struct {
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits the allowlist into trimmed entries.
func (c CORSConfig) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Format     string `env:"LOG_FORMAT"`
	Output     string `env:"LOG_OUTPUT"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

// Load resolves the configuration: defaults, optional YAML file (path from
// CONFIG_FILE, falling back to ./config.yaml when present), then environment.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	optional := false
	if path == "" {
		path = "config.yaml"
		optional = true
	}
	return LoadFromPath(path, optional)
}

// LoadFromPath resolves configuration with an explicit file path. When
// optional is true a missing file is not an error.
func LoadFromPath(path string, optional bool) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var overlay fileOverlay
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
			overlay.apply(&cfg)
		case os.IsNotExist(err) && optional:
			// no file, defaults + env only
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Journal: JournalConfig{
			Dir:               DefaultJournalDir,
			File:              "overland.ndjson",
			RetentionSchedule: "@hourly",
		},
		Forward: ForwardConfig{
			Timeout:    10 * time.Second,
			QueueSize:  256,
			MaxRetries: 2,
		},
		Admin: AdminConfig{
			TokenTTL: 24 * time.Hour,
		},
		Cache: CacheConfig{},
		RateLimit: RateLimitConfig{
			Burst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate enforces the startup contract. Any violation aborts the process
// before a listener is opened.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Ingest.Token) == "" {
		return fmt.Errorf("INGEST_TOKEN is required")
	}
	if strings.TrimSpace(c.Journal.Dir) == "" {
		return fmt.Errorf("LOG_DIR must not be empty")
	}
	if strings.TrimSpace(c.Journal.File) == "" {
		return fmt.Errorf("JOURNAL_FILE must not be empty")
	}
	if c.Journal.MaxBytes < 0 {
		return fmt.Errorf("JOURNAL_MAX_BYTES must not be negative")
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("JOURNAL_RETENTION_DAYS must not be negative")
	}
	if c.Forward.Enabled() {
		if _, err := url.ParseRequestURI(c.Forward.URL); err != nil {
			return fmt.Errorf("FORWARD_URL invalid: %w", err)
		}
	}
	if partialAdmin(c.Admin) {
		return fmt.Errorf("admin API requires ADMIN_JWT_SECRET, ADMIN_USERNAME and ADMIN_PASSWORD_HASH together")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func partialAdmin(a AdminConfig) bool {
	set := 0
	for _, v := range []string{a.JWTSecret, a.Username, a.PasswordHash} {
		if v != "" {
			set++
		}
	}
	return set > 0 && set < 3
}

// fileOverlay is the YAML schema of the optional config file. Pointer fields
// distinguish "absent" from zero values; anything absent keeps its default.
// Secrets and durations stay environment-only on purpose.
type fileOverlay struct {
	Server struct {
		Host         *string `yaml:"host"`
		Port         *int    `yaml:"port"`
		MaxBodyBytes *int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`
	Journal struct {
		Dir               *string `yaml:"dir"`
		File              *string `yaml:"file"`
		MaxBytes          *int64  `yaml:"max_bytes"`
		RetentionDays     *int    `yaml:"retention_days"`
		RetentionSchedule *string `yaml:"retention_schedule"`
	} `yaml:"journal"`
	RateLimit struct {
		RPS   *int `yaml:"rps"`
		Burst *int `yaml:"burst"`
	} `yaml:"rate_limit"`
	CORS struct {
		AllowedOrigins *string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Logging struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
		Output *string `yaml:"output"`
	} `yaml:"logging"`
}

func (f *fileOverlay) apply(cfg *Config) {
	setString(&cfg.Server.Host, f.Server.Host)
	setInt(&cfg.Server.Port, f.Server.Port)
	setInt64(&cfg.Server.MaxBodyBytes, f.Server.MaxBodyBytes)
	setString(&cfg.Journal.Dir, f.Journal.Dir)
	setString(&cfg.Journal.File, f.Journal.File)
	setInt64(&cfg.Journal.MaxBytes, f.Journal.MaxBytes)
	setInt(&cfg.Journal.RetentionDays, f.Journal.RetentionDays)
	setString(&cfg.Journal.RetentionSchedule, f.Journal.RetentionSchedule)
	setInt(&cfg.RateLimit.RPS, f.RateLimit.RPS)
	setInt(&cfg.RateLimit.Burst, f.RateLimit.Burst)
	setString(&cfg.CORS.AllowedOrigins, f.CORS.AllowedOrigins)
	setString(&cfg.Logging.Level, f.Logging.Level)
	setString(&cfg.Logging.Format, f.Logging.Format)
	setString(&cfg.Logging.Output, f.Logging.Output)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}
