package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"chatflow-access-api/internal/access"
	"chatflow-access-api/internal/archive"
	"chatflow-access-api/internal/provisioning"

	"github.com/caarlos0/env/v11"
)

const minSecretBytes = 32

// Config holds all application configuration
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Redis
	RedisURL string `env:"REDIS_URL,required"`

	// Session tokens
	JWTHS256Secret      string `env:"JWT_HS256_SECRET,required"` // Base64-encoded HMAC secret
	JWTKeyID            string `env:"JWT_KEY_ID" envDefault:"v1"`
	JWTLegacyIssuers    string `env:"JWT_LEGACY_ISSUERS"` // CSV allow-list for the legacy token shape
	JWTClockSkewSeconds int    `env:"JWT_CLOCK_SKEW_SECONDS" envDefault:"60"`
	SessionCookieName   string `env:"SESSION_COOKIE_NAME" envDefault:"session_token"`

	// Access resolution
	PermissionFailMode string `env:"PERMISSION_FAIL_MODE" envDefault:"open"`
	FanoutConcurrency  int    `env:"FANOUT_CONCURRENCY" envDefault:"4"`

	// Bulk provisioning
	BatchCommitMode     string `env:"BATCH_COMMIT_MODE" envDefault:"best_effort"`
	BatchMaxUploadBytes int64  `env:"BATCH_MAX_UPLOAD_BYTES" envDefault:"5242880"`

	// Admin surface
	EnforceCourseRestriction bool `env:"ENFORCE_COURSE_RESTRICTION" envDefault:"false"`
	RateLimitPerAdminPerMin  int  `env:"RATE_LIMIT_PER_ADMIN_PER_MIN" envDefault:"120"`

	// Upload archive; disabled when the bucket is empty
	Archive archive.Config `envPrefix:"ARCHIVE_S3_"`

	// OpenTelemetry
	OTELEnabled          bool    `env:"OTEL_ENABLED" envDefault:"true"`
	OTELExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"chatflow-access-api"`
	OTELSamplingRatio    float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"0.1"`

	// Server
	Port         string `env:"PORT" envDefault:"3002"`
	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	MetricsToken string `env:"METRICS_TOKEN"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// Maintenance
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs custom validation on the configuration
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	secret, err := c.HS256Secret()
	if err != nil {
		return err
	}
	if len(secret) < minSecretBytes {
		return fmt.Errorf("JWT_HS256_SECRET must decode to at least %d bytes", minSecretBytes)
	}

	if strings.TrimSpace(c.JWTKeyID) == "" {
		return fmt.Errorf("JWT_KEY_ID must not be empty")
	}

	if c.JWTClockSkewSeconds < 0 {
		return fmt.Errorf("JWT_CLOCK_SKEW_SECONDS must be non-negative")
	}

	if !access.FailMode(c.PermissionFailMode).IsValid() {
		return fmt.Errorf("PERMISSION_FAIL_MODE must be open or closed")
	}

	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("FANOUT_CONCURRENCY must be positive")
	}

	if !provisioning.CommitMode(c.BatchCommitMode).IsValid() {
		return fmt.Errorf("BATCH_COMMIT_MODE must be best_effort or atomic")
	}

	if c.BatchMaxUploadBytes <= 0 {
		return fmt.Errorf("BATCH_MAX_UPLOAD_BYTES must be positive")
	}

	if c.RateLimitPerAdminPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_ADMIN_PER_MIN must be positive")
	}

	if c.Archive.Enabled() && c.Archive.Region == "" {
		return fmt.Errorf("ARCHIVE_S3_REGION is required when ARCHIVE_S3_BUCKET is set")
	}

	if c.OTELSamplingRatio < 0 || c.OTELSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be between 0 and 1")
	}

	return nil
}

// HS256Secret decodes JWT_HS256_SECRET.
func (c *Config) HS256Secret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.JWTHS256Secret))
	if err != nil {
		return nil, fmt.Errorf("JWT_HS256_SECRET must be valid base64: %w", err)
	}
	return secret, nil
}

// GetLegacyIssuers returns the issuers accepted for the legacy token shape
func (c *Config) GetLegacyIssuers() []string {
	issuers := strings.Split(c.JWTLegacyIssuers, ",")
	result := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		trimmed := strings.TrimSpace(issuer)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ClockSkew is the tolerated token clock drift.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.JWTClockSkewSeconds) * time.Second
}

// AccessConfig is the resolver configuration.
func (c *Config) AccessConfig() access.Config {
	return access.Config{
		FailMode:          access.FailMode(c.PermissionFailMode),
		FanoutConcurrency: c.FanoutConcurrency,
	}
}

// TelemetryEnabled reports whether OTLP exporters should be started.
func (c *Config) TelemetryEnabled() bool {
	return c.OTELEnabled && c.OTELExporterEndpoint != ""
}

// IsDev reports whether development-only endpoints are enabled.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev" || c.AppEnv == "development"
}
