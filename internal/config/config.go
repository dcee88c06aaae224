package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/macjediwizard/coursesync/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	OIDC         OIDCConfig
	Google       GoogleConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	RateLimiting RateLimitConfig
	Sync         SyncConfig
	Alerts       AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int
	BaseURL        string
	Environment    Environment
	AllowedOrigins []string
}

// OIDCConfig holds OIDC login configuration.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleConfig holds the OAuth client used to refresh calendar tokens.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey     string // Hex encoded, validated to 32 bytes
	SessionSecret     string
	SessionMaxAgeSecs int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// RateLimitConfig holds inbound HTTP rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SyncConfig holds sync engine and scheduler configuration.
type SyncConfig struct {
	Schedule       string // Cron expression
	Cooldown       time.Duration
	CallInterval   time.Duration
	Location       *time.Location
	RequirePremium bool
}

// AlertConfig holds webhook and email alert configuration.
type AlertConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	EmailEnabled    bool
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPTo          []string
	SMTPTLS         bool
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// Server configuration
	if cfg.Server.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.BaseURL = getEnvRequired("BASE_URL")
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))
	cfg.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS")

	// OIDC configuration
	cfg.OIDC.Issuer = getEnvRequired("OIDC_ISSUER")
	cfg.OIDC.ClientID = getEnvRequired("OIDC_CLIENT_ID")
	cfg.OIDC.ClientSecret = getEnvRequired("OIDC_CLIENT_SECRET")
	cfg.OIDC.RedirectURL = getEnvRequired("OIDC_REDIRECT_URL")

	// Google OAuth client
	cfg.Google.ClientID = getEnvRequired("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = getEnvRequired("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getEnv("GOOGLE_REDIRECT_URL", "")

	// Security configuration
	cfg.Security.EncryptionKey = getEnvRequired("ENCRYPTION_KEY")
	if cfg.Security.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(key) != 32 {
			return nil, ErrEncryptionKeySize
		}
	}

	cfg.Security.SessionSecret = getEnvRequired("SESSION_SECRET")
	if cfg.Security.SessionSecret != "" && len(cfg.Security.SessionSecret) < 32 {
		return nil, ErrSessionSecretSize
	}
	if cfg.Security.SessionMaxAgeSecs, err = getEnvInt("SESSION_MAX_AGE_SECS", 7*24*60*60); err != nil {
		return nil, fmt.Errorf("%w: SESSION_MAX_AGE_SECS: %w", ErrInvalidConfig, err)
	}

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/coursesync.db")

	// Rate limiting configuration
	if cfg.RateLimiting.RPS, err = getEnvFloat("RATE_LIMIT_RPS", 10.0); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	if cfg.RateLimiting.Burst, err = getEnvInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}

	// Sync configuration
	cfg.Sync.Schedule = getEnv("SYNC_SCHEDULE", "*/30 * * * *")
	if _, err := cron.ParseStandard(cfg.Sync.Schedule); err != nil {
		return nil, fmt.Errorf("%w: SYNC_SCHEDULE: %w", ErrInvalidConfig, err)
	}

	cooldownSecs, err := getEnvInt("SYNC_COOLDOWN_SECONDS", 30)
	if err != nil || cooldownSecs < 1 {
		return nil, fmt.Errorf("%w: SYNC_COOLDOWN_SECONDS must be a positive integer", ErrInvalidConfig)
	}
	cfg.Sync.Cooldown = time.Duration(cooldownSecs) * time.Second

	intervalMs, err := getEnvInt("CALENDAR_CALL_INTERVAL_MS", 150)
	if err != nil || intervalMs < 1 {
		return nil, fmt.Errorf("%w: CALENDAR_CALL_INTERVAL_MS must be a positive integer", ErrInvalidConfig)
	}
	cfg.Sync.CallInterval = time.Duration(intervalMs) * time.Millisecond

	if cfg.Sync.Location, err = time.LoadLocation(getEnv("TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.RequirePremium, err = getEnvBool("REQUIRE_PREMIUM", true); err != nil {
		return nil, fmt.Errorf("%w: REQUIRE_PREMIUM: %w", ErrInvalidConfig, err)
	}

	if err := cfg.loadAlerts(); err != nil {
		return nil, err
	}

	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

func (c *Config) loadAlerts() error {
	var err error
	a := &c.Alerts

	if a.WebhookEnabled, err = getEnvBool("ALERT_WEBHOOK_ENABLED", false); err != nil {
		return fmt.Errorf("%w: ALERT_WEBHOOK_ENABLED: %w", ErrInvalidConfig, err)
	}
	a.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	if a.EmailEnabled, err = getEnvBool("ALERT_EMAIL_ENABLED", false); err != nil {
		return fmt.Errorf("%w: ALERT_EMAIL_ENABLED: %w", ErrInvalidConfig, err)
	}
	a.SMTPHost = getEnv("SMTP_HOST", "")
	if a.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		return fmt.Errorf("%w: SMTP_PORT: %w", ErrInvalidConfig, err)
	}
	a.SMTPUsername = getEnv("SMTP_USERNAME", "")
	a.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	a.SMTPFrom = getEnv("SMTP_FROM", "")
	a.SMTPTo = getEnvList("SMTP_TO")
	if a.SMTPTLS, err = getEnvBool("SMTP_TLS", false); err != nil {
		return fmt.Errorf("%w: SMTP_TLS: %w", ErrInvalidConfig, err)
	}

	if a.CooldownMinutes, err = getEnvInt("ALERT_COOLDOWN_MINUTES", 60); err != nil {
		return fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	return nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	required := []struct {
		key   string
		value string
	}{
		{"BASE_URL", c.Server.BaseURL},
		{"OIDC_ISSUER", c.OIDC.Issuer},
		{"OIDC_CLIENT_ID", c.OIDC.ClientID},
		{"OIDC_CLIENT_SECRET", c.OIDC.ClientSecret},
		{"OIDC_REDIRECT_URL", c.OIDC.RedirectURL},
		{"GOOGLE_CLIENT_ID", c.Google.ClientID},
		{"GOOGLE_CLIENT_SECRET", c.Google.ClientSecret},
		{"ENCRYPTION_KEY", c.Security.EncryptionKey},
		{"SESSION_SECRET", c.Security.SessionSecret},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}

	return missing
}

// Validate checks URL formats and that the OIDC issuer is reachable.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()

	if err := v.ValidateURL(c.Server.BaseURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: BASE_URL: %w", ErrValidationFailed, err)
	}

	if err := v.ValidateURL(c.OIDC.RedirectURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: OIDC_REDIRECT_URL: %w", ErrValidationFailed, err)
	}

	if c.Google.RedirectURL != "" {
		if err := v.ValidateURL(c.Google.RedirectURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: GOOGLE_REDIRECT_URL: %w", ErrValidationFailed, err)
		}
	}

	if err := v.ValidateOIDCIssuer(ctx, c.OIDC.Issuer); err != nil {
		return fmt.Errorf("%w: OIDC_ISSUER: %w", ErrValidationFailed, err)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %w", err)
	}
	return parsed, nil
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
