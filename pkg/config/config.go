// Package config loads changegate settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting.
type Config struct {
	Port       int    `env:"PORT" envDefault:"8080"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8081"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/changegate.db"`
	RedisURL    string `env:"REDIS_URL"`

	Risk      RiskOptions
	Approval  ApprovalOptions
	RateLimit RateLimitOptions
	Telemetry TelemetryOptions
	Export    ExportOptions

	RolesPath string `env:"ROLES_PATH"`
}

type RiskOptions struct {
	CatalogPath string `env:"RISK_CATALOG_PATH"`
}

type ApprovalOptions struct {
	DefaultApproverRoles []string `env:"DEFAULT_APPROVER_ROLES" envDefault:"it" envSeparator:","`
	ChangeManagerRole    string   `env:"CHANGE_MANAGER_ROLE" envDefault:"change-manager"`
	AdminRoles           []string `env:"ADMIN_ROLES" envDefault:"admin" envSeparator:","`
	// Policy is an optional CEL expression evaluated on every approval.
	Policy string `env:"APPROVAL_POLICY"`
}

type RateLimitOptions struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`
}

type TelemetryOptions struct {
	Enabled        bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint       string `env:"OTEL_ENDPOINT"`
	Insecure       bool   `env:"OTEL_INSECURE" envDefault:"false"`
	MetricExporter string `env:"METRICS_EXPORTER" envDefault:"prometheus"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
}

type ExportOptions struct {
	Provider string `env:"AUDIT_EXPORT_PROVIDER" envDefault:"s3"`
	Bucket   string `env:"AUDIT_EXPORT_BUCKET"`
	Region   string `env:"AUDIT_EXPORT_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"AUDIT_EXPORT_ENDPOINT"`
	Prefix   string `env:"AUDIT_EXPORT_PREFIX" envDefault:"evidence"`
}

// LoadEnv loads the env files that exist. Missing files are skipped and
// variables already set in the process environment win.
func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existingFiles...); err != nil {
		return 0, fmt.Errorf("load env files %v: %w", existingFiles, err)
	}
	return len(existingFiles), nil
}

// Load reads env files then parses and validates the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, err
	}
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if err := validPort("PORT", c.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("HEALTH_PORT", c.HealthPort); err != nil {
		errs = append(errs, err)
	}
	if c.Port == c.HealthPort {
		errs = append(errs, fmt.Errorf("PORT and HEALTH_PORT must differ, both are %d", c.Port))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if err := c.Approval.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o ApprovalOptions) Validate() error {
	if len(nonEmpty(o.DefaultApproverRoles)) == 0 {
		return fmt.Errorf("DEFAULT_APPROVER_ROLES must name at least one role")
	}
	if strings.TrimSpace(o.ChangeManagerRole) == "" {
		return fmt.Errorf("CHANGE_MANAGER_ROLE must not be empty")
	}
	return nil
}

func (o RateLimitOptions) Validate() error {
	if o.RPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", o.RPS)
	}
	if o.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", o.Burst)
	}
	return nil
}

func (o TelemetryOptions) Validate() error {
	switch o.MetricExporter {
	case "prometheus", "none":
	case "otlp":
		if o.Endpoint == "" {
			return fmt.Errorf("METRICS_EXPORTER=otlp requires OTEL_ENDPOINT")
		}
	default:
		return fmt.Errorf("METRICS_EXPORTER must be prometheus, otlp or none, got %q", o.MetricExporter)
	}
	return nil
}

func (o ExportOptions) Validate() error {
	switch o.Provider {
	case "s3", "gcs":
		return nil
	}
	return fmt.Errorf("AUDIT_EXPORT_PROVIDER must be s3 or gcs, got %q", o.Provider)
}

// Roles returns the configured default approver roles with blanks removed.
func (o ApprovalOptions) Roles() []string { return nonEmpty(o.DefaultApproverRoles) }

// Lite reports whether no external database is configured.
func (c *Config) Lite() bool { return c.DatabaseURL == "" }

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not a valid level", s)
	}
	return lvl, nil
}

// NewLogger builds the process logger. An invalid level falls back to INFO.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func validPort(name string, p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, p)
	}
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
