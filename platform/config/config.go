// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// StoreConfig selects the lead store backend.
type StoreConfig interface {
	DatabaseConfig
	GetStoreDriver() string
	GetStoreTimeout() time.Duration
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitPerMinute() int
}

// SchedulerConfig provides redis/asynq settings for background jobs.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RoutingConfig provides lead distribution and SLA settings.
type RoutingConfig interface {
	GetSLAWindow() time.Duration
	GetSweepInterval() time.Duration
	GetMaxReassignments() int
	GetSweepBatchSize() int
	GetStoreTimeout() time.Duration
	GetAssignmentMaxAttempts() int
	IsOrphanRecoveryEnabled() bool
	// GetFollowUpOffsets returns the auto follow-up delay keyed by lead status.
	GetFollowUpOffsets() map[string]time.Duration
}

// IntakeConfig provides lead intake settings.
type IntakeConfig interface {
	GetPhoneRegion() string
	// GetSeedAgents lists "Name <email>" entries loaded into the in-memory
	// store at startup.
	GetSeedAgents() []string
}

// SMTPConfig provides settings for outgoing notification e-mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
	GetOpsAlertEmail() string
}

// TelemetryConfig provides metrics settings.
type TelemetryConfig interface {
	IsMetricsEnabled() bool
	GetServiceName() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	ServiceName           string
	HTTPAddr              string
	DatabaseURL           string
	StoreDriver           string
	StoreTimeout          time.Duration
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	AppBaseURL            string
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	SLAWindow             time.Duration
	SweepInterval         time.Duration
	MaxReassignments      int
	SweepBatchSize        int
	AssignmentMaxAttempts int
	RecoverOrphans        bool
	PhoneRegion           string
	SeedAgents            []string
	RateLimitPerMinute    int
	FollowUpOffsets       map[string]time.Duration
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailEnabled          bool
	EmailFromName         string
	EmailFromAddress      string
	OpsAlertEmail         string
	MetricsEnabled        bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string         { return c.DatabaseURL }
func (c *Config) GetStoreDriver() string         { return c.StoreDriver }
func (c *Config) GetStoreTimeout() time.Duration { return c.StoreTimeout }
func (c *Config) GetJWTAccessSecret() string     { return c.JWTAccessSecret }
func (c *Config) GetHTTPAddr() string            { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool          { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string       { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool        { return c.CORSAllowCreds }
func (c *Config) GetAppBaseURL() string          { return c.AppBaseURL }
func (c *Config) GetOpsAlertEmail() string       { return c.OpsAlertEmail }
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string      { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int       { return c.AsynqConcurrency }
func (c *Config) GetSLAWindow() time.Duration    { return c.SLAWindow }
func (c *Config) GetSweepInterval() time.Duration {
	return c.SweepInterval
}
func (c *Config) GetMaxReassignments() int      { return c.MaxReassignments }
func (c *Config) GetSweepBatchSize() int        { return c.SweepBatchSize }
func (c *Config) GetAssignmentMaxAttempts() int { return c.AssignmentMaxAttempts }
func (c *Config) IsOrphanRecoveryEnabled() bool { return c.RecoverOrphans }
func (c *Config) GetPhoneRegion() string        { return c.PhoneRegion }
func (c *Config) GetSeedAgents() []string       { return c.SeedAgents }
func (c *Config) GetRateLimitPerMinute() int    { return c.RateLimitPerMinute }
func (c *Config) GetSMTPHost() string           { return c.SMTPHost }
func (c *Config) GetSMTPPort() int              { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string       { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string       { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string      { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string   { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool          { return c.EmailEnabled }
func (c *Config) IsMetricsEnabled() bool        { return c.MetricsEnabled }
func (c *Config) GetServiceName() string        { return c.ServiceName }

// GetFollowUpOffsets returns a copy so callers cannot mutate shared config.
func (c *Config) GetFollowUpOffsets() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.FollowUpOffsets))
	for k, v := range c.FollowUpOffsets {
		out[k] = v
	}
	return out
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultFollowUpOffsets = "new=1h,contacted=24h,qualified=48h,negotiating=72h"
)

// Load reads configuration from .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	offsets, err := parseOffsets(getEnv("FOLLOWUP_OFFSETS", defaultFollowUpOffsets))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		ServiceName:           getEnv("SERVICE_NAME", "estate-crm-routing"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		StoreTimeout:          durationOr(getEnv("STORE_TIMEOUT", "5s"), 5*time.Second),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:            getEnv("APP_BASE_URL", "http://localhost:4200"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:      positiveIntOr(getEnv("ASYNQ_CONCURRENCY", "10"), 10),
		SLAWindow:             durationOr(getEnv("SLA_WINDOW", "30m"), 30*time.Minute),
		SweepInterval:         durationOr(getEnv("SLA_SWEEP_INTERVAL", "5m"), 5*time.Minute),
		MaxReassignments:      positiveIntOr(getEnv("SLA_MAX_REASSIGNMENTS", "3"), 3),
		SweepBatchSize:        positiveIntOr(getEnv("SLA_SWEEP_BATCH_SIZE", "500"), 500),
		AssignmentMaxAttempts: positiveIntOr(getEnv("ASSIGNMENT_MAX_ATTEMPTS", "3"), 3),
		RecoverOrphans:        strings.EqualFold(getEnv("SLA_RECOVER_ORPHANS", "true"), "true"),
		PhoneRegion:           getEnv("PHONE_DEFAULT_REGION", "US"),
		SeedAgents:            splitCSV(getEnv("SEED_AGENTS", "")),
		RateLimitPerMinute:    positiveIntOr(getEnv("RATE_LIMIT_PER_MINUTE", "120"), 120),
		FollowUpOffsets:       offsets,
		SMTPHost:              smtpHost,
		SMTPPort:              positiveIntOr(getEnv("SMTP_PORT", "587"), 587),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailEnabled:          emailEnabled && smtpHost != "",
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Estate CRM"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		OpsAlertEmail:         getEnv("OPS_ALERT_EMAIL", ""),
		MetricsEnabled:        strings.EqualFold(getEnv("METRICS_ENABLED", "true"), "true"),
	}

	if path := getEnv("ROUTING_POLICY_FILE", ""); path != "" {
		if err := cfg.applyPolicyFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}

	return cfg, nil
}

// routingPolicy is the YAML shape of ROUTING_POLICY_FILE.
type routingPolicy struct {
	SLA struct {
		Window           string `yaml:"window"`
		SweepInterval    string `yaml:"sweepInterval"`
		MaxReassignments int    `yaml:"maxReassignments"`
	} `yaml:"sla"`
	FollowUpOffsets map[string]string `yaml:"followUpOffsets"`
}

func (c *Config) applyPolicyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read routing policy: %w", err)
	}
	return c.applyPolicy(raw)
}

func (c *Config) applyPolicy(raw []byte) error {
	var policy routingPolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("parse routing policy: %w", err)
	}

	if policy.SLA.Window != "" {
		d, err := time.ParseDuration(policy.SLA.Window)
		if err != nil || d <= 0 {
			return fmt.Errorf("routing policy: invalid sla.window %q", policy.SLA.Window)
		}
		c.SLAWindow = d
	}
	if policy.SLA.SweepInterval != "" {
		d, err := time.ParseDuration(policy.SLA.SweepInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("routing policy: invalid sla.sweepInterval %q", policy.SLA.SweepInterval)
		}
		c.SweepInterval = d
	}
	if policy.SLA.MaxReassignments > 0 {
		c.MaxReassignments = policy.SLA.MaxReassignments
	}

	for status, value := range policy.FollowUpOffsets {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("routing policy: invalid follow-up offset for %q", status)
		}
		if c.FollowUpOffsets == nil {
			c.FollowUpOffsets = make(map[string]time.Duration)
		}
		c.FollowUpOffsets[strings.ToLower(strings.TrimSpace(status))] = d
	}

	return nil
}

// parseOffsets parses "status=duration" pairs separated by commas.
func parseOffsets(raw string) (map[string]time.Duration, error) {
	offsets := make(map[string]time.Duration)
	for _, pair := range splitCSV(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("FOLLOWUP_OFFSETS: malformed entry %q", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("FOLLOWUP_OFFSETS: invalid duration for %q", key)
		}
		offsets[strings.ToLower(strings.TrimSpace(key))] = d
	}
	return offsets, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func positiveIntOr(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
