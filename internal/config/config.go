// Package config loads service configuration from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	AIBaseURL        string
	AIPrescribePath  string
	AISymptomsField  string
	AIDiagnosisField string
	AITimeout        time.Duration
	RedactPII        bool

	ExportBaseURL string
	ExportPath    string
	ExportTimeout time.Duration

	DatabaseURL  string // empty disables the audit log
	KafkaBrokers []string

	OTLPEndpoint    string // empty disables trace export
	TraceSampleRate float64

	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	PrescribeRate  float64 // tokens per second per client
	PrescribeBurst int64

	DocumentLocale   string
	DocumentTimezone string

	OutboxBatchSize     int
	OutboxPollInterval  time.Duration
	OutboxRetention     time.Duration
	OutboxCleanupPeriod time.Duration
}

// LoadDotEnv reads .env style files into the environment. Missing files are
// skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Port:     getEnvWithDefault("PORT", "8080"),
		Env:      strings.ToLower(getEnvWithDefault("ENV", "development")),
		LogLevel: strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),

		AIBaseURL:        strings.TrimRight(getEnvWithDefault("AI_BASE_URL", "http://127.0.0.1:8000"), "/"),
		AIPrescribePath:  getEnvWithDefault("AI_PRESCRIBE_PATH", "/api/v1/prescribe"),
		AISymptomsField:  getEnvWithDefault("AI_SYMPTOMS_FIELD", "symptoms"),
		AIDiagnosisField: getEnvWithDefault("AI_DIAGNOSIS_FIELD", "diagnosis"),
		AITimeout:        getDuration("AI_TIMEOUT", 60*time.Second, &errs),
		RedactPII:        getBool("REDACT_PII", true, &errs),

		ExportBaseURL: strings.TrimRight(getEnvWithDefault("EXPORT_BASE_URL", "http://127.0.0.1:8000"), "/"),
		ExportPath:    getEnvWithDefault("EXPORT_PATH", "/api/v1/receita/pdf"),
		ExportTimeout: getDuration("EXPORT_TIMEOUT", 30*time.Second, &errs),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		KafkaBrokers: splitList(getEnvWithDefault("KAFKA_BROKERS", "localhost:9092")),

		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		TraceSampleRate: getFloat("TRACE_SAMPLE_RATE", 1.0, &errs),

		SessionIdleTTL:       getDuration("SESSION_IDLE_TTL", 2*time.Hour, &errs),
		SessionSweepInterval: getDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute, &errs),

		PrescribeRate:  getFloat("PRESCRIBE_RATE", 0.5, &errs),
		PrescribeBurst: int64(getInt("PRESCRIBE_BURST", 5, &errs)),

		DocumentLocale:   getEnvWithDefault("DOCUMENT_LOCALE", "pt-BR"),
		DocumentTimezone: getEnvWithDefault("DOCUMENT_TIMEZONE", "America/Sao_Paulo"),

		OutboxBatchSize:     getInt("OUTBOX_BATCH_SIZE", 100, &errs),
		OutboxPollInterval:  getDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond, &errs),
		OutboxRetention:     getDuration("OUTBOX_RETENTION", 7*24*time.Hour, &errs),
		OutboxCleanupPeriod: getDuration("OUTBOX_CLEANUP_INTERVAL", time.Hour, &errs),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration parse failed: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every configuration value
func (c *Config) Validate() error {
	var errs []error

	if err := validatePort(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid PORT: %w", err))
	}
	if err := oneOf(c.Env, "development", "staging", "production", "test"); err != nil {
		errs = append(errs, fmt.Errorf("invalid ENV: %w", err))
	}
	if err := oneOf(c.LogLevel, "debug", "info", "warn", "error"); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	if err := validateURL(c.AIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid AI_BASE_URL: %w", err))
	}
	if err := validateURL(c.ExportBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid EXPORT_BASE_URL: %w", err))
	}
	if c.AISymptomsField == "" || c.AIDiagnosisField == "" {
		errs = append(errs, errors.New("AI_SYMPTOMS_FIELD and AI_DIAGNOSIS_FIELD cannot be empty"))
	}
	for name, d := range map[string]time.Duration{
		"AI_TIMEOUT":              c.AITimeout,
		"EXPORT_TIMEOUT":          c.ExportTimeout,
		"SESSION_IDLE_TTL":        c.SessionIdleTTL,
		"SESSION_SWEEP_INTERVAL":  c.SessionSweepInterval,
		"OUTBOX_POLL_INTERVAL":    c.OutboxPollInterval,
		"OUTBOX_RETENTION":        c.OutboxRetention,
		"OUTBOX_CLEANUP_INTERVAL": c.OutboxCleanupPeriod,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got: %s", name, d))
		}
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATE must be within [0,1], got: %g", c.TraceSampleRate))
	}
	if c.PrescribeRate <= 0 {
		errs = append(errs, fmt.Errorf("PRESCRIBE_RATE must be positive, got: %g", c.PrescribeRate))
	}
	if c.PrescribeBurst < 1 {
		errs = append(errs, fmt.Errorf("PRESCRIBE_BURST must be at least 1, got: %d", c.PrescribeBurst))
	}
	if c.OutboxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1, got: %d", c.OutboxBatchSize))
	}
	if _, err := time.LoadLocation(c.DocumentTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid DOCUMENT_TIMEZONE: %w", err))
	}

	return errors.Join(errs...)
}

// Location returns the document time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DocumentTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("must be a valid number: %w", err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("must be between 1 and 65535, got: %d", n)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host cannot be empty")
	}
	return nil
}

func oneOf(v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %v, got: %s", allowed, v)
}

func getEnvWithDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
