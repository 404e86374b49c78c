// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/oversight-labs/auditpipe/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (alert dedup, rate limiting). Optional; in-memory fallbacks
	// are used when no address is configured.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// Alert delivery webhooks. An empty URL disables that channel.
	SlackWebhookURL  string `koanf:"slack_webhook_url"`
	TeamsWebhookURL  string `koanf:"teams_webhook_url"`
	ZapierWebhookURL string `koanf:"zapier_webhook_url"`

	// Alert delivery retry policy
	AlertMaxRetries            int `koanf:"max_retries"`
	AlertBaseDelaySeconds      int `koanf:"base_delay_seconds"`
	AlertMaxDelaySeconds       int `koanf:"max_delay_seconds"`
	AlertRequestTimeoutSeconds int `koanf:"request_timeout_seconds"`
	AlertDedupWindowSeconds    int `koanf:"alert_dedup_window_seconds"`

	// Anomaly detection
	AnomalyThreshold     float64 `koanf:"anomaly_threshold"`
	StatsCacheTTLSeconds int     `koanf:"stats_cache_ttl_seconds"`
	HistoricalWindowDays int     `koanf:"historical_window_days"`

	// Ingest feed (websocket event source). Optional; when empty the
	// server only accepts events over HTTP.
	IngestFeedURL string `koanf:"ingest_feed_url"`

	// Archive storage (R2-compatible object store)
	ArchiveBucketName      string `koanf:"archive_bucket_name"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL            = errors.New("DATABASE_URL is required")
	ErrMissingArchiveBucketName      = errors.New("ARCHIVE_BUCKET_NAME is required")
	ErrMissingArchiveAccessKeyID     = errors.New("ARCHIVE_ACCESS_KEY_ID is required")
	ErrMissingArchiveSecretAccessKey = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required")
	ErrMissingArchiveEndpoint        = errors.New("ARCHIVE_ENDPOINT is required")
	ErrInvalidPort                   = errors.New("PORT must be a valid integer")
	ErrInvalidThreshold              = errors.New("ANOMALY_THRESHOLD must be between 0 and 1")
	ErrInvalidSamplingRate           = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                       = 8080
	DefaultEnv                        = "development"
	DefaultAlertMaxRetries            = 3
	DefaultAlertBaseDelaySeconds      = 1
	DefaultAlertMaxDelaySeconds       = 30
	DefaultAlertRequestTimeoutSeconds = 10
	DefaultAlertDedupWindowSeconds    = 900
	DefaultAnomalyThreshold           = 0.7
	DefaultStatsCacheTTLSeconds       = 3600
	DefaultHistoricalWindowDays       = 30
	DefaultTracingExporterType        = "otlp-grpc"
	DefaultTracingSamplingRate        = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try AUDITPIPE_PORT first, then PORT for container platforms that set it
	port, portErr := getEnvIntOrDefaultMulti([]string{"AUDITPIPE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	intKeys := []struct {
		envKey     string
		koanfKey   string
		defaultVal int
	}{
		{"MAX_RETRIES", "max_retries", DefaultAlertMaxRetries},
		{"BASE_DELAY_SECONDS", "base_delay_seconds", DefaultAlertBaseDelaySeconds},
		{"MAX_DELAY_SECONDS", "max_delay_seconds", DefaultAlertMaxDelaySeconds},
		{"REQUEST_TIMEOUT_SECONDS", "request_timeout_seconds", DefaultAlertRequestTimeoutSeconds},
		{"ALERT_DEDUP_WINDOW_SECONDS", "alert_dedup_window_seconds", DefaultAlertDedupWindowSeconds},
		{"STATS_CACHE_TTL_SECONDS", "stats_cache_ttl_seconds", DefaultStatsCacheTTLSeconds},
		{"HISTORICAL_WINDOW_DAYS", "historical_window_days", DefaultHistoricalWindowDays},
	}
	intVals := make([]int, len(intKeys))
	for i, key := range intKeys {
		v, err := getEnvIntOrDefault(key.envKey, k.Int(key.koanfKey), key.defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		intVals[i] = v
	}

	threshold, thresholdErr := getEnvFloatOrDefault("ANOMALY_THRESHOLD", k.Float64("anomaly_threshold"), DefaultAnomalyThreshold)
	if thresholdErr != nil {
		loadErrs = append(loadErrs, thresholdErr)
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                       port,
		Env:                        getEnvOrDefaultMulti([]string{"AUDITPIPE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:                getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:                  getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:              getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		SlackWebhookURL:            getEnvOrKoanf("SLACK_WEBHOOK_URL", k, "slack_webhook_url"),
		TeamsWebhookURL:            getEnvOrKoanf("TEAMS_WEBHOOK_URL", k, "teams_webhook_url"),
		ZapierWebhookURL:           getEnvOrKoanf("ZAPIER_WEBHOOK_URL", k, "zapier_webhook_url"),
		AlertMaxRetries:            intVals[0],
		AlertBaseDelaySeconds:      intVals[1],
		AlertMaxDelaySeconds:       intVals[2],
		AlertRequestTimeoutSeconds: intVals[3],
		AlertDedupWindowSeconds:    intVals[4],
		AnomalyThreshold:           threshold,
		StatsCacheTTLSeconds:       intVals[5],
		HistoricalWindowDays:       intVals[6],
		IngestFeedURL:              getEnvOrKoanf("INGEST_FEED_URL", k, "ingest_feed_url"),
		ArchiveBucketName:          getEnvOrKoanf("ARCHIVE_BUCKET_NAME", k, "archive_bucket_name"),
		ArchiveAccessKeyID:         getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey:     getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:            getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),
		CORSAllowedOrigins:         getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingEnabled:             getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporterType:        getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), DefaultTracingExporterType),
		TracingOTLPEndpoint:        getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate:        samplingRate,
		TracingInsecure:            getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvListOrKoanf returns the environment variable split on commas if set,
// otherwise the koanf string slice.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvBoolOrKoanf returns the environment variable as a bool if set,
// otherwise the koanf value. Unparseable values are treated as false.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and
// that numeric values fall inside their allowed ranges.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.AnomalyThreshold <= 0 || c.AnomalyThreshold > 1 {
		errs = append(errs, ErrInvalidThreshold)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	// Configured webhook URLs must be HTTPS and must not point inside
	// the network.
	webhooks := map[string]string{
		"SLACK_WEBHOOK_URL":  c.SlackWebhookURL,
		"TEAMS_WEBHOOK_URL":  c.TeamsWebhookURL,
		"ZAPIER_WEBHOOK_URL": c.ZapierWebhookURL,
	}
	for name, u := range webhooks {
		if u == "" {
			continue
		}
		if _, err := validate.WebhookURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// Archive configuration is optional. Only validate fields if any archive value is set.
	if c.ArchiveBucketName != "" || c.ArchiveAccessKeyID != "" || c.ArchiveSecretAccessKey != "" || c.ArchiveEndpoint != "" {
		if c.ArchiveBucketName == "" {
			errs = append(errs, ErrMissingArchiveBucketName)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveAccessKeyID)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveSecretAccessKey)
		}
		if c.ArchiveEndpoint == "" {
			errs = append(errs, ErrMissingArchiveEndpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                       fmt.Sprintf("%d", c.Port),
		"env":                        c.Env,
		"database_url":               maskDatabaseURL(c.DatabaseURL),
		"redis_addr":                 orNotSet(c.RedisAddr),
		"redis_password":             maskSecret(c.RedisPassword),
		"slack_webhook_url":          maskWebhookURL(c.SlackWebhookURL),
		"teams_webhook_url":          maskWebhookURL(c.TeamsWebhookURL),
		"zapier_webhook_url":         maskWebhookURL(c.ZapierWebhookURL),
		"max_retries":                fmt.Sprintf("%d", c.AlertMaxRetries),
		"base_delay_seconds":         fmt.Sprintf("%d", c.AlertBaseDelaySeconds),
		"max_delay_seconds":          fmt.Sprintf("%d", c.AlertMaxDelaySeconds),
		"request_timeout_seconds":    fmt.Sprintf("%d", c.AlertRequestTimeoutSeconds),
		"alert_dedup_window_seconds": fmt.Sprintf("%d", c.AlertDedupWindowSeconds),
		"anomaly_threshold":          fmt.Sprintf("%g", c.AnomalyThreshold),
		"stats_cache_ttl_seconds":    fmt.Sprintf("%d", c.StatsCacheTTLSeconds),
		"historical_window_days":     fmt.Sprintf("%d", c.HistoricalWindowDays),
		"ingest_feed_url":            orNotSet(c.IngestFeedURL),
		"archive_bucket_name":        orNotSet(c.ArchiveBucketName),
		"archive_access_key_id":      maskSecret(c.ArchiveAccessKeyID),
		"archive_secret_access_key":  maskSecret(c.ArchiveSecretAccessKey),
		"archive_endpoint":           orNotSet(c.ArchiveEndpoint),
		"cors_allowed_origins":       strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":            fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter_type":      c.TracingExporterType,
		"tracing_otlp_endpoint":      orNotSet(c.TracingOTLPEndpoint),
		"tracing_sampling_rate":      fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskWebhookURL masks the path of a webhook URL, keeping the host visible.
// Webhook paths embed the shared secret, so only scheme and host survive.
func maskWebhookURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	slashIndex := strings.Index(rest, "/")
	if slashIndex == -1 {
		return s
	}

	return s[:schemeEnd+3] + rest[:slashIndex] + "/****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
