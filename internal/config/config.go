// Package config provides configuration loading and management for Hermes services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Hermes services.
type Config struct {
	// Version is the application version
	Version string

	// Environment is the deployment environment (development, staging, production)
	Environment string

	// Source is the MongoDB/DocumentDB source configuration
	Source SourceConfig

	// Tap configuration
	Tap TapConfig

	// Position holds position store configuration
	Position PositionConfig

	// Health holds health check configuration
	Health HealthConfig

	// Metrics configuration
	Metrics MetricsConfig

	// Worker holds scheduled worker configuration
	Worker WorkerConfig

	// Notify holds run notification configuration
	Notify NotifyConfig
}

// SourceConfig holds the MongoDB/DocumentDB source configuration.
type SourceConfig struct {
	// URI is the full connection string. Takes precedence over CredentialJSON.
	URI string

	// CredentialJSON is a JSON credential document with username, password,
	// host and port fields, as emitted by AWS Secrets Manager for DocumentDB.
	CredentialJSON string

	// CredentialExtraOptions is a JSON document of extra connection string
	// options appended when building a URI from CredentialJSON.
	CredentialExtraOptions string

	// Database is the source database name
	Database string

	// AppName is reported to the server for connection attribution
	AppName string

	// ConnectTimeout bounds the initial connect and ping
	ConnectTimeout time.Duration

	// Prefix is an optional prefix added to each stream name
	Prefix string

	// FilterCollections restricts discovery to the named collections
	FilterCollections []string
}

// TapConfig holds extraction pipeline configuration.
type TapConfig struct {
	// StreamsFile is the path of the stream definitions file
	StreamsFile string

	// BatchSize is the page size and position commit cadence
	BatchSize int

	// FlushInterval is the time-based position flush cadence
	FlushInterval time.Duration

	// IdleTimeout terminates a quiet change stream tail
	IdleTimeout time.Duration

	// PollInterval is the pause between empty change stream polls
	PollInterval time.Duration

	// StartDate seeds incremental extraction when no position is stored
	StartDate time.Time

	// AddRecordMetadata adds _sdc metadata fields to records
	AddRecordMetadata bool

	// AllowCapabilityRepair permits enabling change capture on the source
	AllowCapabilityRepair bool

	// OperationTypes is the allowed operation-kind set for log-based streams
	OperationTypes []string

	// Retry holds retry policy configuration
	Retry RetryConfig
}

// RetryConfig holds retry policy configuration.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts
	MaxAttempts int

	// InitialInterval is the initial backoff interval
	InitialInterval time.Duration

	// MaxInterval is the maximum backoff interval
	MaxInterval time.Duration

	// Multiplier is the backoff multiplier
	Multiplier float64
}

// PositionConfig holds position store configuration.
type PositionConfig struct {
	// Backend selects the store implementation: file, postgres or s3
	Backend string

	// Path is the state file path for the file backend
	Path string

	// Database is the connection configuration for the postgres backend
	Database DatabaseConfig

	// Storage is the object storage configuration for the s3 backend
	Storage StorageConfig
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the database host
	Host string

	// Port is the database port
	Port int

	// Name is the database name
	Name string

	// User is the database user
	User string

	// Password is the database password
	Password string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full)
	SSLMode string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Endpoint is the S3/MinIO endpoint
	Endpoint string

	// AccessKey is the access key
	AccessKey string

	// SecretKey is the secret key
	SecretKey string

	// Region is the bucket region
	Region string

	// Bucket is the bucket name
	Bucket string

	// Key is the object key holding the position document
	Key string

	// UseSSL enables SSL for the connection
	UseSSL bool
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	// Enabled enables health check endpoints
	Enabled bool

	// ListenAddr is the address for health check endpoints
	ListenAddr string

	// ReadinessTimeout is how long to wait for readiness checks
	ReadinessTimeout time.Duration
}

// MetricsConfig holds metrics/observability configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection
	Enabled bool

	// ListenAddr is the address for the metrics endpoint
	ListenAddr string
}

// WorkerConfig holds scheduled worker configuration.
type WorkerConfig struct {
	// Schedule is a cron expression for recurring sync runs. Empty means
	// run once and exit.
	Schedule string
}

// NotifyConfig holds run notification configuration.
type NotifyConfig struct {
	// SlackWebhookURL enables Slack notifications when set
	SlackWebhookURL string

	// SlackChannel overrides the webhook's default channel
	SlackChannel string

	// WebhookURL enables generic webhook notifications when set
	WebhookURL string

	// OnSuccess also notifies on successful runs
	OnSuccess bool

	// Timeout bounds each notification delivery
	Timeout time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Version:     getEnv("HERMES_VERSION", "0.1.0"),
		Environment: getEnv("HERMES_ENV", "development"),

		Source: SourceConfig{
			URI:                    getEnv("HERMES_SOURCE_URI", ""),
			CredentialJSON:         getEnv("HERMES_SOURCE_CREDENTIAL_JSON", ""),
			CredentialExtraOptions: getEnv("HERMES_SOURCE_CREDENTIAL_OPTIONS", ""),
			Database:               getEnv("HERMES_SOURCE_DATABASE", ""),
			AppName:                getEnv("HERMES_SOURCE_APP_NAME", "hermes"),
			ConnectTimeout:         getDurationEnv("HERMES_SOURCE_CONNECT_TIMEOUT", 10*time.Second),
			Prefix:                 getEnv("HERMES_SOURCE_PREFIX", ""),
			FilterCollections:      getSliceEnv("HERMES_SOURCE_FILTER_COLLECTIONS", nil),
		},

		Tap: TapConfig{
			StreamsFile:           getEnv("HERMES_STREAMS_FILE", "streams.json"),
			BatchSize:             getIntEnv("HERMES_BATCH_SIZE", 1000),
			FlushInterval:         getDurationEnv("HERMES_FLUSH_INTERVAL", 10*time.Second),
			IdleTimeout:           getDurationEnv("HERMES_IDLE_TIMEOUT", 10*time.Second),
			PollInterval:          getDurationEnv("HERMES_POLL_INTERVAL", 500*time.Millisecond),
			StartDate:             getTimeEnv("HERMES_START_DATE", time.Unix(0, 0).UTC()),
			AddRecordMetadata:     getBoolEnv("HERMES_ADD_RECORD_METADATA", false),
			AllowCapabilityRepair: getBoolEnv("HERMES_ALLOW_CAPABILITY_REPAIR", false),
			OperationTypes:        getSliceEnv("HERMES_OPERATION_TYPES", nil),
			Retry: RetryConfig{
				MaxAttempts:     getIntEnv("HERMES_RETRY_MAX_ATTEMPTS", 3),
				InitialInterval: getDurationEnv("HERMES_RETRY_INITIAL_INTERVAL", time.Second),
				MaxInterval:     getDurationEnv("HERMES_RETRY_MAX_INTERVAL", 30*time.Second),
				Multiplier:      getFloatEnv("HERMES_RETRY_MULTIPLIER", 2.0),
			},
		},

		Position: PositionConfig{
			Backend: getEnv("HERMES_POSITION_BACKEND", "file"),
			Path:    getEnv("HERMES_POSITION_PATH", "state.json"),
			Database: DatabaseConfig{
				Host:         getEnv("HERMES_POSITION_DB_HOST", "localhost"),
				Port:         getIntEnv("HERMES_POSITION_DB_PORT", 5432),
				Name:         getEnv("HERMES_POSITION_DB_NAME", "hermes"),
				User:         getEnv("HERMES_POSITION_DB_USER", "hermes"),
				Password:     getEnv("HERMES_POSITION_DB_PASSWORD", "hermes"),
				SSLMode:      getEnv("HERMES_POSITION_DB_SSLMODE", "disable"),
				MaxOpenConns: getIntEnv("HERMES_POSITION_DB_MAX_OPEN_CONNS", 5),
				MaxIdleConns: getIntEnv("HERMES_POSITION_DB_MAX_IDLE_CONNS", 2),
			},
			Storage: StorageConfig{
				Endpoint:  getEnv("HERMES_POSITION_STORAGE_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("HERMES_POSITION_STORAGE_ACCESS_KEY", ""),
				SecretKey: getEnv("HERMES_POSITION_STORAGE_SECRET_KEY", ""),
				Region:    getEnv("HERMES_POSITION_STORAGE_REGION", "us-east-1"),
				Bucket:    getEnv("HERMES_POSITION_STORAGE_BUCKET", "hermes"),
				Key:       getEnv("HERMES_POSITION_STORAGE_KEY", "positions.json"),
				UseSSL:    getBoolEnv("HERMES_POSITION_STORAGE_USE_SSL", true),
			},
		},

		Health: HealthConfig{
			Enabled:          getBoolEnv("HERMES_HEALTH_ENABLED", true),
			ListenAddr:       getEnv("HERMES_HEALTH_LISTEN_ADDR", ":8081"),
			ReadinessTimeout: getDurationEnv("HERMES_HEALTH_READINESS_TIMEOUT", 5*time.Second),
		},

		Metrics: MetricsConfig{
			Enabled:    getBoolEnv("HERMES_METRICS_ENABLED", true),
			ListenAddr: getEnv("HERMES_METRICS_LISTEN_ADDR", ":9090"),
		},

		Worker: WorkerConfig{
			Schedule: getEnv("HERMES_SCHEDULE", ""),
		},

		Notify: NotifyConfig{
			SlackWebhookURL: getEnv("HERMES_NOTIFY_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnv("HERMES_NOTIFY_SLACK_CHANNEL", ""),
			WebhookURL:      getEnv("HERMES_NOTIFY_WEBHOOK_URL", ""),
			OnSuccess:       getBoolEnv("HERMES_NOTIFY_ON_SUCCESS", false),
			Timeout:         getDurationEnv("HERMES_NOTIFY_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints Load cannot express per field.
func (c *Config) Validate() error {
	if c.Source.URI == "" && c.Source.CredentialJSON == "" {
		return fmt.Errorf("config: one of HERMES_SOURCE_URI or HERMES_SOURCE_CREDENTIAL_JSON is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("config: HERMES_SOURCE_DATABASE is required")
	}
	switch c.Position.Backend {
	case "file", "postgres", "s3":
	default:
		return fmt.Errorf("config: unknown position backend %q", c.Position.Backend)
	}
	if c.Tap.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.Tap.BatchSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getTimeEnv(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.UTC()
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range splitAndTrim(value, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
