// Package config defines the global configuration structure for the Miraqua
// irrigation core. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"miraqua/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the irrigation platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"miraqua-core"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Engine        EngineConfig
	Weather       WeatherConfig
	Dispatch      DispatchConfig
	Ingest        IngestConfig
	Telemetry     TelemetryConfig
	Notifications NotificationConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout    time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EngineConfig holds decision-engine tick and policy tuning.
type EngineConfig struct {
	TickInterval      time.Duration `envconfig:"ENGINE_TICK_INTERVAL" default:"5m"`
	CommandPoll       time.Duration `envconfig:"ENGINE_COMMAND_POLL" default:"15s"`
	MaxConcurrency    int           `envconfig:"ENGINE_MAX_CONCURRENCY" default:"8"`
	ManualCooldown    time.Duration `envconfig:"ENGINE_MANUAL_COOLDOWN" default:"30m"`
	DecisionWindow    time.Duration `envconfig:"ENGINE_DECISION_WINDOW" default:"6h"`
	MoistureStaleness time.Duration `envconfig:"ENGINE_MOISTURE_STALENESS" default:"45m"`
	ScheduleSlack     time.Duration `envconfig:"ENGINE_SCHEDULE_SLACK" default:"10m"`
}

// WeatherConfig holds forecast provider access and cache tuning.
type WeatherConfig struct {
	ProviderURL    string        `envconfig:"WEATHER_PROVIDER_URL" validate:"required,url"`
	APIKey         SecretString  `envconfig:"WEATHER_API_KEY"`
	FetchTimeout   time.Duration `envconfig:"WEATHER_FETCH_TIMEOUT" default:"5s"`
	CacheTTL       time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"30m"`
	MinWindowHours int           `envconfig:"WEATHER_MIN_WINDOW_HOURS" default:"48"`
}

// DispatchConfig holds irrigation-controller access and retry tuning.
type DispatchConfig struct {
	ControllerURL   string        `envconfig:"CONTROLLER_URL" validate:"required,url"`
	APIKey          SecretString  `envconfig:"CONTROLLER_API_KEY"`
	RequestTimeout  time.Duration `envconfig:"DISPATCH_REQUEST_TIMEOUT" default:"30s"`
	WatchdogTimeout time.Duration `envconfig:"DISPATCH_WATCHDOG_TIMEOUT" default:"2m"`
	MaxRetries      int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3"`
}

// IngestConfig holds sensor ingest policy tuning.
type IngestConfig struct {
	DropoutTimeout time.Duration `envconfig:"INGEST_DROPOUT_TIMEOUT" default:"30m"`

	// Anomaly detection thresholds. A temperature reading at or above the
	// spike threshold opens a temperature_spike anomaly; a moisture rise of
	// at least the jump threshold between consecutive samples opens a leak.
	TemperatureSpikeF   float64 `envconfig:"INGEST_TEMPERATURE_SPIKE_F" default:"105"`
	LeakMoistureJumpPct float64 `envconfig:"INGEST_LEAK_MOISTURE_JUMP_PCT" default:"20"`
}

// TelemetryConfig holds the inbound sensor telemetry subscription settings.
type TelemetryConfig struct {
	NATSURL     string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	Subject     string `envconfig:"TELEMETRY_SUBJECT" default:"miraqua.telemetry.>"`
	QueueGroup  string `envconfig:"TELEMETRY_QUEUE_GROUP" default:"telemetry-workers"`
	PendingMsgs int    `envconfig:"TELEMETRY_PENDING_LIMIT" default:"65536"`
}

// NotificationConfig holds notification dedup policy.
type NotificationConfig struct {
	DedupWindow time.Duration `envconfig:"NOTIFY_DEDUP_WINDOW" default:"24h"`
}

// ArchiveConfig holds the sensor-reading archival job tuning.
type ArchiveConfig struct {
	Directory string        `envconfig:"ARCHIVE_DIR" default:"/var/lib/miraqua/archive"`
	MaxAge    time.Duration `envconfig:"ARCHIVE_MAX_AGE" default:"2160h"` // 90 days
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"10000"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Miraqua"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Build metadata variables populated via -ldflags at compile time.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	}
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
