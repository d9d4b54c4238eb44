// Package config loads the docservice configuration.
//
// Values resolve in this order, later sources winning: built-in defaults,
// the config file, the secrets file, DOCSERVICE_* environment variables and
// command line flags.
package config

import "time"

// Supported database backends.
const (
	DatabaseTypeMongoDB = "mongodb"
	DatabaseTypeMemory  = "memory"
)

// Supported event bus backends.
const (
	EventBusTypeNone     = "none"
	EventBusTypeKafka    = "kafka"
	EventBusTypeRabbitMQ = "rabbitmq"
	EventBusTypeSQS      = "sqs"
	EventBusTypeRedis    = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Adapter       AdapterConfig       `mapstructure:"adapter"`
	EventBus      EventBusConfig      `mapstructure:"eventbus"`
	Management    ManagementConfig    `mapstructure:"management"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Path is where the table service is mounted. Empty means the table name.
	Path string `mapstructure:"path"`
}

// DatabaseConfig selects the document store and the table to serve.
type DatabaseConfig struct {
	Type               string        `mapstructure:"type"` // mongodb, memory
	URL                string        `mapstructure:"url"`
	Database           string        `mapstructure:"database"`
	Table              string        `mapstructure:"table"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout   time.Duration `mapstructure:"operation_timeout"`
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval"`
}

// AdapterConfig tunes the table service.
type AdapterConfig struct {
	ID string `mapstructure:"id"`
	// Whitelist lists the extra query operators clients may use. Empty keeps
	// the built-in set.
	Whitelist []string       `mapstructure:"whitelist"`
	Watch     bool           `mapstructure:"watch"`
	PreImages bool           `mapstructure:"preimages"`
	Paginate  PaginateConfig `mapstructure:"paginate"`
}

// PaginateConfig holds page sizes. A zero Default disables pagination.
type PaginateConfig struct {
	Default int `mapstructure:"default"`
	Max     int `mapstructure:"max"`
}

// EventBusConfig configures where change events are forwarded.
type EventBusConfig struct {
	Type             string        `mapstructure:"type"` // none, kafka, rabbitmq, sqs, redis
	Topic            string        `mapstructure:"topic"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Brokers          []string      `mapstructure:"brokers"`
	URL              string        `mapstructure:"url"`
	Exchange         string        `mapstructure:"exchange"`
	ExchangeType     string        `mapstructure:"exchange_type"`
	Region           string        `mapstructure:"region"`
	QueueURL         string        `mapstructure:"queue_url"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
}

// ManagementConfig configures the management HTTP server.
type ManagementConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	// Router selects the HTTP router: gorilla or gin.
	Router          string        `mapstructure:"router"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level"`
	LogFormat         string             `mapstructure:"log_format"` // json, text
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging"`
	MetricsEnabled    bool               `mapstructure:"metrics_enabled"`
	TracingEnabled    bool               `mapstructure:"tracing_enabled"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// MountPath returns the path the table service is mounted under.
func (c *Config) MountPath() string {
	if c.Service.Path != "" {
		return c.Service.Path
	}
	return c.Database.Table
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "docservice",
			Environment: "production",
		},
		Database: DatabaseConfig{
			Type:               DatabaseTypeMongoDB,
			URL:                "mongodb://localhost:27017",
			Database:           "docservice",
			Table:              "items",
			ConnectTimeout:     10 * time.Second,
			OperationTimeout:   5 * time.Second,
			HealthPollInterval: 500 * time.Millisecond,
		},
		Adapter: AdapterConfig{
			ID:    "id",
			Watch: true,
		},
		EventBus: EventBusConfig{
			Type:             EventBusTypeNone,
			OperationTimeout: 5 * time.Second,
			ExchangeType:     "topic",
		},
		Management: ManagementConfig{
			Enabled:         true,
			Port:            9090,
			Router:          "gorilla",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			AsyncLogging: AsyncLoggingConfig{
				QueueSize:   1024,
				WorkerCount: 1,
			},
			MetricsEnabled:    true,
			TracingSampleRate: 1.0,
			TracingEndpoint:   "localhost:4317",
		},
	}
}
