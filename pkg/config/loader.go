package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "DOCSERVICE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables, DOCSERVICE when empty
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(viper.New(), nil, false)
	return cfg, err
}

// load resolves every source into v and decodes the result. The returned map
// holds the raw secrets file settings, nil when none was read.
func (l *ViperLoader) load(v *viper.Viper, flags *pflag.FlagSet, withSecrets bool) (*Config, map[string]interface{}, error) {
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets map[string]interface{}
	if withSecrets {
		var err error
		if secrets, err = l.readSecrets(); err != nil {
			return nil, nil, err
		}
		if secrets != nil {
			if err := v.MergeConfigMap(secrets); err != nil {
				return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
			}
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	if err := l.bindEnvVars(v); err != nil {
		return nil, nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	applyFlags(v, flags)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) error {
	bindings := []struct {
		key  string
		envs []string
	}{
		{"service.name", []string{"SERVICE_NAME"}},
		{"service.environment", []string{"SERVICE_ENVIRONMENT", "ENVIRONMENT"}},
		{"service.path", []string{"SERVICE_PATH"}},

		{"database.type", []string{"DB_TYPE", "DATABASE_TYPE"}},
		{"database.url", []string{"DB_URL", "DATABASE_URL"}},
		{"database.database", []string{"DB_DATABASE", "DB_NAME"}},
		{"database.table", []string{"DB_TABLE", "TABLE"}},
		{"database.connect_timeout", []string{"DB_CONNECT_TIMEOUT"}},
		{"database.operation_timeout", []string{"DB_OPERATION_TIMEOUT"}},
		{"database.health_poll_interval", []string{"DB_HEALTH_POLL_INTERVAL"}},

		{"adapter.id", []string{"ADAPTER_ID"}},
		{"adapter.whitelist", []string{"ADAPTER_WHITELIST"}},
		{"adapter.watch", []string{"ADAPTER_WATCH"}},
		{"adapter.preimages", []string{"ADAPTER_PREIMAGES"}},
		{"adapter.paginate.default", []string{"ADAPTER_PAGINATE_DEFAULT"}},
		{"adapter.paginate.max", []string{"ADAPTER_PAGINATE_MAX"}},

		{"eventbus.type", []string{"EVENTBUS_TYPE"}},
		{"eventbus.topic", []string{"EVENTBUS_TOPIC"}},
		{"eventbus.operation_timeout", []string{"EVENTBUS_OPERATION_TIMEOUT"}},
		{"eventbus.brokers", []string{"EVENTBUS_BROKERS"}},
		{"eventbus.url", []string{"EVENTBUS_URL"}},
		{"eventbus.exchange", []string{"EVENTBUS_EXCHANGE"}},
		{"eventbus.exchange_type", []string{"EVENTBUS_EXCHANGE_TYPE"}},
		{"eventbus.region", []string{"EVENTBUS_REGION"}},
		{"eventbus.queue_url", []string{"EVENTBUS_QUEUE_URL"}},
		{"eventbus.endpoint", []string{"EVENTBUS_ENDPOINT"}},
		{"eventbus.access_key_id", []string{"EVENTBUS_ACCESS_KEY_ID"}},
		{"eventbus.secret_access_key", []string{"EVENTBUS_SECRET_ACCESS_KEY"}},
		{"eventbus.session_token", []string{"EVENTBUS_SESSION_TOKEN"}},

		{"management.enabled", []string{"MGMT_ENABLED", "MANAGEMENT_ENABLED"}},
		{"management.port", []string{"MGMT_PORT", "MANAGEMENT_PORT"}},
		{"management.router", []string{"MGMT_ROUTER"}},
		{"management.read_timeout", []string{"MGMT_READ_TIMEOUT"}},
		{"management.write_timeout", []string{"MGMT_WRITE_TIMEOUT"}},
		{"management.shutdown_timeout", []string{"MGMT_SHUTDOWN_TIMEOUT"}},

		{"observability.log_level", []string{"LOG_LEVEL"}},
		{"observability.log_format", []string{"LOG_FORMAT"}},
		{"observability.async_logging.enabled", []string{"LOG_ASYNC_ENABLED"}},
		{"observability.async_logging.queue_size", []string{"LOG_ASYNC_QUEUE_SIZE"}},
		{"observability.async_logging.worker_count", []string{"LOG_ASYNC_WORKER_COUNT"}},
		{"observability.async_logging.drop_when_full", []string{"LOG_ASYNC_DROP_WHEN_FULL"}},
		{"observability.metrics_enabled", []string{"METRICS_ENABLED"}},
		{"observability.tracing_enabled", []string{"TRACING_ENABLED"}},
		{"observability.tracing_sample_rate", []string{"TRACING_SAMPLE_RATE"}},
		{"observability.tracing_endpoint", []string{"TRACING_ENDPOINT"}},
	}

	for _, b := range bindings {
		args := []string{b.key}
		for _, env := range b.envs {
			args = append(args, l.prefixedEnv(env))
		}
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)
	v.SetDefault("service.path", cfg.Service.Path)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.database", cfg.Database.Database)
	v.SetDefault("database.table", cfg.Database.Table)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.operation_timeout", cfg.Database.OperationTimeout)
	v.SetDefault("database.health_poll_interval", cfg.Database.HealthPollInterval)

	v.SetDefault("adapter.id", cfg.Adapter.ID)
	v.SetDefault("adapter.whitelist", cfg.Adapter.Whitelist)
	v.SetDefault("adapter.watch", cfg.Adapter.Watch)
	v.SetDefault("adapter.preimages", cfg.Adapter.PreImages)
	v.SetDefault("adapter.paginate.default", cfg.Adapter.Paginate.Default)
	v.SetDefault("adapter.paginate.max", cfg.Adapter.Paginate.Max)

	v.SetDefault("eventbus.type", cfg.EventBus.Type)
	v.SetDefault("eventbus.topic", cfg.EventBus.Topic)
	v.SetDefault("eventbus.operation_timeout", cfg.EventBus.OperationTimeout)
	v.SetDefault("eventbus.brokers", cfg.EventBus.Brokers)
	v.SetDefault("eventbus.url", cfg.EventBus.URL)
	v.SetDefault("eventbus.exchange", cfg.EventBus.Exchange)
	v.SetDefault("eventbus.exchange_type", cfg.EventBus.ExchangeType)
	v.SetDefault("eventbus.region", cfg.EventBus.Region)
	v.SetDefault("eventbus.queue_url", cfg.EventBus.QueueURL)
	v.SetDefault("eventbus.endpoint", cfg.EventBus.Endpoint)
	v.SetDefault("eventbus.access_key_id", cfg.EventBus.AccessKeyID)
	v.SetDefault("eventbus.secret_access_key", cfg.EventBus.SecretAccessKey)
	v.SetDefault("eventbus.session_token", cfg.EventBus.SessionToken)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.router", cfg.Management.Router)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)
	v.SetDefault("management.shutdown_timeout", cfg.Management.ShutdownTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate checks cfg and normalizes list values in place. Every problem is
// reported, joined into one error.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Adapter.Whitelist = normalizeStringSlice(cfg.Adapter.Whitelist)
	cfg.EventBus.Brokers = normalizeStringSlice(cfg.EventBus.Brokers)
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.EventBus.Type = strings.ToLower(strings.TrimSpace(cfg.EventBus.Type))
	if cfg.EventBus.Type == "" {
		cfg.EventBus.Type = EventBusTypeNone
	}

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	// Database
	validDatabaseTypes := []string{DatabaseTypeMongoDB, DatabaseTypeMemory}
	if !contains(validDatabaseTypes, cfg.Database.Type) {
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", cfg.Database.Type, validDatabaseTypes))
	}
	if strings.TrimSpace(cfg.Database.Table) == "" {
		errs = append(errs, errors.New("database.table is required"))
	}
	if cfg.Database.Type == DatabaseTypeMongoDB {
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for MongoDB"))
		}
		if cfg.Database.Database == "" {
			errs = append(errs, errors.New("database.database is required for MongoDB"))
		}
	}
	if cfg.Database.OperationTimeout < 0 {
		errs = append(errs, errors.New("database.operation_timeout cannot be negative"))
	}

	// Adapter
	if strings.TrimSpace(cfg.Adapter.ID) == "" {
		errs = append(errs, errors.New("adapter.id is required"))
	}
	for _, op := range cfg.Adapter.Whitelist {
		if !strings.HasPrefix(op, "$") {
			errs = append(errs, fmt.Errorf("adapter.whitelist entry %q must start with $", op))
		}
	}
	if cfg.Adapter.Paginate.Default < 0 || cfg.Adapter.Paginate.Max < 0 {
		errs = append(errs, errors.New("adapter.paginate values cannot be negative"))
	}
	if cfg.Adapter.Paginate.Max > 0 && cfg.Adapter.Paginate.Default > cfg.Adapter.Paginate.Max {
		errs = append(errs, errors.New("adapter.paginate.default cannot exceed adapter.paginate.max"))
	}
	if cfg.Adapter.PreImages && cfg.Database.Type == DatabaseTypeMemory {
		errs = append(errs, errors.New("adapter.preimages requires database.type mongodb"))
	}

	// Event bus
	validEventBusTypes := []string{EventBusTypeNone, EventBusTypeKafka, EventBusTypeRabbitMQ, EventBusTypeSQS, EventBusTypeRedis}
	switch cfg.EventBus.Type {
	case EventBusTypeNone:
	case EventBusTypeKafka:
		if len(cfg.EventBus.Brokers) == 0 {
			errs = append(errs, errors.New("eventbus.brokers is required for Kafka"))
		}
	case EventBusTypeRabbitMQ:
		if cfg.EventBus.URL == "" {
			errs = append(errs, errors.New("eventbus.url is required for RabbitMQ"))
		}
		if cfg.EventBus.Exchange == "" {
			errs = append(errs, errors.New("eventbus.exchange is required for RabbitMQ"))
		}
	case EventBusTypeSQS:
		if cfg.EventBus.Region == "" {
			errs = append(errs, errors.New("eventbus.region is required for SQS"))
		}
		if cfg.EventBus.QueueURL == "" {
			errs = append(errs, errors.New("eventbus.queue_url is required for SQS"))
		}
	case EventBusTypeRedis:
		if cfg.EventBus.URL == "" {
			errs = append(errs, errors.New("eventbus.url is required for Redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid eventbus.type: %s (must be one of: %v)", cfg.EventBus.Type, validEventBusTypes))
	}
	if cfg.EventBus.Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.EventBus.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("invalid eventbus.endpoint: %w", err))
		}
	}

	// Management
	if cfg.Management.Enabled {
		if cfg.Management.Port <= 0 || cfg.Management.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid management.port: %d (must be between 1 and 65535)", cfg.Management.Port))
		}
		cfg.Management.Router = strings.ToLower(strings.TrimSpace(cfg.Management.Router))
		if cfg.Management.Router == "" {
			cfg.Management.Router = "gorilla"
		}
		if !contains([]string{"gorilla", "gin"}, cfg.Management.Router) {
			errs = append(errs, fmt.Errorf("invalid management.router: %s (must be one of: [gorilla gin])", cfg.Management.Router))
		}
	}

	// Observability
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.AsyncLogging.Enabled {
		if cfg.Observability.AsyncLogging.QueueSize <= 0 {
			errs = append(errs, errors.New("observability.async_logging.queue_size must be greater than 0 when async logging is enabled"))
		}
		if cfg.Observability.AsyncLogging.WorkerCount <= 0 {
			errs = append(errs, errors.New("observability.async_logging.worker_count must be greater than 0 when async logging is enabled"))
		}
	}
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("invalid observability.tracing_sample_rate: %v (must be between 0 and 1)", cfg.Observability.TracingSampleRate))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// normalizeStringSlice removes empty strings and trims whitespace
func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
