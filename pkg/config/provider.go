package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBinding ties a command line flag to a config key.
type flagBinding struct {
	flag  string
	key   string
	usage string
}

var flagBindings = []flagBinding{
	{"db-type", "database.type", "database backend (mongodb, memory)"},
	{"db-url", "database.url", "database connection URL"},
	{"db-name", "database.database", "database name"},
	{"table", "database.table", "table served by the service"},
	{"path", "service.path", "mount path of the table service"},
	{"eventbus-type", "eventbus.type", "event bus backend (none, kafka, rabbitmq, sqs, redis)"},
	{"mgmt-port", "management.port", "management server port"},
	{"log-level", "observability.log_level", "log level (debug, info, warn, error)"},
	{"log-format", "observability.log_format", "log format (json, text)"},
}

// RegisterFlags adds the config override flags to flags. Values are only
// applied when a flag is set explicitly.
func RegisterFlags(flags *pflag.FlagSet) {
	for _, b := range flagBindings {
		if flags.Lookup(b.flag) == nil {
			flags.String(b.flag, "", b.usage)
		}
	}
	if flags.Lookup("watch") == nil {
		flags.Bool("watch", true, "emit events from the table change feed")
	}
}

// applyFlags copies explicitly set flags over every other source.
func applyFlags(v *viper.Viper, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	for _, b := range flagBindings {
		if f := flags.Lookup(b.flag); f != nil && f.Changed {
			v.Set(b.key, f.Value.String())
		}
	}
	if f := flags.Lookup("watch"); f != nil && f.Changed {
		v.Set("adapter.watch", f.Value.String())
	}
}

// ConfigProvider loads the configuration with command line overrides and
// keeps the merged settings around for inspection.
type ConfigProvider struct {
	loader *ViperLoader
	v      *viper.Viper
	flags  *pflag.FlagSet
}

func NewConfigProvider(configFile, envPrefix string) *ConfigProvider {
	return &ConfigProvider{
		loader: NewViperLoader(configFile, envPrefix),
		v:      viper.New(),
	}
}

func (p *ConfigProvider) WithFlags(flags *pflag.FlagSet) *ConfigProvider {
	p.flags = flags
	return p
}

// ConfigFile returns the path to the config file that was loaded, or empty string if none.
func (p *ConfigProvider) ConfigFile() string {
	if p.loader == nil {
		return ""
	}
	return p.loader.configFile
}

func (p *ConfigProvider) Load() (*Config, error) {
	p.v = viper.New()
	cfg, _, err := p.loader.load(p.v, p.flags, false)
	return cfg, err
}

// LoadWithSecrets loads the config including the secrets merge.
// Returns the raw secrets map used for redaction (nil when no secrets file was loaded).
func (p *ConfigProvider) LoadWithSecrets() (*Config, map[string]interface{}, error) {
	p.v = viper.New()
	return p.loader.load(p.v, p.flags, true)
}

// AllSettings returns the effective merged settings currently held by the provider.
func (p *ConfigProvider) AllSettings() map[string]interface{} {
	if p == nil || p.v == nil {
		return map[string]interface{}{}
	}
	return p.v.AllSettings()
}
