// Package cli builds the docservice command line: serve, init, healthcheck,
// config and version.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nimburion/docservice/pkg/config"
	"github.com/nimburion/docservice/pkg/health"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/server"
	"github.com/nimburion/docservice/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultHealthcheckTimeout = 10 * time.Second

// ServiceCommandOptions configures NewServiceCommand. Every callback has a
// default; tests replace them.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// RunServer defaults to server.RunWithSignals.
	RunServer func(ctx context.Context, cfg *config.Config, log logger.Logger) error
	// InitStorage defaults to server.InitStorage.
	InitStorage func(ctx context.Context, cfg *config.Config, log logger.Logger) error
	// CheckDependencies defaults to server.CheckDependencies.
	CheckDependencies func(ctx context.Context, cfg *config.Config, log logger.Logger) (health.AggregatedResult, error)
	// ValidateConfig runs after the built-in validation.
	ValidateConfig func(cfg *config.Config) error

	CustomCommands []*cobra.Command
}

func (o *ServiceCommandOptions) defaults() {
	if o.Name == "" {
		o.Name = "docservice"
	}
	if o.EnvPrefix == "" {
		o.EnvPrefix = config.DefaultEnvPrefix
	}
	if o.RunServer == nil {
		o.RunServer = func(ctx context.Context, cfg *config.Config, log logger.Logger) error {
			return server.RunWithSignals(ctx, cfg, log)
		}
	}
	if o.InitStorage == nil {
		o.InitStorage = server.InitStorage
	}
	if o.CheckDependencies == nil {
		o.CheckDependencies = server.CheckDependencies
	}
}

// NewServiceCommand creates the root command. Running it without a
// subcommand serves.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	opts.defaults()

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	var secretFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, opts.ValidateConfig, flags)
	}

	rootCmd.AddCommand(newVersionCommand(opts.Name))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the table: change feed, event forwarding and management endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			defer closeLogger(log)
			return opts.RunServer(cmd.Context(), cfg, log)
		},
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database and the table if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			defer closeLogger(log)
			if err := opts.InitStorage(cmd.Context(), cfg, log); err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %q ready in database %q\n", cfg.Database.Table, cfg.Database.Database)
			return nil
		},
	})

	var healthTimeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the database and the event bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			defer closeLogger(log)

			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()
			result, err := opts.CheckDependencies(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("healthcheck: %w", err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !result.IsHealthy() {
				return errors.New("healthcheck failed")
			}
			return nil
		},
	}
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", defaultHealthcheckTimeout, "overall check timeout")
	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(newConfigCommand(opts, &cfgPath, &secretFilePath))

	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}
	return rootCmd
}

func newVersionCommand(name string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(name)
			w := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(w).Encode(info)
			}
			fmt.Fprintf(w, "Service:    %s\n", info.Service)
			fmt.Fprintf(w, "Version:    %s\n", info.Version)
			fmt.Fprintf(w, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(w, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(w, "Go:         %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newConfigCommand(opts ServiceCommandOptions, cfgPath, secretFilePath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	load := func(cmd *cobra.Command) (*config.Config, *config.ConfigProvider, map[string]interface{}, error) {
		if err := applySecretFileFlag(opts.EnvPrefix, *secretFilePath); err != nil {
			return nil, nil, nil, err
		}
		provider := config.NewConfigProvider(*cfgPath, opts.EnvPrefix).WithFlags(cmd.Flags())
		cfg, secrets, err := provider.LoadWithSecrets()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load config: %w", err)
		}
		if opts.ValidateConfig != nil {
			if err := opts.ValidateConfig(cfg); err != nil {
				return nil, nil, nil, fmt.Errorf("custom validation failed: %w", err)
			}
		}
		return cfg, provider, secrets, nil
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, _, err := load(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, provider, secrets, err := load(cmd)
			if err != nil {
				return err
			}
			if !showSecrets {
				fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
				return nil
			}
			out, err := yaml.Marshal(provider.AllSettings())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	return configCmd
}

// LoadConfigAndLogger loads the configuration and builds the logger it
// describes, asynchronous when observability.async_logging is enabled.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	customValidator func(*config.Config) error,
	flags *pflag.FlagSet,
) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, _, err := config.NewConfigProvider(cfgPath, envPrefix).WithFlags(flags).LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	async := cfg.Observability.AsyncLogging
	log := logger.WrapAsync(base, logger.AsyncConfig{
		Enabled:      async.Enabled,
		QueueSize:    async.QueueSize,
		WorkerCount:  async.WorkerCount,
		DropWhenFull: async.DropWhenFull,
	})

	if strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		log.Debug("effective configuration", "config", cfg.String())
	}
	return cfg, log, nil
}

// closeLogger drains an asynchronous logger and syncs zap.
func closeLogger(log logger.Logger) {
	switch l := log.(type) {
	case *logger.AsyncLogger:
		l.Close()
	case *logger.ZapLogger:
		_ = l.Sync()
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

// Execute runs the command and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
