package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimburion/docservice/pkg/app"
	"github.com/nimburion/docservice/pkg/config"
	"github.com/nimburion/docservice/pkg/eventbus"
	busfactory "github.com/nimburion/docservice/pkg/eventbus/factory"
	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/health"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/observability/metrics"
	"github.com/nimburion/docservice/pkg/observability/tracing"
	"github.com/nimburion/docservice/pkg/query"
	"github.com/nimburion/docservice/pkg/server/router/factory"
	"github.com/nimburion/docservice/pkg/service"
	"github.com/nimburion/docservice/pkg/store/mongodb"
	"github.com/nimburion/docservice/pkg/table"
	"github.com/nimburion/docservice/pkg/table/memory"
	mongotable "github.com/nimburion/docservice/pkg/table/mongo"
	"github.com/nimburion/docservice/pkg/version"
)

const (
	defaultHookTimeout  = 10 * time.Second
	forwarderBacklogMax = eventbus.DefaultQueueSize / 2
)

// LifecycleHook is a named startup or shutdown step.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

// Runtime is one assembled docservice process: the table service mounted on
// its application, the event forwarding chain and the health registry.
type Runtime struct {
	Config    *config.Config
	Logger    logger.Logger
	Database  table.Database
	App       *app.App
	Service   *service.Service
	Events    *events.Bus
	Health    *health.Registry
	Metrics   *metrics.Registry
	Info      version.Info
	Bus       eventbus.EventBus
	Forwarder *eventbus.Forwarder

	shutdownHooks []LifecycleHook
}

// OpenDatabase connects the configured document store. The returned hook
// releases the connection.
func OpenDatabase(cfg config.DatabaseConfig, log logger.Logger) (table.Database, LifecycleHook, error) {
	switch strings.ToLower(cfg.Type) {
	case config.DatabaseTypeMemory:
		return memory.NewDatabase(cfg.Database), LifecycleHook{Name: "database"}, nil
	case "", config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:                cfg.URL,
			Database:           cfg.Database,
			ConnectTimeout:     cfg.ConnectTimeout,
			OperationTimeout:   cfg.OperationTimeout,
			HealthPollInterval: cfg.HealthPollInterval,
		}, log)
		if err != nil {
			return nil, LifecycleHook{}, fmt.Errorf("connect mongodb: %w", err)
		}
		db, err := mongotable.NewDatabase(adapter, log)
		if err != nil {
			_ = adapter.Close()
			return nil, LifecycleHook{}, err
		}
		return db, LifecycleHook{Name: "database", Fn: func(context.Context) error { return adapter.Close() }}, nil
	default:
		return nil, LifecycleHook{}, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// ServiceOptions maps the adapter settings onto service options.
func ServiceOptions(cfg *config.Config, emitter events.Emitter, log logger.Logger) service.Options {
	opts := service.Options{
		Name:         cfg.Database.Table,
		ID:           cfg.Adapter.ID,
		DisableWatch: !cfg.Adapter.Watch,
		PreImages:    cfg.Adapter.PreImages,
		Events:       emitter,
		Logger:       log,
	}
	if len(cfg.Adapter.Whitelist) > 0 {
		opts.Whitelist = append([]string(nil), cfg.Adapter.Whitelist...)
	}
	if cfg.Adapter.Paginate.Default > 0 {
		opts.Paginate = &query.Paginate{
			Default: cfg.Adapter.Paginate.Default,
			Max:     cfg.Adapter.Paginate.Max,
		}
	}
	return opts
}

// Build connects the database and the event bus and assembles the service.
// Nothing runs until Run; Close releases what Build opened.
func Build(cfg *config.Config, log logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  log,
		Events:  events.NewBus(),
		Health:  health.NewRegistry(),
		Metrics: metrics.NewRegistry(),
		Info:    version.Current(cfg.Service.Name),
		App:     app.New(log),
	}

	db, closeDB, err := OpenDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rt.Database = db
	rt.shutdownHooks = append(rt.shutdownHooks, closeDB)

	svc, err := service.New(db, ServiceOptions(cfg, rt.Events, log))
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create service: %w", err)
	}
	rt.Service = svc
	if err := rt.App.Use(cfg.MountPath(), svc); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("mount service: %w", err)
	}
	rt.App.OnBootstrap(func(ctx context.Context) error {
		return svc.Init(ctx, table.Options{PrimaryKey: svc.ID(), PreImages: cfg.Adapter.PreImages})
	})

	bus, err := busfactory.NewEventBus(cfg.EventBus, log)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create event bus: %w", err)
	}
	if bus != nil {
		rt.Bus = bus
		rt.shutdownHooks = append(rt.shutdownHooks, LifecycleHook{Name: "eventbus", Fn: func(context.Context) error { return bus.Close() }})

		fwd, err := eventbus.NewForwarder(bus, log, eventbus.ForwarderConfig{
			Service:        app.NormalizePath(cfg.MountPath()),
			Topic:          cfg.EventBus.Topic,
			IDField:        svc.ID(),
			System:         strings.ToLower(cfg.EventBus.Type),
			PublishTimeout: cfg.EventBus.OperationTimeout,
		})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("create forwarder: %w", err)
		}
		rt.Forwarder = fwd
	}

	rt.registerChecks()
	return rt, nil
}

func (rt *Runtime) registerChecks() {
	rt.Health.Register(health.NewDatabaseChecker(databaseHealth{rt.Database}))
	if rt.Config.Adapter.Watch {
		rt.Health.Register(health.NewChangeFeedChecker(func() bool { return rt.Service.Cursor() != nil }))
	}
	if rt.Bus != nil {
		rt.Health.Register(health.NewEventBusChecker(rt.Bus))
		rt.Health.Register(health.NewForwarderChecker(rt.Forwarder, forwarderBacklogMax))
	}
}

// databaseHealth adapts table.Database to health.Checkable.
type databaseHealth struct {
	db table.Database
}

func (d databaseHealth) HealthCheck(ctx context.Context) error {
	return d.db.WaitForHealthy(ctx)
}

// Bootstrap creates the database and the table if needed.
func (rt *Runtime) Bootstrap(ctx context.Context) error {
	return rt.App.WaitBootstrap(ctx)
}

// Run bootstraps the table, starts the change feed and the forwarder and
// serves the management endpoints until ctx is cancelled. Events still
// queued on shutdown get one last publish attempt.
func (rt *Runtime) Run(ctx context.Context) error {
	log := rt.Logger
	log.Info("application version metadata",
		"service", rt.Info.Service,
		"version", rt.Info.Version,
		"commit", rt.Info.Commit,
		"build_time", rt.Info.BuildTime,
	)

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    rt.Info.Service,
		ServiceVersion: rt.Info.Version,
		Environment:    rt.Config.Service.Environment,
		Endpoint:       rt.Config.Observability.TracingEndpoint,
		SampleRate:     rt.Config.Observability.TracingSampleRate,
		Enabled:        rt.Config.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing provider: %w", err)
	}
	rt.shutdownHooks = append(rt.shutdownHooks, LifecycleHook{Name: "tracing", Fn: tp.Shutdown})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sub events.Subscription
	if rt.Forwarder != nil {
		sub = rt.Forwarder.Attach(rt.Events)
		defer sub.Close()
	}

	if err := rt.App.Setup(runCtx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	running := 0
	if rt.Forwarder != nil {
		running++
		go func() {
			if err := rt.Forwarder.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("forwarder: %w", err)
				return
			}
			errCh <- nil
		}()
	}
	if rt.Config.Management.Enabled {
		mgmt, err := rt.managementServer()
		if err != nil {
			return err
		}
		running++
		go func() { errCh <- mgmt.Start(runCtx) }()
	}

	log.Info("docservice started", "path", app.NormalizePath(rt.Config.MountPath()), "table", rt.Config.Database.Table)

	var firstErr error
	if running == 0 {
		<-runCtx.Done()
	}
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		// the first component to stop takes the others down
		cancel()
	}

	if rt.Forwarder != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), defaultHookTimeout)
		if n := rt.Forwarder.Flush(flushCtx); n > 0 {
			log.Info("flushed pending events", "published", n)
		}
		flushCancel()
	}
	return firstErr
}

func (rt *Runtime) managementServer() (*ManagementServer, error) {
	r, err := factory.NewRouter(rt.Config.Management.Router)
	if err != nil {
		return nil, fmt.Errorf("create management router: %w", err)
	}
	mgmt, err := NewManagementServer(rt.Config.Management, r, rt.Logger, rt.Health, rt.Metrics, rt.Info)
	if err != nil {
		return nil, fmt.Errorf("create management server: %w", err)
	}
	return mgmt, nil
}

// Close runs the shutdown hooks in reverse order and joins their errors.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.shutdownHooks) - 1; i >= 0; i-- {
		hook := rt.shutdownHooks[i]
		if hook.Fn == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultHookTimeout)
		err := hook.Fn(ctx)
		cancel()
		if err != nil {
			rt.Logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", hook.Name, err))
		}
	}
	rt.shutdownHooks = nil
	return errors.Join(errs...)
}

// RunWithSignals builds and runs the service until SIGINT or SIGTERM.
func RunWithSignals(ctx context.Context, cfg *config.Config, log logger.Logger, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	rt, err := Build(cfg, log)
	if err != nil {
		return err
	}
	runErr := rt.Run(ctx)
	closeErr := rt.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// InitStorage creates the configured database and table without starting
// anything else.
func InitStorage(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	db, closeDB, err := OpenDatabase(cfg.Database, log)
	if err != nil {
		return err
	}
	if closeDB.Fn != nil {
		defer closeDB.Fn(context.Background())
	}
	svc, err := service.New(db, ServiceOptions(cfg, nil, log))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := db.WaitForHealthy(ctx); err != nil {
		return fmt.Errorf("wait for database %q: %w", db.Name(), err)
	}
	return svc.Init(ctx, table.Options{PrimaryKey: svc.ID(), PreImages: cfg.Adapter.PreImages})
}

// CheckDependencies connects the database and the event bus once and reports
// their health.
func CheckDependencies(ctx context.Context, cfg *config.Config, log logger.Logger) (health.AggregatedResult, error) {
	if log == nil {
		log = logger.NewNop()
	}
	db, closeDB, err := OpenDatabase(cfg.Database, log)
	if err != nil {
		return health.AggregatedResult{}, err
	}
	if closeDB.Fn != nil {
		defer closeDB.Fn(context.Background())
	}

	registry := health.NewRegistry()
	registry.Register(health.NewDatabaseChecker(databaseHealth{db}))

	bus, err := busfactory.NewEventBus(cfg.EventBus, log)
	if err != nil {
		return health.AggregatedResult{}, fmt.Errorf("create event bus: %w", err)
	}
	if bus != nil {
		defer bus.Close()
		registry.Register(health.NewEventBusChecker(bus))
	}
	return registry.Check(ctx), nil
}
