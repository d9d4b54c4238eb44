// Package mongodb holds the MongoDB connection the document tables run on.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docservice/pkg/observability/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Adapter provides MongoDB connectivity.
type Adapter struct {
	client       *mongo.Client
	database     string
	logger       logger.Logger
	timeout      time.Duration
	pollInterval time.Duration
	mu           sync.RWMutex
	closed       bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string        `mapstructure:"url" json:"url" yaml:"url"`
	Database         string        `mapstructure:"database" json:"database" yaml:"database"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout" yaml:"operation_timeout"`
	// HealthPollInterval is the pause between pings in WaitForHealthy.
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval" json:"health_poll_interval" yaml:"health_poll_interval"`
}

func (cfg *Config) defaults() {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = 500 * time.Millisecond
	}
}

// Cosa fa: inizializza un adapter MongoDB e verifica connettività via ping.
// Cosa NON fa: non crea database o collezioni; vedi EnsureDatabase e EnsureCollection.
// Esempio minimo: adapter, err := mongodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	cfg.defaults()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:       client,
		database:     cfg.Database,
		logger:       log,
		timeout:      cfg.OperationTimeout,
		pollInterval: cfg.HealthPollInterval,
	}, nil
}

// Client returns the underlying driver client.
func (a *Adapter) Client() *mongo.Client {
	return a.client
}

// DatabaseName returns the configured database.
func (a *Adapter) DatabaseName() string {
	return a.database
}

// Database returns the configured database handle.
func (a *Adapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

// Collection returns a collection of the configured database.
func (a *Adapter) Collection(name string) *mongo.Collection {
	return a.Database().Collection(name)
}

// Ping checks the primary is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("mongodb adapter is closed")
	}
	return a.client.Ping(ctx, readpref.Primary())
}

// HealthCheck pings with a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// WaitForHealthy pings until the server answers or ctx is done.
func (a *Adapter) WaitForHealthy(ctx context.Context) error {
	ticker := time.NewTicker(a.interval())
	defer ticker.Stop()
	for {
		pingCtx, cancel := a.OperationContext(ctx)
		err := a.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		a.logger.Debug("waiting for mongodb", "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("mongodb not healthy: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Adapter) interval() time.Duration {
	if a.pollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return a.pollInterval
}

// Close disconnects the client. Later calls are no-ops.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

// EnsureDatabase reports whether the configured database was absent. MongoDB
// materializes a database with its first collection, so nothing is written
// here.
func (a *Adapter) EnsureDatabase(ctx context.Context) (bool, error) {
	opCtx, cancel := a.OperationContext(ctx)
	defer cancel()
	names, err := a.client.ListDatabaseNames(opCtx, bson.D{{Key: "name", Value: a.database}})
	if err != nil {
		return false, fmt.Errorf("list databases: %w", err)
	}
	return len(names) == 0, nil
}

// Cosa fa: crea la collection se manca; con preImages abilita le pre-immagini
// del change stream, anche su una collection esistente.
// Cosa NON fa: non crea indici.
// Esempio minimo: created, err := adapter.EnsureCollection(ctx, "items", true)
func (a *Adapter) EnsureCollection(ctx context.Context, name string, preImages bool) (bool, error) {
	opCtx, cancel := a.OperationContext(ctx)
	defer cancel()

	names, err := a.Database().ListCollectionNames(opCtx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	if len(names) > 0 {
		if preImages {
			cmd := bson.D{
				{Key: "collMod", Value: name},
				{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
			}
			if err := a.Database().RunCommand(opCtx, cmd).Err(); err != nil {
				return false, fmt.Errorf("enable pre-images on %q: %w", name, err)
			}
		}
		return false, nil
	}

	opts := options.CreateCollection()
	if preImages {
		opts.SetChangeStreamPreAndPostImages(bson.D{{Key: "enabled", Value: true}})
	}
	if err := a.Database().CreateCollection(opCtx, name, opts); err != nil {
		if isNamespaceExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("create collection %q: %w", name, err)
	}
	a.logger.Info("MongoDB collection created", "collection", name)
	return true, nil
}

// isNamespaceExists matches NamespaceExists (48), returned when a concurrent
// caller created the collection first.
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 48
}

// OperationContext bounds ctx by the operation timeout unless the caller
// already set a deadline.
func (a *Adapter) OperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
