// Package redis appends service events to Redis streams.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/observability/logger"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultMaxLen caps each stream; trimming is approximate.
const DefaultMaxLen int64 = 100000

// Config configures the Redis stream producer.
type Config struct {
	URL              string
	OperationTimeout time.Duration
	// MaxLen bounds each stream. Zero uses DefaultMaxLen, negative disables
	// trimming.
	MaxLen int64
}

// Producer writes every message as one stream entry, the topic being the
// stream key.
type Producer struct {
	client *goredis.Client
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

// NewProducer creates a producer and pings the server.
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Producer{
		client: goredis.NewClient(opts),
		logger: log,
		config: cfg,
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		_ = p.client.Close()
		return nil, err
	}
	log.Info("redis stream producer initialized", "addr", opts.Addr, "max_len", cfg.MaxLen)
	return p, nil
}

func (p *Producer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Publish appends message to the stream named topic.
func (p *Producer) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if p.isClosed() {
		return errors.New("redis producer is closed")
	}
	if message == nil {
		return errors.New("message is required")
	}

	cctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.XAdd(cctx, p.addArgs(topic, message)).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", topic, err)
	}
	p.logger.Debug("published to redis stream", "stream", topic, "message_id", message.ID)
	return nil
}

// PublishBatch appends messages in one pipeline.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if p.isClosed() {
		return errors.New("redis producer is closed")
	}
	if len(messages) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	pipe := p.client.Pipeline()
	for _, m := range messages {
		if m == nil {
			continue
		}
		pipe.XAdd(cctx, p.addArgs(topic, m))
	}
	if _, err := pipe.Exec(cctx); err != nil {
		return fmt.Errorf("failed to append batch to stream %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) addArgs(topic string, m *eventbus.Message) *goredis.XAddArgs {
	args := &goredis.XAddArgs{
		Stream: topic,
		Values: streamValues(m),
	}
	if p.config.MaxLen > 0 {
		args.MaxLen = p.config.MaxLen
		args.Approx = true
	}
	return args
}

// HealthCheck pings the server.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.isClosed() {
		return errors.New("redis producer is closed")
	}
	cctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(cctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.client.Close()
}

// streamValues flattens a message into stream entry fields. Headers are
// prefixed with "h:" so they cannot collide with the fixed fields.
func streamValues(m *eventbus.Message) map[string]interface{} {
	values := map[string]interface{}{
		"id":    m.ID,
		"key":   m.Key,
		"value": string(m.Value),
	}
	if m.ContentType != "" {
		values["content_type"] = m.ContentType
	}
	if !m.Timestamp.IsZero() {
		values["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range m.Headers {
		values["h:"+k] = v
	}
	return values
}
