package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/observability/metrics"
	"github.com/nimburion/docservice/pkg/observability/tracing"
)

const (
	DefaultQueueSize       = 1024
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultMaxBackoff      = 5 * time.Second
	DefaultPublishTimeout  = 5 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
	DefaultTopicSuffix     = ".events"
)

// ErrQueueFull is recorded when an event arrives while the queue is full.
var ErrQueueFull = errors.New("forwarder queue is full")

// ForwarderConfig controls topic naming, queueing and retries.
type ForwarderConfig struct {
	// Service is the path of the forwarded service, used when an event
	// carries none.
	Service string
	// Topic defaults to DefaultTopic(Service).
	Topic string
	// IDField is the record key used as message key. Defaults to "id".
	IDField string
	// System names the broker on tracing spans.
	System          string
	QueueSize       int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	PublishTimeout  time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
}

func (c *ForwarderConfig) normalize() {
	if c.Topic == "" {
		c.Topic = DefaultTopic(c.Service)
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = DefaultBreakerReset
	}
}

// DefaultTopic is "<service>.events" with path separators turned into dots.
func DefaultTopic(service string) string {
	return strings.ReplaceAll(strings.Trim(service, "/"), "/", ".") + DefaultTopicSuffix
}

// Forwarder publishes the events of one service to a topic.
//
// Listeners only enqueue, so a slow or failing broker never holds up the
// change feed. Run drains the queue in emission order; a message that still
// fails after MaxAttempts is logged and dropped.
type Forwarder struct {
	producer   Producer
	serializer Serializer
	logger     logger.Logger
	config     ForwarderConfig
	queue      chan *EventEnvelope
	breaker    *breaker
	dropped    atomic.Uint64

	mu      sync.Mutex
	running bool
}

// Cosa fa: prepara l'inoltro degli eventi di un servizio verso un producer.
// Cosa NON fa: non si iscrive a nessun emitter finché non si chiama Attach.
// Esempio minimo: fwd, err := eventbus.NewForwarder(producer, log, eventbus.ForwarderConfig{Service: "items"})
func NewForwarder(producer Producer, log logger.Logger, config ForwarderConfig) (*Forwarder, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if strings.TrimSpace(config.Service) == "" && strings.TrimSpace(config.Topic) == "" {
		return nil, errors.New("service or topic is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	config.normalize()

	return &Forwarder{
		producer:   producer,
		serializer: NewJSONSerializer(),
		logger:     log.With("topic", config.Topic),
		config:     config,
		queue:      make(chan *EventEnvelope, config.QueueSize),
		breaker:    newBreaker(config.BreakerFailures, config.BreakerReset),
	}, nil
}

// Topic returns the destination topic.
func (f *Forwarder) Topic() string { return f.config.Topic }

// Attach subscribes the forwarder to every service event of emitter.
func (f *Forwarder) Attach(emitter events.Emitter) events.Subscription {
	return events.OnAll(emitter, f.enqueue)
}

// Dropped returns how many events were lost to a full queue or a bad payload.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Pending returns the number of queued events.
func (f *Forwarder) Pending() int { return len(f.queue) }

// BreakerState reports whether publishing is currently suspended.
func (f *Forwarder) BreakerState() BreakerState { return f.breaker.State() }

func (f *Forwarder) enqueue(_ context.Context, ev events.Event) {
	env, err := NewEventEnvelope(ev, f.config.Service, f.config.IDField, f.serializer)
	if err != nil {
		f.dropped.Add(1)
		metrics.RecordPublish(f.config.Topic, err)
		f.logger.Warn("event not forwarded", "event", ev.Name, "error", err)
		return
	}

	select {
	case f.queue <- env:
	default:
		f.dropped.Add(1)
		metrics.RecordPublish(f.config.Topic, ErrQueueFull)
		f.logger.Warn("forwarder queue full, event dropped", "event", ev.Name, "record_id", env.RecordID)
	}
}

// Run publishes queued events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is nil")
	}

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return errors.New("forwarder already running")
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			if n := len(f.queue); n > 0 {
				f.logger.Info("forwarder stopped with pending events", "pending", n)
			}
			return ctx.Err()
		case env := <-f.queue:
			if err := f.publish(ctx, env); err != nil {
				f.logger.Warn("event publish failed", "event", env.Event, "record_id", env.RecordID, "error", err)
			}
		}
	}
}

// Flush publishes whatever is queued, one attempt cycle each, and returns the
// number of events published. Meant for shutdown after Run returned.
func (f *Forwarder) Flush(ctx context.Context) int {
	published := 0
	for {
		select {
		case env := <-f.queue:
			if err := f.publish(ctx, env); err != nil {
				f.logger.Warn("event publish failed during flush", "event", env.Event, "error", err)
				continue
			}
			published++
		default:
			return published
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, env *EventEnvelope) (err error) {
	msg, err := env.ToMessage()
	if err != nil {
		return err
	}

	topic := f.config.Topic
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem(f.config.System),
		tracing.WithMessagingDestination(topic),
		tracing.WithMessagingMessageID(msg.ID),
	)
	defer func() {
		tracing.End(span, err)
		metrics.RecordPublish(topic, err)
	}()

	for attempt := 1; ; attempt++ {
		err = f.breaker.execute(func() error {
			pctx, cancel := context.WithTimeout(ctx, f.config.PublishTimeout)
			defer cancel()
			return f.producer.Publish(pctx, topic, msg)
		})
		if err == nil {
			f.logger.Debug("event published", "event", env.Event, "record_id", env.RecordID, "attempt", attempt)
			return nil
		}
		if errors.Is(err, ErrBreakerOpen) || attempt >= f.config.MaxAttempts {
			return fmt.Errorf("publish %s after %d attempt(s): %w", env.Type, attempt, err)
		}

		timer := time.NewTimer(exponentialBackoff(attempt, f.config.InitialBackoff, f.config.MaxBackoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func exponentialBackoff(attempt int, initial, maxBackoff time.Duration) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return min(backoff, maxBackoff)
}
