// Package rabbitmq publishes service events to a RabbitMQ exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/observability/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ producer configuration.
type Config struct {
	URL              string
	Exchange         string
	ExchangeType     string
	OperationTimeout time.Duration
}

// channel is the part of *amqp.Channel the producer uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Producer publishes messages to a durable exchange, routing them by topic.
type Producer struct {
	conn   *amqp.Connection
	pubCh  channel
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: apre connessione e channel RabbitMQ e dichiara l'exchange.
// Cosa NON fa: non dichiara code né binding; i consumer li gestiscono da sé.
// Esempio minimo: producer, err := rabbitmq.NewProducer(cfg, log)
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL is required")
	}
	cfg = withDefaults(cfg)
	if log == nil {
		log = logger.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create rabbitmq channel: %w", err)
	}

	if err := pubCh.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil); err != nil {
		_ = pubCh.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &Producer{
		conn:   conn,
		pubCh:  pubCh,
		logger: log,
		config: cfg,
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		_ = p.Close()
		return nil, err
	}

	log.Info("rabbitmq producer initialized", "exchange", cfg.Exchange, "exchange_type", cfg.ExchangeType)
	return p, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Exchange == "" {
		cfg.Exchange = "events"
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = "topic"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	return cfg
}

// Publish sends a message to the exchange with topic as routing key.
func (p *Producer) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("rabbitmq producer is closed")
	}
	ch := p.pubCh
	p.mu.RUnlock()

	if message == nil {
		return errors.New("message is required")
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	publishing := amqp.Publishing{
		MessageId:    message.ID,
		ContentType:  message.ContentType,
		Body:         message.Value,
		Timestamp:    message.Timestamp,
		Headers:      toAMQPHeaders(message.Headers),
		DeliveryMode: amqp.Persistent,
	}
	if message.Key != "" {
		publishing.CorrelationId = message.Key
	}

	if err := ch.PublishWithContext(ctx, p.config.Exchange, topic, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish rabbitmq message: %w", err)
	}
	p.logger.Debug("published to rabbitmq", "exchange", p.config.Exchange, "routing_key", topic, "message_id", message.ID)
	return nil
}

// PublishBatch publishes messages one by one and stops at the first failure.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	for _, msg := range messages {
		if err := p.Publish(ctx, topic, msg); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck opens and closes a channel on the connection.
func (p *Producer) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("rabbitmq producer is closed")
	}
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq health check failed: %w", err)
	}
	_ = ch.Close()
	select {
	case <-hcCtx.Done():
		return fmt.Errorf("rabbitmq health check timeout: %w", hcCtx.Err())
	default:
		return nil
	}
}

// Close releases the channel and the connection.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.pubCh != nil {
		if err := p.pubCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publish channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func toAMQPHeaders(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := amqp.Table{}
	for k, v := range headers {
		t[k] = v
	}
	return t
}
