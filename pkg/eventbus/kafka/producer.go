// Package kafka publishes service events to Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/segmentio/kafka-go"
)

// Config holds the configuration for the Kafka producer.
type Config struct {
	// Brokers is the list of Kafka broker addresses (e.g., ["localhost:9092"])
	Brokers []string

	// OperationTimeout bounds every write and the health check dial.
	OperationTimeout time.Duration

	// MaxRetries is the number of write attempts kafka-go makes per batch.
	MaxRetries int
}

// writer is the part of *kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements eventbus.EventBus on a kafka-go writer. The record id
// is the message key, so all events of a record land on one partition.
type Producer struct {
	writer writer
	logger logger.Logger
	config Config
	dial   func(ctx context.Context, network, address string) (*kafka.Conn, error)

	mu     sync.RWMutex
	closed bool
}

// NewProducer creates a producer writing to cfg.Brokers.
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	w := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Hash keeps every event of a record on the same partition.
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries,
		WriteTimeout: cfg.OperationTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, cfg, log), nil
}

func newProducer(w writer, cfg Config, log logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("kafka producer initialized",
		"brokers", cfg.Brokers,
		"operation_timeout", cfg.OperationTimeout,
	)
	return &Producer{
		writer: w,
		logger: log,
		config: cfg,
		dial:   kafka.DialContext,
	}
}

func (p *Producer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Publish sends a single message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	return p.write(ctx, topic, []*eventbus.Message{message})
}

// PublishBatch sends messages to topic in a single write.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return p.write(ctx, topic, messages)
}

func (p *Producer) write(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if p.isClosed() {
		return errors.New("kafka producer is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		kafkaMessages = append(kafkaMessages, toKafkaMessage(topic, msg))
	}

	if err := p.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		p.logger.Error("failed to publish to kafka",
			"topic", topic,
			"batch_size", len(kafkaMessages),
			"error", err,
		)
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	p.logger.Debug("published to kafka", "topic", topic, "batch_size", len(kafkaMessages))
	return nil
}

// HealthCheck dials the first broker and fetches its metadata.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.isClosed() {
		return errors.New("kafka producer is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to fetch broker metadata: %w", err)
	}
	return nil
}

// Close flushes and closes the writer. Closing twice is a no-op.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	p.logger.Info("kafka producer closed")
	return nil
}

func toKafkaMessage(topic string, msg *eventbus.Message) kafka.Message {
	headers := convertHeaders(msg.Headers)
	if msg.ContentType != "" {
		headers = append(headers, kafka.Header{Key: "content-type", Value: []byte(msg.ContentType)})
	}
	if msg.ID != "" {
		headers = append(headers, kafka.Header{Key: "message-id", Value: []byte(msg.ID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    msg.Timestamp,
	}
}

// convertHeaders converts eventbus headers to Kafka headers
func convertHeaders(headers map[string]string) []kafka.Header {
	if headers == nil {
		return nil
	}

	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for key, value := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{
			Key:   key,
			Value: []byte(value),
		})
	}
	return kafkaHeaders
}
