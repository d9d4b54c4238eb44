// Package eventbus forwards service change events to a message broker.
//
// A Forwarder listens on a service's event emitter, wraps every event in an
// EventEnvelope and hands it to a Producer (Kafka, RabbitMQ, SQS or Redis,
// see the subpackages).
package eventbus

import (
	"context"
	"time"
)

// Producer defines the interface for publishing messages to topics.
type Producer interface {
	// Publish sends a single message to the specified topic.
	// Returns an error if the publish operation fails.
	Publish(ctx context.Context, topic string, message *Message) error

	// PublishBatch sends multiple messages to the specified topic in a single operation.
	// Returns an error if any message in the batch fails to publish.
	PublishBatch(ctx context.Context, topic string, messages []*Message) error

	// Close gracefully shuts down the producer, flushing any pending messages.
	Close() error
}

// EventBus is a Producer that can report broker health.
type EventBus interface {
	Producer

	// HealthCheck verifies connectivity to the message broker.
	HealthCheck(ctx context.Context) error
}

// Message represents a message to be published to a topic.
type Message struct {
	// ID is a unique identifier for the message.
	ID string

	// Key is used for partitioning in systems like Kafka.
	// Messages with the same key are delivered to the same partition.
	Key string

	// Value is the serialized message payload.
	Value []byte

	// Headers contains arbitrary key-value metadata for the message.
	Headers map[string]string

	// ContentType indicates the serialization format.
	ContentType string

	// Timestamp is when the message was created.
	Timestamp time.Time
}
