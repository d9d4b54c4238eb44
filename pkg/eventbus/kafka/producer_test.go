package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/segmentio/kafka-go"
)

// mockLogger is a simple logger implementation for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) With(args ...any) logger.Logger {
	return m
}
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   int
	deadline bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func testProducer(w *recordingWriter) *Producer {
	return newProducer(w, Config{Brokers: []string{"localhost:9092"}, OperationTimeout: time.Second}, &mockLogger{})
}

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid configuration",
			config: Config{Brokers: []string{"localhost:9092"}, OperationTimeout: 10 * time.Second, MaxRetries: 5},
		},
		{
			name:   "valid configuration with defaults",
			config: Config{Brokers: []string{"localhost:9092"}},
		},
		{
			name:    "missing brokers",
			config:  Config{OperationTimeout: 30 * time.Second},
			wantErr: true,
		},
		{
			name:    "empty brokers list",
			config:  Config{Brokers: []string{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, err := NewProducer(tt.config, &mockLogger{})
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewProducer() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProducer() unexpected error: %v", err)
			}
			defer producer.Close()

			if producer.config.OperationTimeout == 0 {
				t.Error("expected default operation timeout")
			}
			if producer.config.MaxRetries == 0 {
				t.Error("expected default max retries")
			}
		})
	}
}

func TestProducer_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := testProducer(w)

	msg := &eventbus.Message{
		ID:          "evt-1",
		Key:         "a",
		Value:       []byte(`{"id":"a"}`),
		ContentType: "application/json",
		Headers:     map[string]string{"event": "created"},
		Timestamp:   time.Unix(100, 0),
	}
	if err := p.Publish(context.Background(), "items.events", msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	got := w.messages[0]
	if got.Topic != "items.events" || string(got.Key) != "a" {
		t.Errorf("unexpected topic/key %q %q", got.Topic, got.Key)
	}
	if !w.deadline {
		t.Error("expected write to carry a deadline")
	}
	headers := map[string]string{}
	for _, h := range got.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event"] != "created" || headers["content-type"] != "application/json" || headers["message-id"] != "evt-1" {
		t.Errorf("unexpected headers %v", headers)
	}

	if err := p.Publish(context.Background(), "items.events", nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestProducer_PublishBatch(t *testing.T) {
	w := &recordingWriter{}
	p := testProducer(w)

	if err := p.PublishBatch(context.Background(), "items.events", nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(w.messages) != 0 {
		t.Fatalf("empty batch must not write, got %d", len(w.messages))
	}

	msgs := []*eventbus.Message{
		{Key: "a", Value: []byte("1")},
		nil,
		{Key: "b", Value: []byte("2")},
	}
	if err := p.PublishBatch(context.Background(), "items.events", msgs); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if len(w.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.messages))
	}
}

func TestProducer_PublishError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := testProducer(w)

	err := p.Publish(context.Background(), "items.events", &eventbus.Message{Key: "a"})
	if err == nil || !errors.Is(err, w.err) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestProducer_Close(t *testing.T) {
	w := &recordingWriter{}
	p := testProducer(w)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if w.closed != 1 {
		t.Errorf("expected writer closed once, got %d", w.closed)
	}
	if err := p.Publish(context.Background(), "t", &eventbus.Message{}); err == nil {
		t.Error("expected publish after close to fail")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check after close to fail")
	}
}

func TestProducer_HealthCheckDialError(t *testing.T) {
	p := testProducer(&recordingWriter{})
	p.dial = func(context.Context, string, string) (*kafka.Conn, error) {
		return nil, errors.New("connection refused")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestConvertHeaders(t *testing.T) {
	if convertHeaders(nil) != nil {
		t.Error("expected nil headers for nil input")
	}
	got := convertHeaders(map[string]string{"a": "1", "b": "2"})
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(got))
	}
	seen := map[string]string{}
	for _, h := range got {
		seen[h.Key] = string(h.Value)
	}
	if seen["a"] != "1" || seen["b"] != "2" {
		t.Errorf("unexpected headers %v", seen)
	}
}

func TestProperty_ClosePreventsPublish(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("no write reaches kafka after Close", prop.ForAll(
		func(topic, key string) bool {
			w := &recordingWriter{}
			p := testProducer(w)
			_ = p.Close()
			err := p.Publish(context.Background(), topic, &eventbus.Message{Key: key})
			return err != nil && len(w.messages) == 0
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
