// Package sqs publishes service events to an AWS SQS queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/observability/logger"
)

// maxBatchSize is the SendMessageBatch entry limit.
const maxBatchSize = 10

// TopicAttribute carries the logical topic, since every message goes to the
// one configured queue.
const TopicAttribute = "topic"

// Config holds SQS producer configuration.
type Config struct {
	Region           string
	QueueURL         string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// client is the part of *sqs.Client the producer uses.
type client interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Producer sends messages to a single queue. FIFO queues get the message key
// as group id, so the events of one record stay ordered.
type Producer struct {
	client client
	logger logger.Logger
	config Config
	fifo   bool

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: crea un producer SQS con supporto endpoint custom (es. LocalStack).
// Cosa NON fa: non crea code o policy IAM.
// Esempio minimo: producer, err := sqs.NewProducer(cfg, log)
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	p := newProducer(sqs.NewFromConfig(awsCfg, opts...), cfg, log)
	if err := p.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	p.logger.Info("sqs producer initialized", "queue_url", cfg.QueueURL, "fifo", p.fifo)
	return p, nil
}

func newProducer(c client, cfg Config, log logger.Logger) *Producer {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Producer{
		client: c,
		logger: log,
		config: cfg,
		fifo:   strings.HasSuffix(cfg.QueueURL, ".fifo"),
	}
}

func (p *Producer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Publish sends one message. The topic travels as a message attribute.
func (p *Producer) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if p.isClosed() {
		return errors.New("sqs producer is closed")
	}
	if message == nil {
		return errors.New("message is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.config.QueueURL),
		MessageBody:       aws.String(string(message.Value)),
		MessageAttributes: toSQSAttributes(topic, message),
	}
	if p.fifo {
		in.MessageGroupId, in.MessageDeduplicationId = fifoIDs(message)
	}
	if _, err := p.client.SendMessage(opCtx, in); err != nil {
		return fmt.Errorf("failed to publish sqs message: %w", err)
	}
	p.logger.Debug("published to sqs", "topic", topic, "message_id", message.ID)
	return nil
}

// PublishBatch sends messages in chunks of ten. Any failed entry fails the
// call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if p.isClosed() {
		return errors.New("sqs producer is closed")
	}
	if len(messages) == 0 {
		return nil
	}

	for i := 0; i < len(messages); i += maxBatchSize {
		end := min(i+maxBatchSize, len(messages))
		batch := messages[i:end]
		entries := make([]types.SendMessageBatchRequestEntry, 0, len(batch))
		for idx, m := range batch {
			if m == nil {
				continue
			}
			entry := types.SendMessageBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i + idx)),
				MessageBody:       aws.String(string(m.Value)),
				MessageAttributes: toSQSAttributes(topic, m),
			}
			if p.fifo {
				entry.MessageGroupId, entry.MessageDeduplicationId = fifoIDs(m)
			}
			entries = append(entries, entry)
		}
		if len(entries) == 0 {
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
		out, err := p.client.SendMessageBatch(opCtx, &sqs.SendMessageBatchInput{QueueUrl: aws.String(p.config.QueueURL), Entries: entries})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to publish sqs batch: %w", err)
		}
		if out != nil && len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("sqs batch: %d of %d entries failed, first: %s %s",
				len(out.Failed), len(entries), aws.ToString(first.Code), aws.ToString(first.Message))
		}
	}
	return nil
}

// HealthCheck reads the queue ARN.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.isClosed() {
		return errors.New("sqs producer is closed")
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := p.client.GetQueueAttributes(hcCtx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(p.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameQueueArn,
		},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close marks the producer closed. The SDK client holds no connection to
// release.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func fifoIDs(m *eventbus.Message) (group, dedup *string) {
	key := m.Key
	if key == "" {
		key = m.ID
	}
	return aws.String(key), aws.String(m.ID)
}

func toSQSAttributes(topic string, m *eventbus.Message) map[string]types.MessageAttributeValue {
	out := make(map[string]types.MessageAttributeValue, len(m.Headers)+2)
	for k, v := range m.Headers {
		out[k] = stringAttribute(v)
	}
	if topic != "" {
		out[TopicAttribute] = stringAttribute(topic)
	}
	if m.ContentType != "" {
		out["content-type"] = stringAttribute(m.ContentType)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
