// Package factory builds the configured event bus producer.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/docservice/pkg/config"
	"github.com/nimburion/docservice/pkg/eventbus"
	"github.com/nimburion/docservice/pkg/eventbus/kafka"
	"github.com/nimburion/docservice/pkg/eventbus/rabbitmq"
	"github.com/nimburion/docservice/pkg/eventbus/redis"
	"github.com/nimburion/docservice/pkg/eventbus/sqs"
	"github.com/nimburion/docservice/pkg/observability/logger"
)

// Cosa fa: seleziona e inizializza il producer dell'event bus in base alla config.
// Cosa NON fa: con type "none" non crea nulla e restituisce (nil, nil).
// Esempio minimo: bus, err := factory.NewEventBus(cfg.EventBus, log)
func NewEventBus(cfg config.EventBusConfig, log logger.Logger) (eventbus.EventBus, error) {
	if log == nil {
		log = logger.NewNop()
	}

	var (
		bus eventbus.EventBus
		err error
	)
	// bus stays nil on error; a typed nil would compare non-nil
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.EventBusTypeNone:
		return nil, nil
	case config.EventBusTypeKafka:
		var p *kafka.Producer
		p, err = kafka.NewProducer(kafka.Config{
			Brokers:          cfg.Brokers,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		bus = p
	case config.EventBusTypeRabbitMQ:
		url := cfg.URL
		if url == "" && len(cfg.Brokers) > 0 {
			url = cfg.Brokers[0]
		}
		var p *rabbitmq.Producer
		p, err = rabbitmq.NewProducer(rabbitmq.Config{
			URL:              url,
			Exchange:         cfg.Exchange,
			ExchangeType:     cfg.ExchangeType,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		bus = p
	case config.EventBusTypeSQS:
		var p *sqs.Producer
		p, err = sqs.NewProducer(sqs.Config{
			Region:           cfg.Region,
			QueueURL:         cfg.QueueURL,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		bus = p
	case config.EventBusTypeRedis:
		var p *redis.Producer
		p, err = redis.NewProducer(redis.Config{
			URL:              cfg.URL,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		bus = p
	default:
		return nil, fmt.Errorf("unsupported eventbus.type %q (supported: none, kafka, rabbitmq, sqs, redis)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return bus, nil
}
