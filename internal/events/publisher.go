package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Event types published on the catalog topic.
const (
	MainCategoryCreated = "main_category.created"
	MainCategoryDeleted = "main_category.deleted"
	CategoryCreated     = "category.created"
	CategoryDeleted     = "category.deleted"
	SubcategoryCreated  = "subcategory.created"
	SubcategoryDeleted  = "subcategory.deleted"
	SubcategoryUpdated  = "subcategory.updated"
	ProductChanged      = "product.changed"
)

// CatalogEvent announces a committed catalog change. Key is the natural-key
// path of the changed entity and doubles as the kafka partition key.
type CatalogEvent struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	Revived    int       `json:"revived,omitempty"`
	Deleted    int       `json:"deleted,omitempty"`
	Created    int       `json:"created,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers catalog events.
type Publisher interface {
	Publish(ctx context.Context, event CatalogEvent) error
}

type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher publishes events as JSON on topic through a sync producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) Publisher {
	return &kafkaPublisher{producer: producer, topic: topic, logger: logger.Named("events")}
}

// NewSyncProducer dials the brokers with acknowledgements from all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, event CatalogEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode catalog event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		p.logger.Error("Failed to send catalog event",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send catalog event: %w", err)
	}

	p.logger.Debug("Catalog event sent",
		zap.String("topic", p.topic),
		zap.String("type", event.Type),
		zap.String("key", event.Key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

type nopPublisher struct{}

// NewNopPublisher discards events; used when no brokers are configured.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, CatalogEvent) error {
	return nil
}
