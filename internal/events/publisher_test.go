package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_SendsJSONEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer func() { _ = producer.Close() }()

	var sent CatalogEvent
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		return json.Unmarshal(value, &sent)
	})

	publisher := NewKafkaPublisher(producer, "catalog-events", zap.NewNop())
	err := publisher.Publish(context.Background(), CatalogEvent{
		Type:    SubcategoryUpdated,
		Key:     "Home/Kitchen/Pans",
		Deleted: 3,
		Created: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, SubcategoryUpdated, sent.Type)
	assert.Equal(t, "Home/Kitchen/Pans", sent.Key)
	assert.Equal(t, 3, sent.Deleted)
	assert.Equal(t, 1, sent.Created)
	assert.False(t, sent.OccurredAt.IsZero(), "publish stamps the event time")
}

func TestKafkaPublisher_KeepsOccurredAt(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer func() { _ = producer.Close() }()

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sent CatalogEvent
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		return json.Unmarshal(value, &sent)
	})

	publisher := NewKafkaPublisher(producer, "catalog-events", zap.NewNop())
	require.NoError(t, publisher.Publish(context.Background(), CatalogEvent{Type: MainCategoryDeleted, Key: "Home", OccurredAt: occurred}))

	assert.True(t, occurred.Equal(sent.OccurredAt))
}

func TestKafkaPublisher_ReportsSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer func() { _ = producer.Close() }()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisher(producer, "catalog-events", zap.NewNop())
	err := publisher.Publish(context.Background(), CatalogEvent{Type: CategoryCreated, Key: "Home/Kitchen"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, sarama.ErrOutOfBrokers))
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NewNopPublisher().Publish(context.Background(), CatalogEvent{Type: ProductChanged}))
}
