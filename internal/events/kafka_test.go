package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tradepost/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sampleEvent() models.TransactionEvent {
	return models.TransactionEvent{
		Type:          models.EventTransactionCompleted,
		TransactionID: "txn-1",
		ListingID:     "lst-1",
		BuyerID:       2,
		SellerID:      1,
		Status:        models.StatusCompleted,
		Amount:        12000,
		Currency:      "usd",
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "txn-1" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event models.TransactionEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Type != models.EventTransactionCompleted || event.Status != models.StatusCompleted {
			return errors.New("unexpected payload")
		}
		if msg.Topic != "escrow.transactions" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "escrow.transactions", discardLogger())
	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "escrow.transactions", discardLogger())
	err := pub.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), models.EventTransactionCompleted)
	require.NoError(t, pub.Close())
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "escrow.transactions"}, discardLogger())
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(discardLogger())
	assert.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	assert.NoError(t, pub.Close())
}
