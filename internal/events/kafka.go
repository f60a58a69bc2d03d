package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tradepost/internal/models"

	"github.com/IBM/sarama"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	DialAttempts int
	DialBackoff  time.Duration
}

// KafkaPublisher writes transaction events to a topic keyed by transaction
// id, so all events of one transaction land on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher dials the brokers, retrying while they come up.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 5
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 2 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tradepost-escrow"
	}

	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1

	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= cfg.DialAttempts; i++ {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, config)
		if err == nil {
			break
		}
		logger.Warn("waiting for kafka",
			slog.Int("attempt", i),
			slog.Int("max_attempts", cfg.DialAttempts),
			slog.Any("error", err))
		if i < cfg.DialAttempts {
			time.Sleep(cfg.DialBackoff)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", slog.String("topic", cfg.Topic))
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TransactionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s event: %w", event.Type, err)
	}

	p.logger.Debug("event published",
		slog.String("event", event.Type),
		slog.String("transaction_id", event.TransactionID),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the log. Used when no brokers are
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event models.TransactionEvent) error {
	p.logger.Info("transaction event",
		slog.String("event", event.Type),
		slog.String("transaction_id", event.TransactionID),
		slog.String("status", string(event.Status)))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
