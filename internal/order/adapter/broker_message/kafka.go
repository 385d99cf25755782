package brokermessage

import (
	"context"
	"fmt"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/IBM/sarama"
)

// Kafka publishes events keyed by order id, so events of one order keep
// their order within a partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	mylog    logger.Logger
}

var _ core.IPublisher = (*Kafka)(nil)

func NewKafka(cfg *config.Kafka, mylog logger.Logger) (*Kafka, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}
	mylog.Action("kafka_connected").Debug("Kafka producer ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafka(producer, cfg.Topic, mylog), nil
}

func newKafka(p sarama.SyncProducer, topic string, mylog logger.Logger) *Kafka {
	return &Kafka{producer: p, topic: topic, mylog: mylog}
}

func (k *Kafka) Publish(ctx context.Context, ev models.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.AggregateID),
		Value: sarama.ByteEncoder(ev.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(ev.ID)},
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
		Timestamp: ev.CreatedAt,
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.ID, err)
	}
	k.mylog.Debug("event published", "event_id", ev.ID, "partition", partition, "offset", offset)
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
