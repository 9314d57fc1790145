// Package databus publishes wallet state changes to downstream consumers.
package databus

import (
	"context"
	"strings"

	"gopkg.in/Shopify/sarama.v1"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

// Sink receives published events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

type DataBus struct {
	producer sarama.SyncProducer
	topic    string
}

var _ Sink = (*DataBus)(nil)

// NewDataBus connects a sync producer to the comma separated brokers in
// host. A non empty topic overrides the topic of every event.
func NewDataBus(host, topic string) (*DataBus, error) {
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	log.Info("Kafka producer initialized...")
	return NewWithProducer(p, topic), nil
}

func NewWithProducer(p sarama.SyncProducer, topic string) *DataBus {
	return &DataBus{producer: p, topic: topic}
}

func (db *DataBus) Name() string { return "kafka" }

func (db *DataBus) PublishRaw(topic string, key, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("databus - produced to %s partition %d offset %d", topic, partition, offset)
	return nil
}

func (db *DataBus) Publish(_ context.Context, e Event) error {
	topic := e.Topic()
	if db.topic != "" {
		topic = db.topic
	}
	var key []byte
	if k, ok := e.(interface{ Key() []byte }); ok {
		key = k.Key()
	}
	return db.PublishRaw(topic, key, e.Serialize())
}

func (db *DataBus) Close() error {
	return errors.Wrap(db.producer.Close(), "close kafka producer")
}
