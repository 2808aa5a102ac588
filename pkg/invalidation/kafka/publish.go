package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/h3-netplan/internal/invalidation"
)

// Publisher sends invalidation events synchronously; planctl uses it.
type Publisher struct {
	topic string
	prod  sarama.SyncProducer
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation: create sync producer: %w", err)
	}
	return &Publisher{topic: topic, prod: prod}, nil
}

// Publish validates ev and returns the partition and offset it landed on.
func (p *Publisher) Publish(ev invalidation.Event) (int32, int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("invalid event: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, err
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.TS,
	}
	if len(ev.Fingerprints) > 0 {
		msg.Key = sarama.StringEncoder(ev.Fingerprints[0])
	} else {
		msg.Key = sarama.StringEncoder(ev.Algorithm)
	}
	part, off, err := p.prod.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("send to %s: %w", p.topic, err)
	}
	return part, off, nil
}

func (p *Publisher) Close() error { return p.prod.Close() }
