// Package publisher hands generated deadlines to the reminder scheduler over Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"demarches/internal/deadline"
)

// Producer is the part of *kgo.Client the publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Event is the record value published for each deadline.
type Event struct {
	Household string            `json:"household"`
	Deadline  deadline.Deadline `json:"deadline"`
}

// KafkaPublisher writes one record per deadline, keyed by household and deadline id so the
// consumer can upsert: re-publishing unchanged deadlines yields identical keys and values.
// Deadline ids alone are shared by every household hit by the same rule on the same date.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func New(producer Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// NewClient builds a franz-go client producing to topic with full-ISR acks.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// RecordKey is the compaction key of a deadline published for household.
func RecordKey(household string, d deadline.Deadline) []byte {
	return []byte(household + "/" + d.ID.String())
}

// Publish sends deadlines for household and waits for the broker acknowledgements.
func (p *KafkaPublisher) Publish(ctx context.Context, household string, deadlines []deadline.Deadline) error {
	if len(deadlines) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(deadlines))
	for _, d := range deadlines {
		value, err := json.Marshal(Event{Household: household, Deadline: d})
		if err != nil {
			return fmt.Errorf("encode deadline %s: %w", d.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   RecordKey(household, d),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "deadline_type", Value: []byte(d.Type)},
				{Key: "rule_id", Value: []byte(d.RuleID)},
			},
		})
	}

	if err := p.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publish deadlines: %w", err)
	}
	p.logger.InfoContext(ctx, "deadlines published",
		"topic", p.topic,
		"count", len(records),
	)
	return nil
}
