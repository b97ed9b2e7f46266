package audit

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to one topic, keyed by tuple so a tuple's events
// stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink builds a synchronous writer with acks from all replicas.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaSink(w, topic)
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	if topic == "" {
		topic = "cfgstore.audit"
	}
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serialize audit event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(e.PartitionKey()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
