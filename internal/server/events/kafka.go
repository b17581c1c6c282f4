package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each event as one JSON message keyed by Event.Key.
// The writer is asynchronous: Publish only enqueues, and delivery failures
// are reported to the logger.
type Kafka struct {
	writer messageWriter
}

func NewKafka(brokers []string, topic string, log logging.Logger) *Kafka {
	if log == nil {
		log = logging.Nop()
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn(context.Background(), "events not delivered", "count", len(msgs), "error", err)
			}
		},
	}}
}

func (k *Kafka) Publish(ctx context.Context, e *Event) error {
	value, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key), Value: value}); err != nil {
		return fmt.Errorf("write event %s: %w", e.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
