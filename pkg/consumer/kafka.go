package consumer

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Message is one fetched Kafka message
type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
	Topic     string
	Raw       kafka.Message // Keep raw for committing
}

// Consumer fetches messages from one topic and commits them explicitly
type Consumer interface {
	// Consume returns a channel of messages.
	Consume(ctx context.Context) (<-chan Message, <-chan error)

	// Commit commits the offsets of the given messages
	Commit(ctx context.Context, msgs ...Message) error

	// Close gracefully shuts down the consumer
	Close() error
}

// KafkaConsumer implements Consumer using a kafka-go group reader
type KafkaConsumer struct {
	reader *kafka.Reader
}

// Config holds Kafka consumer configuration
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg Config) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &KafkaConsumer{
		reader: reader,
	}
}

// Consume starts the fetch loop
func (c *KafkaConsumer) Consume(ctx context.Context) (<-chan Message, <-chan error) {
	msgChan := make(chan Message)
	errChan := make(chan error, 1)

	go func() {
		defer close(msgChan)
		defer close(errChan)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errChan <- fmt.Errorf("failed to fetch message: %w", err)
				return
			}

			select {
			case msgChan <- Message{
				Key:       m.Key,
				Value:     m.Value,
				Partition: m.Partition,
				Offset:    m.Offset,
				Topic:     m.Topic,
				Raw:       m,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, errChan
}

// Commit commits the offsets of msgs
func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	raw := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		raw = append(raw, m.Raw)
	}
	return c.reader.CommitMessages(ctx, raw...)
}

// Close gracefully shuts down the consumer
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
