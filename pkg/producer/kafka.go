package producer

import (
	"context"
	"fmt"
	"strings"

	"tunnel/pkg/changestream"
	"tunnel/pkg/parser"

	"github.com/segmentio/kafka-go"
)

// ProduceResult holds the result of an asynchronous production
type ProduceResult struct {
	Error error
}

// Producer publishes change records as wire records
type Producer interface {
	// PublishAsync sends a raw message. Returns a channel that receives the
	// result when the write completes.
	PublishAsync(ctx context.Context, topic string, key, value []byte) <-chan ProduceResult

	// PublishRecord encodes rec and sends it to the table's topic, keyed by its primary key
	PublishRecord(ctx context.Context, table string, rec changestream.Record) <-chan ProduceResult

	// Close gracefully shuts down the producer
	Close() error
}

// KafkaProducer implements Producer using kafka-go
type KafkaProducer struct {
	writer *kafka.Writer
}

// Config holds Kafka producer configuration
type Config struct {
	Brokers []string
}

// NewKafkaProducer creates a producer whose messages name their own topic
func NewKafkaProducer(cfg Config) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaProducer{
		writer: writer,
	}
}

// PublishAsync writes in the background and reports the outcome on the returned channel
func (p *KafkaProducer) PublishAsync(ctx context.Context, topic string, key, value []byte) <-chan ProduceResult {
	resultChan := make(chan ProduceResult, 1)

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	go func() {
		err := p.writer.WriteMessages(ctx, msg)
		resultChan <- ProduceResult{Error: err}
		close(resultChan)
	}()

	return resultChan
}

// PublishRecord encodes rec as a wire record and publishes it to the table topic
func (p *KafkaProducer) PublishRecord(ctx context.Context, table string, rec changestream.Record) <-chan ProduceResult {
	value, err := parser.EncodeWireRecord(table, rec)
	if err != nil {
		resultChan := make(chan ProduceResult, 1)
		resultChan <- ProduceResult{Error: fmt.Errorf("failed to encode record: %w", err)}
		close(resultChan)
		return resultChan
	}
	return p.PublishAsync(ctx, table, RecordKey(rec), value)
}

// Close gracefully shuts down the producer
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// RecordKey joins the primary key values so every version of a row lands on one partition
func RecordKey(rec changestream.Record) []byte {
	parts := make([]string, 0, len(rec.PrimaryKey))
	for _, c := range rec.PrimaryKey {
		parts = append(parts, fmt.Sprint(c.Value.Raw))
	}
	return []byte(strings.Join(parts, "/"))
}
