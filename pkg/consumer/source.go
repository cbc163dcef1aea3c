package consumer

import (
	"context"
	"fmt"
	"time"

	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/parser"

	"go.uber.org/zap"
)

// SourceConfig controls how fetched messages are grouped into batches
type SourceConfig struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
}

// KafkaSource turns a topic of JSON wire records into change batches. Each
// batch carries its messages as checkpoint, malformed ones included, so a
// commit moves past everything the batch saw.
type KafkaSource struct {
	consumer Consumer
	logger   *logger.Logger
	cfg      SourceConfig
	buffer   BatchBuffer
}

// NewKafkaSource wraps c as a changestream.Source
func NewKafkaSource(c Consumer, l *logger.Logger, cfg SourceConfig) *KafkaSource {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &KafkaSource{
		consumer: c,
		logger:   l.With(zap.String("table", cfg.Table)),
		cfg:      cfg,
		buffer:   NewInMemoryBuffer(cfg.BatchSize),
	}
}

// Watch starts consuming; batches are cut by size or flush interval
func (s *KafkaSource) Watch(ctx context.Context) (<-chan changestream.Batch, <-chan error) {
	batchChan := make(chan changestream.Batch)
	errChan := make(chan error, 1)

	go func() {
		defer close(batchChan)
		defer close(errChan)

		msgChan, consumeErrs := s.consumer.Consume(ctx)

		ticker := time.NewTicker(s.cfg.FlushInterval / 2)
		defer ticker.Stop()

		emit := func() bool {
			entries := s.buffer.Flush()
			if len(entries) == 0 {
				return true
			}
			select {
			case batchChan <- s.toBatch(entries):
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case msg, ok := <-msgChan:
				if !ok {
					if consumeErrs != nil {
						if err, ok := <-consumeErrs; ok && err != nil {
							errChan <- fmt.Errorf("consumer error: %w", err)
							return
						}
					}
					emit()
					return
				}
				if s.buffer.Add(s.parse(msg)) {
					if !emit() {
						return
					}
				}

			case <-ticker.C:
				if s.buffer.ShouldFlush(s.cfg.FlushInterval) {
					if !emit() {
						return
					}
				}

			case err, ok := <-consumeErrs:
				if ok && err != nil {
					errChan <- fmt.Errorf("consumer error: %w", err)
					return
				}
				consumeErrs = nil

			case <-ctx.Done():
				return
			}
		}
	}()

	return batchChan, errChan
}

func (s *KafkaSource) parse(msg Message) Entry {
	rec, err := parser.ParseWireRecord(msg.Value)
	if err != nil {
		// Skipped but still committed with its batch
		s.logger.Warn("skipping malformed message",
			zap.Error(err),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value))
		return Entry{Message: msg}
	}
	return Entry{Message: msg, Record: rec, Valid: true}
}

func (s *KafkaSource) toBatch(entries []Entry) changestream.Batch {
	records := make([]changestream.Record, 0, len(entries))
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.Valid {
			records = append(records, e.Record)
		}
		msgs = append(msgs, e.Message)
	}
	return changestream.Batch{Table: s.cfg.Table, Records: records, Checkpoint: msgs}
}

// Commit commits every message the batch was built from
func (s *KafkaSource) Commit(ctx context.Context, batch changestream.Batch) error {
	msgs, ok := batch.Checkpoint.([]Message)
	if !ok || len(msgs) == 0 {
		return nil
	}
	if err := s.consumer.Commit(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Close shuts down the underlying consumer
func (s *KafkaSource) Close() error {
	return s.consumer.Close()
}
