package dispatcher

import (
	"fmt"

	"tunnel/internal/interpreter"
	"tunnel/pkg/changestream"
	"tunnel/pkg/logger"
	"tunnel/pkg/metrics"
	"tunnel/pkg/notifier"

	"go.uber.org/zap"
)

// Stats summarizes one Process call
type Stats struct {
	Forwarded int
	Skipped   int
	Failed    int
}

// Dispatcher feeds a table's change batches through its interpreter into the notifier
type Dispatcher struct {
	logger      *logger.Logger
	table       string
	interpreter interpreter.Interpreter
	notifier    notifier.Notifier
}

// New creates a dispatcher for one table
func New(l *logger.Logger, table string, in interpreter.Interpreter, n notifier.Notifier) *Dispatcher {
	return &Dispatcher{
		logger:      l.With(zap.String("table", table)),
		table:       table,
		interpreter: in,
		notifier:    n,
	}
}

// Table returns the table this dispatcher serves
func (d *Dispatcher) Table() string {
	return d.table
}

// Process handles records in order. A failing record is logged and counted;
// it never stops the rest of the batch and Process never returns an error.
func (d *Dispatcher) Process(records []changestream.Record) Stats {
	var stats Stats
	metrics.BatchesTotal.WithLabelValues(d.table).Inc()

	for i, rec := range records {
		outcome := d.handle(i, rec)
		switch outcome {
		case metrics.OutcomeForwarded:
			stats.Forwarded++
		case metrics.OutcomeSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
		metrics.RecordsTotal.WithLabelValues(d.table, outcome).Inc()
	}

	d.logger.Debug("processed batch",
		zap.Int("records", len(records)),
		zap.Int("forwarded", stats.Forwarded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats
}

func (d *Dispatcher) handle(index int, rec changestream.Record) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while processing record", fmt.Errorf("%v", r),
				zap.Int("index", index),
				zap.String("kind", string(rec.Kind)))
			outcome = metrics.OutcomeFailed
		}
	}()

	n, ok, err := d.interpreter.Interpret(rec)
	if err != nil {
		d.logger.Error("failed to process record", err,
			zap.Int("index", index),
			zap.String("kind", string(rec.Kind)))
		return metrics.OutcomeFailed
	}
	if !ok {
		return metrics.OutcomeSkipped
	}

	d.notifier.Notify(n)
	return metrics.OutcomeForwarded
}
