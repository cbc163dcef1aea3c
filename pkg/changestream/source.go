package changestream

import "context"

// Source delivers batches of change records for a single table. It owns the
// connection lifecycle, reconnection and checkpoints; consumers only see batches.
type Source interface {
	// Watch starts streaming from the last committed checkpoint.
	// The batch channel is closed when the stream ends.
	Watch(ctx context.Context) (<-chan Batch, <-chan error)

	// Commit persists the checkpoint carried by a processed batch
	Commit(ctx context.Context, batch Batch) error

	// Close gracefully shuts down the source
	Close() error
}
