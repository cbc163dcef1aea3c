package consumer

import (
	"sync"
	"time"

	"tunnel/pkg/changestream"
)

// Entry is a fetched message and, when it parsed, the record it carries
type Entry struct {
	Message Message
	Record  changestream.Record
	Valid   bool
}

// BatchBuffer defines the interface for buffering entries before a flush
type BatchBuffer interface {
	// Add adds an entry to the buffer. Returns true if buffer should be flushed.
	Add(e Entry) bool

	// Flush returns all buffered entries and clears the buffer
	Flush() []Entry

	// Size returns the current number of buffered entries
	Size() int

	// ShouldFlush checks if flush conditions are met based on time
	ShouldFlush(interval time.Duration) bool
}

// InMemoryBuffer implements BatchBuffer using a slice
type InMemoryBuffer struct {
	mu        sync.Mutex
	entries   []Entry
	capacity  int
	lastFlush time.Time
}

// NewInMemoryBuffer creates a new InMemoryBuffer instance
func NewInMemoryBuffer(capacity int) *InMemoryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &InMemoryBuffer{
		entries:   make([]Entry, 0, capacity),
		capacity:  capacity,
		lastFlush: time.Now(),
	}
}

// Add adds an entry to the buffer
func (b *InMemoryBuffer) Add(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	return len(b.entries) >= b.capacity
}

// Flush returns the current batch and clears the buffer
func (b *InMemoryBuffer) Flush() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.entries
	b.entries = make([]Entry, 0, b.capacity)
	b.lastFlush = time.Now()
	return batch
}

// Size returns the current size
func (b *InMemoryBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// ShouldFlush returns true if the interval has passed since the last flush
func (b *InMemoryBuffer) ShouldFlush(interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return false
	}

	return time.Since(b.lastFlush) >= interval
}
