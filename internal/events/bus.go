package events

import (
	"context"
	"sync"

	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

const defaultBufferSize = 4096

// Bus is a bounded multi-producer single-consumer queue backed by a ring.
// Publish never blocks a producer: when the ring is full the oldest
// non-error event is evicted and counted; error events are evicted only
// when nothing else remains.
type Bus struct {
	mu      sync.Mutex
	ready   *sync.Cond
	buf     []models.Event
	head    int
	size    int
	dropped uint64
	closed  bool
}

// NewBus creates a bus with the given capacity. Sizes below 1 fall back
// to the default.
func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = defaultBufferSize
	}
	b := &Bus{buf: make([]models.Event, capacity)}
	b.ready = sync.NewCond(&b.mu)
	return b
}

// Publish enqueues an event. Safe from any goroutine, returns immediately.
func (b *Bus) Publish(event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.size == len(b.buf) {
		b.evictLocked()
	}

	tail := (b.head + b.size) % len(b.buf)
	b.buf[tail] = event
	b.size++
	b.ready.Signal()
}

// evictLocked drops the oldest non-error event, or the oldest event when
// the ring holds only errors.
func (b *Bus) evictLocked() {
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % len(b.buf)
		if b.buf[idx].Type != models.EventError {
			b.removeAtLocked(i)
			b.dropped++
			return
		}
	}
	b.removeAtLocked(0)
	b.dropped++
}

func (b *Bus) removeAtLocked(offset int) {
	// Shift everything after the removed slot one step toward the head.
	for i := offset; i < b.size-1; i++ {
		from := (b.head + i + 1) % len(b.buf)
		to := (b.head + i) % len(b.buf)
		b.buf[to] = b.buf[from]
	}
	b.size--
}

// Next blocks until an event is available, the bus closes, or ctx is done.
// The second return is false when no more events will arrive.
func (b *Bus) Next(ctx context.Context) (models.Event, bool) {
	// Wake the cond wait when the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.ready.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 {
		if b.closed || ctx.Err() != nil {
			return models.Event{}, false
		}
		b.ready.Wait()
	}

	event := b.buf[b.head]
	b.buf[b.head] = models.Event{}
	b.head = (b.head + 1) % len(b.buf)
	b.size--
	return event, true
}

// Dropped reports how many events have been evicted so far
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Len reports the number of buffered events
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close rejects further publishes and wakes the consumer. Buffered events
// remain readable until drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ready.Broadcast()
}

var _ interfaces.EventBus = (*Bus)(nil)
