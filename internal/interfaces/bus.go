package interfaces

import (
	"context"

	"github.com/ternarybob/quaestor/internal/models"
)

// EventSink receives dispatched events. Implementations must tolerate
// bursts; slow sinks are the dispatcher's problem, not the producers'.
type EventSink interface {
	Consume(event models.Event)
}

// EventBus is a bounded multi-producer single-consumer queue. Publish
// never blocks: when the buffer is full the oldest non-error event is
// evicted and counted.
type EventBus interface {
	// Publish enqueues an event, evicting if needed. Safe from any
	// goroutine.
	Publish(event models.Event)

	// Next blocks until an event is available or ctx is done. Single
	// consumer only.
	Next(ctx context.Context) (models.Event, bool)

	// Dropped reports how many events have been evicted so far
	Dropped() uint64

	// Close wakes the consumer and rejects further publishes
	Close()
}
