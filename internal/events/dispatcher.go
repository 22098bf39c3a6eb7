package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// Dispatcher is the bus's single consumer. It drains events in order and
// fans each one out to the registered sinks. A panicking sink is detached
// so the stream keeps flowing for the others.
type Dispatcher struct {
	bus    interfaces.EventBus
	logger arbor.ILogger

	mu    sync.RWMutex
	sinks []interfaces.EventSink

	done chan struct{}
	once sync.Once
}

// NewDispatcher creates a dispatcher over the given bus
func NewDispatcher(bus interfaces.EventBus, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// AddSink registers a sink. Safe before or after Start.
func (d *Dispatcher) AddSink(sink interfaces.EventSink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Start begins draining the bus until ctx is done or the bus closes
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	for {
		event, ok := d.bus.Next(ctx)
		if !ok {
			return
		}

		d.mu.RLock()
		sinks := make([]interfaces.EventSink, len(d.sinks))
		copy(sinks, d.sinks)
		d.mu.RUnlock()

		for _, sink := range sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink interfaces.EventSink, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("event_type", string(event.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event sink panicked, detaching")
			d.removeSink(sink)
		}
	}()
	sink.Consume(event)
}

func (d *Dispatcher) removeSink(target interfaces.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.sinks {
		if s == target {
			d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
			return
		}
	}
}

// Done is closed once the dispatcher has drained and stopped
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}
