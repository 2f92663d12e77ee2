package events

import (
	"sync"
	"time"
)

// Sink receives dispatched events. Delivery is best-effort: sinks must not
// block call processing and must swallow their own failures.
type Sink interface {
	Deliver(e Event)
}

// Dispatcher assigns timestamps to lifecycle facts and forwards them to a sink.
//
// Timestamps are monotonically non-decreasing per process: events observed for
// a single session are ordered exactly as their transitions were accepted.
type Dispatcher struct {
	sink  Sink
	clock func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink, clock: time.Now}
}

// WithClock overrides the dispatcher clock. Intended for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Emit builds an Event, stamps it and hands it to the sink.
// Events with no type or call id are dropped.
func (d *Dispatcher) Emit(t Type, callID, description string, attrs map[string]any) {
	if t == "" || callID == "" || d.sink == nil {
		return
	}

	d.mu.Lock()
	now := d.clock().UTC()
	if now.Before(d.last) {
		now = d.last
	}
	d.last = now
	d.mu.Unlock()

	d.sink.Deliver(Event{
		Type:        t,
		CallID:      callID,
		Timestamp:   now,
		Description: description,
		Attributes:  attrs,
	})
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Deliver(e Event) {
	for _, s := range m {
		if s != nil {
			s.Deliver(e)
		}
	}
}
