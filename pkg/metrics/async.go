package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver decouples event producers from a slow inner observer.
// Events are buffered on a channel and delivered from a single
// goroutine; when the buffer is full the event is dropped rather than
// blocking the audio path, and the drop is counted.
type AsyncObserver struct {
	inner   Observer
	events  chan MetricsEvent
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:  inner,
		events: make(chan MetricsEvent, buffer),
	}
	go a.deliver()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops delivery. Events recorded after Close are discarded.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.events)
	})
}

func (a *AsyncObserver) deliver() {
	for ev := range a.events {
		a.inner.RecordEvent(ev)
	}
}
