package priority

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxloop/voxloop/pkg/frames"
)

type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
	Dropped  int64
}

// Queue is a two-lane outbound frame queue. Control and system frames
// ride the high lane so state changes and cancellations are never
// stuck behind buffered audio or token text.
type Queue struct {
	high     chan frames.Frame
	low      chan frames.Frame
	done     chan struct{}
	closing  sync.Once
	fairness int
	highPush int64
	lowPush  int64
	highPop  int64
	lowPop   int64
	dropped  int64
}

func New(highCap, lowCap, fairness int) *Queue {
	if fairness <= 0 {
		fairness = 3
	}
	return &Queue{
		high:     make(chan frames.Frame, highCap),
		low:      make(chan frames.Frame, lowCap),
		done:     make(chan struct{}),
		fairness: fairness,
	}
}

// Push routes a frame to the lane matching its kind.
func (q *Queue) Push(f frames.Frame) bool {
	switch f.Kind() {
	case frames.KindControl, frames.KindSystem:
		return q.TryPushHigh(f)
	default:
		return q.TryPushLow(f)
	}
}

func (q *Queue) TryPushHigh(f frames.Frame) bool {
	select {
	case q.high <- f:
		atomic.AddInt64(&q.highPush, 1)
		return true
	default:
		atomic.AddInt64(&q.dropped, 1)
		return false
	}
}

func (q *Queue) TryPushLow(f frames.Frame) bool {
	select {
	case q.low <- f:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		atomic.AddInt64(&q.dropped, 1)
		return false
	}
}

// Pop returns the next frame, preferring the high lane. It blocks
// until a frame arrives or Close is called.
func (q *Queue) Pop() (frames.Frame, bool) {
	for {
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			return f, true
		default:
		}
		select {
		case f := <-q.low:
			atomic.AddInt64(&q.lowPop, 1)
			return f, true
		default:
		}
		select {
		case <-q.done:
			return nil, false
		case <-time.After(time.Millisecond):
		}
	}
}

// Close unblocks any Pop. Pushed-but-unpopped frames are discarded.
func (q *Queue) Close() {
	q.closing.Do(func() { close(q.done) })
}

func (q *Queue) Stats() Stats {
	return Stats{
		HighPush: atomic.LoadInt64(&q.highPush),
		LowPush:  atomic.LoadInt64(&q.lowPush),
		HighPop:  atomic.LoadInt64(&q.highPop),
		LowPop:   atomic.LoadInt64(&q.lowPop),
		Dropped:  atomic.LoadInt64(&q.dropped),
	}
}
