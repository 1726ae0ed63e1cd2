package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/metrics"
)

// LatencyObserver tracks per-turn response latency: finalized
// transcript, first generated token, first audible output, and queue
// drain. The turn is logged and forgotten once its queue drains.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*turnTrace
	log    *slog.Logger
}

type turnTrace struct {
	final      time.Time
	firstToken time.Time
	firstAudio time.Time
	drained    time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*turnTrace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	turnID := ""
	if ev.Tags != nil {
		turnID = ev.Tags["turn_id"]
	}
	if turnID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[turnID]
	if t == nil {
		t = &turnTrace{}
		o.traces[turnID] = t
	}
	switch ev.Name {
	case metrics.EventListenFinal:
		if t.final.IsZero() {
			t.final = ev.Time
		}
	case metrics.EventGenFirstToken:
		if t.firstToken.IsZero() {
			t.firstToken = ev.Time
		}
	case metrics.EventPlaybackStart, metrics.EventAckPlayed:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
		}
	case metrics.EventQueueDrained:
		t.drained = ev.Time
	}
	if !t.drained.IsZero() {
		o.logTurnLocked(turnID, t)
		delete(o.traces, turnID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(turnID string, t *turnTrace) {
	o.log.Info("turn latency",
		"turn_id", turnID,
		"first_token_ms", durationMs(t.final, t.firstToken),
		"first_audio_ms", durationMs(t.final, t.firstAudio),
		"turn_total_ms", durationMs(t.final, t.drained),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*LatencyObserver)(nil)
