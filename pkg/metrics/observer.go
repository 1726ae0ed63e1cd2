package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Event names emitted by the engine and capability runtimes.
const (
	EventStateChange    = "state_change"
	EventLoadProgress   = "load_progress"
	EventListenFinal    = "listen_final"
	EventGenFirstToken  = "gen_first_token"
	EventGenDone        = "gen_done"
	EventSynthRequested = "synth_requested"
	EventSynthDone      = "synth_done"
	EventPlaybackStart  = "playback_start"
	EventPlaybackDone   = "playback_done"
	EventQueueDrained   = "queue_drained"
	EventAckPlayed      = "ack_played"
	EventTurnError      = "turn_error"
)

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
