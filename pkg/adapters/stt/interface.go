package stt

import "context"

// EventKind discriminates recognizer events.
type EventKind int

const (
	// EventInterim carries a provisional, not-yet-final transcript.
	EventInterim EventKind = iota
	// EventFinal carries a finalized transcript fragment.
	EventFinal
	// EventEnd signals the recognizer stopped producing results for
	// the current session (end of utterance or explicit Stop).
	EventEnd
	// EventError carries a failure with a reason code.
	EventError
)

// Event is a single recognizer callback delivered on the Events channel.
type Event struct {
	Kind   EventKind
	Text   string
	Reason string
	Err    error
}

// Recognizer defines the contract for any speech-recognition runtime.
// Implementations are event based: Start opens a session, results and
// errors arrive on Events, Stop ends the session. A stopped recognizer
// may be started again for the next listening turn.
type Recognizer interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// Start begins a recognition session.
	Start(ctx context.Context) error
	// Stop ends the session. Safe to call when not started.
	Stop() error
	// Events returns the current session's event stream. Each Start
	// replaces the stream; read it after Start returns.
	Events() <-chan Event
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	Interim    bool
}

// Benign reason codes a recognizer may report; in always-on mode the
// engine restarts listening after these instead of surfacing an error.
const (
	ReasonNoSpeech = "no_speech"
	ReasonAborted  = "aborted"
)
