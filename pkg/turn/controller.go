package turn

import (
	"strings"
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Listener observes turn state changes. The controller has no
// dependency on any rendering or runtime mechanism; side effects live
// entirely in listeners.
type Listener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

// Controller is the finite state machine governing whose turn it is.
// All inputs are serialized under one mutex: no two turns' work ever
// overlaps, and listeners observe transitions in order.
type Controller struct {
	mu        sync.Mutex
	state     State
	mode      Mode
	listeners []Listener
}

func NewController(mode Mode) *Controller {
	return &Controller{state: StateIdle, mode: mode}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the configured turn-ending mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches between manual and always-on. Takes effect at the
// next Speaking turn end.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// AddListener registers a listener for state change events.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// InvalidTransitionError reports an input that is not legal in the
// current state. The input is ignored; state is unchanged.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

var validTransitions = map[State][]State{
	StateIdle:      {StateListening},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateIdle},
	StateSpeaking:  {StateIdle, StateListening},
}

// Begin starts a listening turn: user pressed the control, or an
// always-on restart after speaking finished.
func (c *Controller) Begin(reason string) error {
	return c.transition(StateListening, reason)
}

// UtteranceFinalized ends a listening turn with the promoted
// transcript. Non-empty trimmed text moves to Thinking; an empty
// utterance goes straight back to Idle with no generation call.
func (c *Controller) UtteranceFinalized(text string) error {
	if strings.TrimSpace(text) == "" {
		return c.transition(StateIdle, "empty transcript")
	}
	return c.transition(StateThinking, "transcript finalized")
}

// RecognitionFailed ends a listening turn on an unrecoverable
// recognizer error.
func (c *Controller) RecognitionFailed(reason string) error {
	return c.transition(StateIdle, "recognition error: "+reason)
}

// Generated ends a thinking turn with the model's response. Empty
// output is treated like a failed generation.
func (c *Controller) Generated(text string) error {
	if strings.TrimSpace(text) == "" {
		return c.transition(StateIdle, "empty generation")
	}
	return c.transition(StateSpeaking, "response ready")
}

// GenerationFailed aborts a thinking turn. No partial output is kept.
func (c *Controller) GenerationFailed() error {
	return c.transition(StateIdle, "generation error")
}

// QueueDrained ends a speaking turn once the playback queue emptied.
// Manual mode returns to Idle; always-on resumes listening.
func (c *Controller) QueueDrained() error {
	c.mu.Lock()
	next := StateIdle
	reason := "playback drained"
	if c.mode == ModeAlwaysOn {
		next = StateListening
		reason = "playback drained, always-on restart"
	}
	c.mu.Unlock()
	return c.transition(next, reason)
}

// Cancel forces an immediate transition to Idle from any state.
// Returns false when already idle (nothing to cancel).
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	_ = c.transition(StateIdle, "canceled")
	return true
}

func (c *Controller) transition(to State, reason string) error {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	if !transitionValid(from, to) {
		c.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	c.state = to
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	event := StateChange{From: from, To: to, Reason: reason, At: time.Now()}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
