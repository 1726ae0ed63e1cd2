package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/stt"
)

// STTConfig scripts what a mock recognition session emits.
type STTConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// ErrorReason, when set, replaces the final transcript with an
	// error event carrying this reason code.
	ErrorReason string
	// Delay before events are emitted after Start.
	Delay time.Duration
}

// Recognizer is a scripted recognition runtime. Each Start emits the
// configured event sequence once, then an end event.
type Recognizer struct {
	cfg    STTConfig
	out    chan stt.Event
	mu     sync.Mutex
	cancel context.CancelFunc

	startCount int
	stopCount  int
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	if cfg.Transcript == "" && cfg.ErrorReason == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Recognizer{cfg: cfg, out: make(chan stt.Event, 16)}
}

// Events returns the current session's stream. Each Start replaces it
// and the stream is closed when the session ends.
func (r *Recognizer) Events() <-chan stt.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

func (r *Recognizer) Name() string { return "mock_stt" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return errors.New("already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.out = make(chan stt.Event, 16)
	r.startCount++
	out := r.out
	r.mu.Unlock()

	go r.emit(ctx, out)
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
		r.stopCount++
	}
	return nil
}

// StartCount reports how many sessions were opened.
func (r *Recognizer) StartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startCount
}

// StopCount reports how many sessions were explicitly stopped.
func (r *Recognizer) StopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCount
}

func (r *Recognizer) emit(ctx context.Context, out chan stt.Event) {
	defer close(out)
	if r.cfg.Delay > 0 {
		select {
		case <-time.After(r.cfg.Delay):
		case <-ctx.Done():
			return
		}
	}

	if r.cfg.EmitInterim {
		interim := r.cfg.InterimTranscript
		if interim == "" {
			interim = r.cfg.Transcript
		}
		r.send(ctx, out, stt.Event{Kind: stt.EventInterim, Text: interim})
	}

	if r.cfg.ErrorReason != "" {
		r.send(ctx, out, stt.Event{
			Kind:   stt.EventError,
			Reason: r.cfg.ErrorReason,
			Err:    errors.New("scripted recognition error"),
		})
		return
	}

	r.send(ctx, out, stt.Event{Kind: stt.EventFinal, Text: r.cfg.Transcript})
	r.send(ctx, out, stt.Event{Kind: stt.EventEnd})
}

func (r *Recognizer) send(ctx context.Context, out chan stt.Event, ev stt.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

var _ stt.Recognizer = (*Recognizer)(nil)
