package playback

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/resilience"
)

// Queue serializes synthesis and playback. Items play in strict FIFO
// order, one at a time; a new synthesis request is not started until
// the prior item's audio handle is released. When the last item
// finishes, the drained callback fires exactly once.
type Queue struct {
	synth    tts.Synthesizer
	fallback tts.Speaker
	dev      Device
	opts     tts.Options
	retry    resilience.RetryPolicy

	mu      sync.Mutex
	pending []string
	busy    bool
	epoch   int
	current Handle
	filler  Handle

	ctx       context.Context
	sessionID string
	turnID    string
	onDrained func()
	onError   func(error)
	obs       metrics.Observer
	logger    *slog.Logger
}

// Config wires a queue's collaborators.
type Config struct {
	Synthesizer tts.Synthesizer
	Fallback    tts.Speaker
	Device      Device
	Options     tts.Options
	SessionID   string
	// OnDrained fires when the queue empties after the last item's
	// handle is released. It never fires on StopAll.
	OnDrained func()
	// OnError fires when an item can neither be synthesized nor
	// spoken by the fallback; pending items are discarded first.
	OnError  func(error)
	Observer metrics.Observer
	Logger   *slog.Logger
}

func NewQueue(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		synth:     cfg.Synthesizer,
		fallback:  cfg.Fallback,
		dev:       cfg.Device,
		opts:      cfg.Options,
		retry:     resilience.NewRetryPolicy(2, 200*time.Millisecond),
		ctx:       context.Background(),
		sessionID: cfg.SessionID,
		onDrained: cfg.OnDrained,
		onError:   cfg.OnError,
		obs:       cfg.Observer,
		logger:    logging.NewComponentLogger(logger, "playback"),
	}
}

func (q *Queue) SetContext(ctx context.Context) {
	if ctx != nil {
		q.ctx = ctx
	}
}

// SetTurn tags subsequent metrics events with the active turn id.
func (q *Queue) SetTurn(turnID string) {
	q.mu.Lock()
	q.turnID = turnID
	q.mu.Unlock()
}

// Enqueue appends a pending synthesis job. If the queue was empty and
// idle, processing begins immediately.
func (q *Queue) Enqueue(text string) {
	q.mu.Lock()
	q.pending = append(q.pending, text)
	start := !q.busy
	if start {
		q.busy = true
	}
	epoch := q.epoch
	q.mu.Unlock()
	if start {
		go q.run(epoch)
	}
}

// Busy reports whether anything is pending or playing. The recognizer
// must never start while this is true.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy || len(q.pending) > 0 || q.current != nil || q.filler != nil
}

// Len returns the number of pending, not-yet-played items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PlayFiller plays a prebaked acknowledgment clip outside the FIFO
// order. The filler is truncated as soon as the first real item's
// audio is ready, or by StopAll. Idempotent while a filler is active.
func (q *Queue) PlayFiller(clip tts.Clip) error {
	q.mu.Lock()
	if q.filler != nil {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	h, err := q.dev.Play(clip)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	q.mu.Lock()
	q.filler = h
	q.mu.Unlock()
	q.record(metrics.EventAckPlayed, clip.Text)
	go func() {
		<-h.Done()
		q.mu.Lock()
		if q.filler == h {
			q.filler = nil
		}
		q.mu.Unlock()
	}()
	return nil
}

// StopAll halts any current playback, discards the handle, and clears
// all pending items. Calling it on an empty idle queue is a no-op.
func (q *Queue) StopAll() {
	q.mu.Lock()
	q.epoch++
	q.pending = nil
	q.busy = false
	current := q.current
	filler := q.filler
	q.current = nil
	q.filler = nil
	q.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	if filler != nil {
		filler.Stop()
	}
}

func (q *Queue) run(epoch int) {
	for {
		q.mu.Lock()
		if q.epoch != epoch {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.busy = false
			q.mu.Unlock()
			q.record(metrics.EventQueueDrained, "")
			if q.onDrained != nil {
				q.onDrained()
			}
			return
		}
		text := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if !q.playItem(epoch, text) {
			return
		}
	}
}

// playItem synthesizes and plays one item. Returns false when the run
// loop should stop (epoch changed or unrecoverable error).
func (q *Queue) playItem(epoch int, text string) bool {
	q.record(metrics.EventSynthRequested, text)
	var clip tts.Clip
	err := q.retry.Do(func() error {
		var synthErr error
		clip, synthErr = q.synth.Synthesize(q.ctx, text, q.opts)
		return synthErr
	})
	if q.expired(epoch) {
		return false
	}
	if err != nil {
		return q.speakFallback(epoch, text, err)
	}
	q.record(metrics.EventSynthDone, text)

	// Real audio is ready: truncate any acknowledgment filler.
	q.mu.Lock()
	filler := q.filler
	q.filler = nil
	q.mu.Unlock()
	if filler != nil {
		filler.Stop()
	}

	h, err := q.dev.Play(clip)
	if err != nil {
		q.logger.Warn("playback failed, advancing", "error", err)
		return true
	}
	q.mu.Lock()
	if q.epoch != epoch {
		q.mu.Unlock()
		h.Stop()
		return false
	}
	q.current = h
	q.mu.Unlock()

	q.record(metrics.EventPlaybackStart, text)
	<-h.Done()
	q.record(metrics.EventPlaybackDone, text)

	q.mu.Lock()
	if q.current == h {
		q.current = nil
	}
	expired := q.epoch != epoch
	q.mu.Unlock()
	return !expired
}

// speakFallback routes a failed synthesis through the native speaker.
// Without a fallback the turn cannot continue: pending items are
// discarded and the error surfaces through OnError.
func (q *Queue) speakFallback(epoch int, text string, synthErr error) bool {
	synthErr = errorsx.Wrap(synthErr, errorsx.ReasonSynthesisFailed)

	// Fallback speech is real audio too: the filler must not keep
	// playing underneath it.
	q.mu.Lock()
	filler := q.filler
	q.filler = nil
	q.mu.Unlock()
	if filler != nil {
		filler.Stop()
	}

	if q.fallback == nil {
		q.logger.Error("synthesis failed with no fallback", "error", synthErr)
		q.abort(epoch)
		if q.onError != nil {
			q.onError(synthErr)
		}
		return false
	}
	q.logger.Warn("synthesis failed, using native fallback",
		"synthesizer", q.synth.Name(), "fallback", q.fallback.Name(), "error", synthErr)
	speed := q.opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	if err := q.fallback.Speak(q.ctx, text, speed, 1.0); err != nil {
		q.logger.Error("fallback speaker failed", "error", err)
		q.abort(epoch)
		if q.onError != nil {
			q.onError(errorsx.Wrap(err, errorsx.ReasonFallbackFailed))
		}
		return false
	}
	return !q.expired(epoch)
}

func (q *Queue) abort(epoch int) {
	q.mu.Lock()
	if q.epoch == epoch {
		q.pending = nil
		q.busy = false
	}
	q.mu.Unlock()
}

func (q *Queue) expired(epoch int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch != epoch
}

func (q *Queue) record(name, text string) {
	if q.obs == nil {
		return
	}
	q.mu.Lock()
	turnID := q.turnID
	q.mu.Unlock()
	tags := map[string]string{"session_id": q.sessionID}
	if turnID != "" {
		tags["turn_id"] = turnID
	}
	if text != "" {
		tags["chars"] = strconv.Itoa(len(text))
	}
	q.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}
