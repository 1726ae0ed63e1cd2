package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/pkg/ack"
	"github.com/voxloop/voxloop/pkg/adapters/stt"
	"github.com/voxloop/voxloop/pkg/config"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/frames"
	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/playback"
	"github.com/voxloop/voxloop/pkg/redact"
	"github.com/voxloop/voxloop/pkg/resilience"
	"github.com/voxloop/voxloop/pkg/status"
	"github.com/voxloop/voxloop/pkg/transcript"
	"github.com/voxloop/voxloop/pkg/turn"
)

type eventKind int

const (
	evStart eventKind = iota
	evCancel
	evText
	evRecognizer
	evGenDone
	evDrained
	evPlaybackError
	evLoadDone
)

// sessionEvent is one item on the session's serialized event loop.
// Events produced by a turn carry that turn's epoch; the loop drops
// anything whose epoch no longer matches.
type sessionEvent struct {
	kind  eventKind
	epoch int
	text  string
	recog stt.Event
	err   error
}

// sessionDeps are the per-session collaborators the engine wires up.
type sessionDeps struct {
	cfg      config.Config
	recog    stt.Recognizer
	gen      llm.Generator
	acks     *ack.Cache
	ctrl     *turn.Controller
	queue    *playback.Queue
	audioIn  io.WriteCloser
	breaker  *resilience.CircuitBreaker
	reporter status.Reporter
	obs      metrics.Observer
	send     func(frames.Frame)
	logger   *slog.Logger
}

// Session owns one conversation loop: the turn controller, the
// transcript buffer, the rolling history, and the playback queue. All
// turn work funnels through a single event loop goroutine, so no two
// turns' callbacks ever interleave.
type Session struct {
	ID      string
	Created time.Time

	cfg      config.Config
	recog    stt.Recognizer
	gen      llm.Generator
	acks     *ack.Cache
	ctrl     *turn.Controller
	queue    *playback.Queue
	audioIn  io.WriteCloser
	breaker  *resilience.CircuitBreaker
	buffer   *transcript.Buffer
	history  *llm.History
	reporter status.Reporter
	obs      metrics.Observer
	send     func(frames.Frame)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan sessionEvent
	done   chan struct{}
	pts    atomic.Int64

	// turnID and modelReady are read outside the loop goroutine;
	// epoch, genCancel, and loadErr are loop-owned.
	turnID     atomic.Value
	modelReady atomic.Bool
	epoch      int
	genCancel  context.CancelFunc
	loadErr    error
}

func newSession(ctx context.Context, id string, deps sessionDeps) *Session {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	s := &Session{
		ID:       id,
		Created:  time.Now(),
		cfg:      deps.cfg,
		recog:    deps.recog,
		gen:      deps.gen,
		acks:     deps.acks,
		ctrl:     deps.ctrl,
		queue:    deps.queue,
		audioIn:  deps.audioIn,
		breaker:  deps.breaker,
		buffer:   transcript.NewBuffer(),
		history:  llm.NewHistory(deps.cfg.BasePrompt, deps.cfg.History.MaxEntries),
		reporter: deps.reporter,
		obs:      deps.obs,
		send:     deps.send,
		log:      logging.NewComponentLogger(deps.logger, "session").With("session_id", id),
		ctx:      ctx,
		events:   make(chan sessionEvent, 64),
		done:     make(chan struct{}),
	}
	s.queue.SetContext(ctx)
	s.ctrl.AddListener(turn.ListenerFunc(s.onStateChange))
	return s
}

// Start launches the event loop and kicks off the model load.
func (s *Session) Start() {
	go s.loop()
	go s.loadModel()
}

// Close tears the session down: cancels in-flight work, stops the
// recognizer and playback, and waits for the loop to exit.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.audioIn != nil {
		_ = s.audioIn.Close()
	}
	_ = s.recog.Stop()
	s.queue.StopAll()
	<-s.done
	return nil
}

// HandleControl routes a transport control action onto the loop.
func (s *Session) HandleControl(code frames.ControlCode) {
	switch code {
	case frames.ControlStart:
		s.post(sessionEvent{kind: evStart})
	case frames.ControlCancel:
		s.post(sessionEvent{kind: evCancel})
	}
}

// HandleText routes typed user text onto the loop. It completes a turn
// the same way a finalized utterance does.
func (s *Session) HandleText(text string) {
	s.post(sessionEvent{kind: evText, text: text})
}

// HandleAudio forwards captured PCM to the recognizer's source.
// Audio outside a listening turn is discarded so stale samples never
// bleed into the next utterance.
func (s *Session) HandleAudio(data []byte) {
	if s.audioIn == nil || len(data) == 0 {
		return
	}
	if s.ctrl.State() != turn.StateListening {
		return
	}
	_, _ = s.audioIn.Write(data)
}

// State reports the controller state, for tests and health endpoints.
func (s *Session) State() turn.State {
	return s.ctrl.State()
}

// Ready reports whether the model load finished successfully.
func (s *Session) Ready() bool {
	return s.modelReady.Load()
}

func (s *Session) setTurn(id string) {
	s.turnID.Store(id)
	s.queue.SetTurn(id)
}

func (s *Session) currentTurn() string {
	id, _ := s.turnID.Load().(string)
	return id
}

func (s *Session) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev sessionEvent) {
	switch ev.kind {
	case evStart:
		s.handleStart()
	case evCancel:
		s.handleCancel()
	case evText:
		s.handleTypedText(ev.text)
	case evRecognizer:
		s.handleRecognizer(ev)
	case evGenDone:
		s.handleGenDone(ev)
	case evDrained:
		s.handleDrained()
	case evPlaybackError:
		s.handlePlaybackError(ev.err)
	case evLoadDone:
		s.handleLoadDone(ev.err)
	}
}

func (s *Session) handleStart() {
	if !s.ready() {
		return
	}
	if s.ctrl.State() != turn.StateIdle {
		s.log.Debug("start ignored", "state", s.ctrl.State().String())
		return
	}
	if err := s.ctrl.Begin("user start"); err != nil {
		return
	}
	s.openListening()
}

func (s *Session) handleCancel() {
	if s.ctrl.State() == turn.StateIdle {
		return
	}
	s.epoch++
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	_ = s.recog.Stop()
	s.queue.StopAll()
	_ = s.ctrl.Cancel()
}

func (s *Session) handleTypedText(text string) {
	if !s.ready() {
		return
	}
	switch s.ctrl.State() {
	case turn.StateIdle:
		s.epoch++
		s.setTurn(uuid.NewString())
		if err := s.ctrl.Begin("typed text"); err != nil {
			return
		}
		s.finalizeUtterance(text)
	case turn.StateListening:
		s.epoch++
		_ = s.recog.Stop()
		s.finalizeUtterance(text)
	default:
		s.log.Debug("text ignored", "state", s.ctrl.State().String())
	}
}

func (s *Session) handleRecognizer(ev sessionEvent) {
	if ev.epoch != s.epoch || s.ctrl.State() != turn.StateListening {
		return
	}
	switch ev.recog.Kind {
	case stt.EventInterim:
		s.buffer.SetInterim(ev.recog.Text)
		s.sendText(ev.recog.Text, "user", false)
	case stt.EventFinal:
		s.buffer.AddFinal(ev.recog.Text)
		s.sendText(ev.recog.Text, "user", true)
	case stt.EventEnd:
		text := s.buffer.Promote()
		_ = s.recog.Stop()
		s.record(metrics.EventListenFinal, map[string]string{"chars": strconv.Itoa(len(text))})
		s.finalizeUtterance(text)
	case stt.EventError:
		s.handleRecognitionError(ev.recog)
	}
}

// finalizeUtterance ends the listening phase with the promoted text.
// Non-empty text moves to Thinking and starts generation behind an
// acknowledgment filler; empty text returns quietly to Idle.
func (s *Session) finalizeUtterance(text string) {
	if err := s.ctrl.UtteranceFinalized(text); err != nil {
		return
	}
	if s.ctrl.State() != turn.StateThinking {
		return
	}
	s.history.AddUser(text)
	if s.acks != nil && s.cfg.Ack.Enabled {
		if err := s.queue.PlayFiller(s.acks.Pick()); err != nil {
			s.log.Warn("acknowledgment filler failed", "error", err)
		}
	}
	s.startGeneration()
}

func (s *Session) startGeneration() {
	if s.breaker != nil && !s.breaker.Allow() {
		s.failGeneration(errorsx.Wrap(
			resilience.RateLimitError{Provider: s.gen.Name(), Message: "generation paused after repeated rate limits"},
			errorsx.ReasonGenerationRateLimit))
		return
	}
	genCtx, cancel := context.WithCancel(s.ctx)
	s.genCancel = cancel
	epoch := s.epoch
	messages := s.history.Messages()
	sampling := llm.SamplingConfig{
		Temperature: s.cfg.Model.Temperature,
		TopP:        s.cfg.Model.TopP,
		MaxTokens:   s.cfg.Model.MaxTokens,
	}

	go func() {
		defer cancel()
		var first sync.Once
		onToken := func(token string) {
			first.Do(func() {
				s.record(metrics.EventGenFirstToken, nil)
			})
			s.sendText(token, "assistant", false)
		}
		out, err := s.gen.Generate(genCtx, messages, sampling, onToken)
		if s.breaker != nil {
			if err != nil {
				s.breaker.OnError(err)
			} else {
				s.breaker.OnSuccess()
			}
		}
		s.record(metrics.EventGenDone, map[string]string{"chars": strconv.Itoa(len(out))})
		s.post(sessionEvent{kind: evGenDone, epoch: epoch, text: out, err: err})
	}()
}

func (s *Session) handleGenDone(ev sessionEvent) {
	if ev.epoch != s.epoch {
		return
	}
	s.genCancel = nil
	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		s.failGeneration(ev.err)
		return
	}
	if err := s.ctrl.Generated(ev.text); err != nil {
		return
	}
	if s.ctrl.State() != turn.StateSpeaking {
		// Empty generation went straight to Idle.
		s.failGeneration(errorsx.New("empty generation", errorsx.ReasonGenerationFailed))
		return
	}
	s.history.AddAssistant(ev.text)
	s.sendText(ev.text, "assistant", true)
	for _, chunk := range transcript.SplitSentences(ev.text, s.cfg.Speech.MinChunkLen) {
		s.queue.Enqueue(chunk)
	}
}

// failGeneration aborts the thinking turn: the filler stops, the user
// message rolls back out of history, and nothing reaches synthesis.
func (s *Session) failGeneration(genErr error) {
	s.queue.StopAll()
	s.history.DropLast()
	_ = s.ctrl.GenerationFailed()
	reason := errorsx.ReasonGenerationFailed
	msg := "Sorry, I had trouble coming up with a response."
	if resilience.IsRateLimit(genErr) || errorsx.HasReason(genErr, errorsx.ReasonGenerationRateLimit) {
		reason = errorsx.ReasonGenerationRateLimit
		msg = "The model is rate limited right now. Give it a moment and try again."
	}
	s.reportError(reason, msg, genErr)
}

func (s *Session) handleDrained() {
	if s.ctrl.State() != turn.StateSpeaking {
		return
	}
	if s.queue.Busy() {
		// An item landed after the queue reported empty; this drain
		// is stale and the new batch will deliver its own.
		return
	}
	if err := s.ctrl.QueueDrained(); err != nil {
		return
	}
	if s.ctrl.State() == turn.StateListening {
		// Always-on restart, gated on the explicit drain signal.
		s.openListening()
	}
}

func (s *Session) handlePlaybackError(err error) {
	if s.ctrl.State() != turn.StateSpeaking {
		return
	}
	s.epoch++
	_ = s.ctrl.Cancel()
	reason := errorsx.Reason(err)
	if reason == errorsx.ReasonUnknown {
		reason = errorsx.ReasonSynthesisFailed
	}
	s.reportError(reason, "Sorry, I lost my voice. Please try again.", err)
}

func (s *Session) handleLoadDone(err error) {
	if err != nil {
		s.loadErr = err
		s.reportError(errorsx.ReasonLoadFailure, "The assistant failed to load.", err)
		return
	}
	s.modelReady.Store(true)
	s.log.Info("model ready", "model", s.cfg.Model.ID)
}

// openListening begins recognition for a fresh turn. The controller is
// already in Listening; the recognizer is only opened once playback is
// fully silent.
func (s *Session) openListening() {
	if s.queue.Busy() {
		s.log.Warn("playback still active, refusing to open recognizer")
		_ = s.ctrl.Cancel()
		return
	}
	s.epoch++
	s.setTurn(uuid.NewString())
	s.buffer.Reset()
	if err := s.recog.Start(s.ctx); err != nil {
		_ = s.ctrl.RecognitionFailed("recognizer start")
		s.reportError(errorsx.ReasonRecognitionConnect,
			"Sorry, I couldn't reach the recognizer. Please try again.", err)
		return
	}
	go s.pump(s.epoch, s.recog.Events())
}

// pump forwards one recognition session's events onto the loop. The
// channel is snapshotted at open so a pump left over from a canceled
// turn can never steal the next session's events.
func (s *Session) pump(epoch int, events <-chan stt.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.post(sessionEvent{kind: evRecognizer, epoch: epoch, recog: ev})
			if ev.Kind == stt.EventEnd || ev.Kind == stt.EventError {
				return
			}
		}
	}
}

func (s *Session) handleRecognitionError(ev stt.Event) {
	reason := mapRecognitionReason(ev.Reason)
	_ = s.recog.Stop()
	if errorsx.Benign(reason) && s.ctrl.Mode() == turn.ModeAlwaysOn {
		// Stay in Listening and reopen the recognizer.
		if err := s.recog.Start(s.ctx); err == nil {
			go s.pump(s.epoch, s.recog.Events())
			return
		}
	}
	_ = s.ctrl.RecognitionFailed(string(reason))
	if !errorsx.Benign(reason) {
		s.reportError(reason, "Sorry, I didn't catch that. Please try again.", ev.Err)
	}
}

func mapRecognitionReason(code string) errorsx.ReasonCode {
	switch code {
	case stt.ReasonNoSpeech:
		return errorsx.ReasonRecognitionNoSpeech
	case stt.ReasonAborted:
		return errorsx.ReasonRecognitionAborted
	default:
		return errorsx.ReasonRecognitionFailed
	}
}

// ready gates turn-starting actions on the model load. A failed load
// is a persistent error state; each attempt resurfaces the message.
func (s *Session) ready() bool {
	if s.modelReady.Load() {
		return true
	}
	if s.loadErr != nil {
		s.reportError(errorsx.ReasonLoadFailure, "The assistant failed to load.", s.loadErr)
	} else {
		s.sendSystem(frames.SystemState, map[string]string{
			frames.MetaState:   s.ctrl.State().String(),
			frames.MetaMessage: "Still loading the model.",
		})
	}
	return false
}

func (s *Session) loadModel() {
	progress := func(percent float64, label string) {
		s.reporter.ReportProgress(status.Progress{Percent: percent, Label: label})
		s.sendSystem(frames.SystemProgress, map[string]string{
			frames.MetaPercent: strconv.FormatFloat(percent, 'f', 1, 64),
			frames.MetaLabel:   label,
		})
		if s.obs != nil {
			s.obs.RecordEvent(metrics.MetricsEvent{
				Name:  metrics.EventLoadProgress,
				Time:  time.Now(),
				Value: percent,
				Tags:  map[string]string{"session_id": s.ID, "label": label},
			})
		}
	}
	err := s.gen.Load(s.ctx, s.cfg.Model.ID, progress)
	s.post(sessionEvent{kind: evLoadDone, err: err})
}

func (s *Session) onStateChange(ev turn.StateChange) {
	msg := stateMessage(ev.To)
	s.reporter.ReportState(status.Update{State: ev.To, Message: msg, At: ev.At})
	s.sendSystem(frames.SystemState, map[string]string{
		frames.MetaState:   ev.To.String(),
		frames.MetaMessage: msg,
	})
	s.record(metrics.EventStateChange, map[string]string{
		"from":   ev.From.String(),
		"to":     ev.To.String(),
		"reason": ev.Reason,
	})
}

func stateMessage(st turn.State) string {
	switch st {
	case turn.StateListening:
		return "Listening..."
	case turn.StateThinking:
		return "Thinking..."
	case turn.StateSpeaking:
		return "Speaking..."
	default:
		return "Ready."
	}
}

func (s *Session) reportError(reason errorsx.ReasonCode, msg string, err error) {
	s.log.Error("turn error", "reason", string(reason), "error", err)
	s.record(metrics.EventTurnError, map[string]string{"reason": string(reason)})
	s.sendSystem(frames.SystemError, map[string]string{
		frames.MetaMessage: msg,
		frames.MetaReason:  string(reason),
	})
}

func (s *Session) sendText(text, source string, final bool) {
	if s.send == nil {
		return
	}
	meta := map[string]string{
		frames.MetaSource:  source,
		frames.MetaIsFinal: strconv.FormatBool(final),
	}
	if id := s.currentTurn(); id != "" {
		meta[frames.MetaTurnID] = id
	}
	s.send(frames.NewTextFrame(s.ID, s.pts.Add(1), text, meta))
	if source == "user" {
		s.log.Debug("transcript", "text", redact.Text(text), "final", final)
	}
}

func (s *Session) sendSystem(name string, meta map[string]string) {
	if s.send == nil {
		return
	}
	if id := s.currentTurn(); id != "" && meta[frames.MetaTurnID] == "" {
		meta[frames.MetaTurnID] = id
	}
	s.send(frames.NewSystemFrame(s.ID, s.pts.Add(1), name, meta))
}

func (s *Session) record(name string, tags map[string]string) {
	if s.obs == nil {
		return
	}
	merged := map[string]string{"session_id": s.ID}
	if id := s.currentTurn(); id != "" {
		merged["turn_id"] = id
	}
	for k, v := range tags {
		merged[k] = v
	}
	s.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: merged})
}
