package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/ack"
	"github.com/voxloop/voxloop/pkg/adapters/stt"
	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/config"
	"github.com/voxloop/voxloop/pkg/frames"
	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/playback"
	pmock "github.com/voxloop/voxloop/pkg/providers/mock"
	"github.com/voxloop/voxloop/pkg/status"
	tmock "github.com/voxloop/voxloop/pkg/transports/mock"
	"github.com/voxloop/voxloop/pkg/turn"
)

type fakeHandle struct {
	once    sync.Once
	done    chan struct{}
	stopped bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Stop() {
	h.once.Do(func() {
		h.stopped = true
		close(h.done)
	})
}

func (h *fakeHandle) finish() {
	h.once.Do(func() { close(h.done) })
}

// fakeDevice finishes each clip after a short delay unless held, and
// records play order.
type fakeDevice struct {
	mu      sync.Mutex
	played  []string
	handles []*fakeHandle
	hold    bool
}

func (d *fakeDevice) Play(clip tts.Clip) (playback.Handle, error) {
	h := newFakeHandle()
	d.mu.Lock()
	d.played = append(d.played, clip.Text)
	d.handles = append(d.handles, h)
	hold := d.hold
	d.mu.Unlock()
	if !hold {
		go func() {
			time.Sleep(5 * time.Millisecond)
			h.finish()
		}()
	}
	return h, nil
}

func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.played))
	copy(out, d.played)
	return out
}

func (d *fakeDevice) finishAll() {
	d.mu.Lock()
	handles := append([]*fakeHandle(nil), d.handles...)
	d.mu.Unlock()
	for _, h := range handles {
		h.finish()
	}
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *fakeSpeaker) Name() string { return "fake-speaker" }

func (s *fakeSpeaker) Speak(_ context.Context, text string, _ float64, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testConfig(mode string) config.Config {
	return config.Config{
		Mode:      mode,
		LogLevel:  "error",
		LogFormat: "text",
		Vendors: config.VendorsConfig{
			STT: config.VendorConfig{Provider: "mock"},
			TTS: config.VendorConfig{Provider: "mock"},
			LLM: config.VendorConfig{Provider: "mock"},
		},
		Transports: config.TransportsConfig{Provider: "mock"},
		Model:      config.ModelConfig{ID: "test-model", Temperature: 0.7, TopP: 0.9, MaxTokens: 128},
		Speech:     config.SpeechConfig{Language: "en-US", Speed: 1.0, SampleRate: 24000, MinChunkLen: 8},
		History:    config.HistoryConfig{MaxEntries: 12},
	}
}

type fixture struct {
	engine  *Engine
	tr      *tmock.Transport
	recog   *pmock.Recognizer
	synth   *pmock.Synthesizer
	gen     *pmock.Generator
	dev     *fakeDevice
	speaker *fakeSpeaker
	mem     *status.MemoryReporter
	obs     *metrics.MemoryObserver
	sid     string

	mu  sync.Mutex
	src io.Reader
}

// source returns the audio reader handed to the recognizer factory.
func (f *fixture) source() io.Reader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

func newFixture(t *testing.T, cfg config.Config, sttCfg pmock.STTConfig, ttsCfg pmock.TTSConfig, llmCfg pmock.LLMConfig) *fixture {
	t.Helper()
	f := &fixture{
		tr:      tmock.New(),
		dev:     &fakeDevice{},
		speaker: &fakeSpeaker{},
		mem:     status.NewMemoryReporter(),
		obs:     metrics.NewMemoryObserver(),
		sid:     "sess-1",
	}
	f.recog = pmock.NewRecognizer(sttCfg)
	f.synth = pmock.NewSynthesizer(ttsCfg)
	f.gen = pmock.NewGenerator(llmCfg)

	reg := NewProviderRegistry()
	reg.RegisterSTT("mock", func(_ config.Config, _ string, src io.Reader) (stt.Recognizer, error) {
		f.mu.Lock()
		f.src = src
		f.mu.Unlock()
		return f.recog, nil
	})
	reg.RegisterTTS("mock", func(config.Config, string) (tts.Synthesizer, error) { return f.synth, nil })
	reg.RegisterLLM("mock", func(config.Config) (llm.Generator, error) { return f.gen, nil })

	eng, err := NewEngine(Options{
		Config:    cfg,
		Providers: reg,
		Transport: f.tr,
		Device:    f.dev,
		Fallback:  f.speaker,
		Reporters: []status.Reporter{f.mem},
		Observers: []metrics.Observer{f.obs},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })
	f.engine = eng
	return f
}

// session opens a session and waits for its model load to finish.
func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	f.tr.Push(frames.NewSystemFrame(f.sid, 1, frames.SystemSessionStart, nil))
	var sess *Session
	waitFor(t, func() bool {
		s, ok := f.engine.Registry().Get(f.sid)
		if !ok {
			return false
		}
		sess = s
		return s.Ready()
	})
	return sess
}

func (f *fixture) pushStart() {
	f.tr.Push(frames.NewControlFrame(f.sid, 1, frames.ControlStart, nil))
}

func (f *fixture) pushCancel() {
	f.tr.Push(frames.NewControlFrame(f.sid, 1, frames.ControlCancel, nil))
}

func (f *fixture) pushText(text string) {
	f.tr.Push(frames.NewTextFrame(f.sid, 1, text, nil))
}

func (f *fixture) states() []turn.State {
	ups := f.mem.States()
	out := make([]turn.State, len(ups))
	for i, u := range ups {
		out[i] = u.State
	}
	return out
}

// hasSequence reports whether want appears as a subsequence of got.
func hasSequence(got []turn.State, want ...turn.State) bool {
	i := 0
	for _, st := range got {
		if i < len(want) && st == want[i] {
			i++
		}
	}
	return i == len(want)
}

func (f *fixture) errorReasons() []string {
	var out []string
	for _, fr := range f.tr.SentOfKind(frames.KindSystem) {
		sf := fr.(frames.SystemFrame)
		if sf.Name() == frames.SystemError {
			out = append(out, sf.Meta()[frames.MetaReason])
		}
	}
	return out
}

func TestManualTurnCycle(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "What is the capital of France?"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Paris is the capital of France."},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && f.gen.GenerateCount() == 1 })

	if !hasSequence(f.states(), turn.StateListening, turn.StateThinking, turn.StateSpeaking, turn.StateIdle) {
		t.Fatalf("state sequence %v missing full turn cycle", f.states())
	}
	prompts := f.gen.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("got %d generate calls, want 1", len(prompts))
	}
	last := prompts[0][len(prompts[0])-1]
	if last.Role != llm.RoleUser || last.Content != "What is the capital of France?" {
		t.Fatalf("prompt tail = %+v", last)
	}
	if len(f.dev.order()) == 0 {
		t.Fatal("nothing played")
	}
}

func TestEmptyTranscriptSkipsGeneration(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "   "},
		pmock.TTSConfig{},
		pmock.LLMConfig{},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool {
		return sess.State() == turn.StateIdle && hasSequence(f.states(), turn.StateListening, turn.StateIdle)
	})

	if got := f.states(); hasSequence(got, turn.StateThinking) {
		t.Fatalf("state sequence %v entered thinking on empty transcript", got)
	}
	if n := f.gen.GenerateCount(); n != 0 {
		t.Fatalf("got %d generate calls, want 0", n)
	}
	if n := len(f.synth.Calls()); n != 0 {
		t.Fatalf("got %d synthesis calls, want 0", n)
	}
}

func TestTypedTextRunsTurnWithoutRecognizer(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Typed reply."},
	)
	sess := f.session(t)

	f.pushText("hello there")
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && f.gen.GenerateCount() == 1 })

	if n := f.recog.StartCount(); n != 0 {
		t.Fatalf("recognizer started %d times for typed text", n)
	}
	if !hasSequence(f.states(), turn.StateListening, turn.StateThinking, turn.StateSpeaking, turn.StateIdle) {
		t.Fatalf("state sequence %v missing full turn cycle", f.states())
	}
}

func TestGenerationFailureSkipsSynthesis(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "tell me something"},
		pmock.TTSConfig{},
		pmock.LLMConfig{FailGenerate: true},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && f.gen.GenerateCount() == 1 })

	if got := f.states(); hasSequence(got, turn.StateSpeaking) {
		t.Fatalf("state sequence %v reached speaking after generation failure", got)
	}
	if n := len(f.synth.Calls()); n != 0 {
		t.Fatalf("got %d synthesis calls after generation failure, want 0", n)
	}
	waitFor(t, func() bool {
		for _, r := range f.errorReasons() {
			if r == "generation_failed" {
				return true
			}
		}
		return false
	})
}

func TestSynthesisFailureFallsBackToSpeaker(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "say something"},
		pmock.TTSConfig{Fail: true},
		pmock.LLMConfig{ResponseText: "This comes out of the fallback."},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && len(f.speaker.texts()) > 0 })

	spoken := strings.Join(f.speaker.texts(), " ")
	if !strings.Contains(spoken, "This comes out of the fallback.") {
		t.Fatalf("fallback spoke %q, want the generated text", spoken)
	}
	if !hasSequence(f.states(), turn.StateThinking, turn.StateSpeaking, turn.StateIdle) {
		t.Fatalf("state sequence %v should still pass through speaking", f.states())
	}
}

func TestAlwaysOnResumesAfterDrain(t *testing.T) {
	f := newFixture(t, testConfig("always_on"),
		pmock.STTConfig{Transcript: "keep talking"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Sure."},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return f.recog.StartCount() >= 2 })

	if !hasSequence(f.states(), turn.StateSpeaking, turn.StateListening) {
		t.Fatalf("state sequence %v missing always-on restart", f.states())
	}
	f.pushCancel()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle })
}

func TestRecognizerNeverStartsDuringPlayback(t *testing.T) {
	f := newFixture(t, testConfig("always_on"),
		pmock.STTConfig{Transcript: "hold the line"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "One long sentence."},
	)
	f.dev.hold = true
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateSpeaking })

	// Playback is held open; the restart must wait for the drain.
	time.Sleep(50 * time.Millisecond)
	if n := f.recog.StartCount(); n != 1 {
		t.Fatalf("recognizer started %d times while audio was playing", n)
	}

	f.dev.finishAll()
	waitFor(t, func() bool { return f.recog.StartCount() == 2 })
	f.pushCancel()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle })
}

func TestCancelDuringSpeakingStopsPlayback(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "long story please"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "A very long story."},
	)
	f.dev.hold = true
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateSpeaking })

	f.pushCancel()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && !sess.queue.Busy() })

	f.dev.mu.Lock()
	stopped := len(f.dev.handles) > 0 && f.dev.handles[len(f.dev.handles)-1].stopped
	f.dev.mu.Unlock()
	if !stopped {
		t.Fatal("active playback handle was not stopped on cancel")
	}
}

func TestLoadFailureIsPersistentError(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "anything"},
		pmock.TTSConfig{},
		pmock.LLMConfig{FailLoad: true},
	)
	f.tr.Push(frames.NewSystemFrame(f.sid, 1, frames.SystemSessionStart, nil))
	var sess *Session
	waitFor(t, func() bool {
		s, ok := f.engine.Registry().Get(f.sid)
		sess = s
		return ok
	})

	f.pushStart()
	waitFor(t, func() bool {
		for _, r := range f.errorReasons() {
			if r == "load_failure" {
				return true
			}
		}
		return false
	})
	if sess.State() != turn.StateIdle {
		t.Fatalf("state = %v after load failure, want idle", sess.State())
	}
	if f.recog.StartCount() != 0 {
		t.Fatal("recognizer started despite failed load")
	}
}

func TestAckFillerMasksThinking(t *testing.T) {
	cfg := testConfig("manual")
	cfg.Ack.Enabled = true
	f := newFixture(t, cfg,
		pmock.STTConfig{Transcript: "what do you think"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "I think it works."},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && len(f.dev.order()) >= 2 })

	first := f.dev.order()[0]
	isFiller := false
	for _, phrase := range ack.DefaultPhrases {
		if first == phrase {
			isFiller = true
		}
	}
	if !isFiller {
		t.Fatalf("first played clip %q is not an acknowledgment filler", first)
	}
}

func TestAudioForwardedToRecognizerSource(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "heard you", Delay: 500 * time.Millisecond},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Got it."},
	)
	sess := f.session(t)

	// Anything arriving outside a listening turn must be dropped.
	sess.HandleAudio([]byte("stale"))

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateListening && f.source() != nil })

	f.tr.Push(frames.NewAudioFrame(f.sid, 1, []byte("live pcm"), 16000, 1, nil))

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := f.source().Read(buf)
		if err != nil {
			return
		}
		got <- buf[:n]
	}()
	select {
	case data := <-got:
		if string(data) != "live pcm" {
			t.Fatalf("recognizer source read %q, want the listening-turn audio", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer source never received the pushed audio")
	}

	f.pushCancel()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle })
}

func TestStaleDrainedEventIgnoredWhileQueueBusy(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{Transcript: "keep going"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Still talking."},
	)
	f.dev.hold = true
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateSpeaking && sess.queue.Busy() })

	// A drain notification from before the current batch must not end
	// the speaking phase while audio is still queued.
	sess.post(sessionEvent{kind: evDrained})
	time.Sleep(50 * time.Millisecond)
	if st := sess.State(); st != turn.StateSpeaking {
		t.Fatalf("state = %v after stale drain, want speaking", st)
	}

	f.dev.finishAll()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle })
}

func TestRepeatedRateLimitsOpenBreaker(t *testing.T) {
	f := newFixture(t, testConfig("manual"),
		pmock.STTConfig{},
		pmock.TTSConfig{},
		pmock.LLMConfig{RateLimit: true},
	)
	sess := f.session(t)

	for i := 1; i <= 3; i++ {
		f.pushText("try again")
		want := i
		waitFor(t, func() bool {
			return sess.State() == turn.StateIdle && f.gen.GenerateCount() == want
		})
	}

	// The breaker is open now: the next turn fails fast without a
	// provider call.
	f.pushText("one more")
	waitFor(t, func() bool {
		n := 0
		for _, r := range f.errorReasons() {
			if r == "generation_rate_limit" {
				n++
			}
		}
		return sess.State() == turn.StateIdle && n >= 4
	})
	if n := f.gen.GenerateCount(); n != 3 {
		t.Fatalf("got %d generate calls, want 3 with the breaker open", n)
	}
}

func TestTurnEmitsMetricsEvents(t *testing.T) {
	cfg := testConfig("manual")
	cfg.Ack.Enabled = true
	f := newFixture(t, cfg,
		pmock.STTConfig{Transcript: "measure this"},
		pmock.TTSConfig{},
		pmock.LLMConfig{ResponseText: "Measured."},
	)
	sess := f.session(t)

	f.pushStart()
	waitFor(t, func() bool { return sess.State() == turn.StateIdle && f.gen.GenerateCount() == 1 })

	for _, name := range []string{
		metrics.EventListenFinal,
		metrics.EventGenDone,
		metrics.EventAckPlayed,
		metrics.EventQueueDrained,
	} {
		waitFor(t, func() bool { return len(f.obs.Named(name)) > 0 })
	}
	ev := f.obs.Named(metrics.EventListenFinal)[0]
	if ev.Tags["session_id"] != f.sid {
		t.Fatalf("listen_final tagged %q, want session %q", ev.Tags["session_id"], f.sid)
	}
}
