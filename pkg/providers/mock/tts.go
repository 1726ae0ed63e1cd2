package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
)

// TTSConfig scripts a mock synthesizer.
type TTSConfig struct {
	SampleRate int
	Channels   int
	// Fail makes every Synthesize call return an error.
	Fail bool
	// Delay simulates synthesis latency.
	Delay time.Duration
}

// Synthesizer renders deterministic silent clips.
type Synthesizer struct {
	cfg   TTSConfig
	mu    sync.Mutex
	calls []string
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, _ tts.Options) (tts.Clip, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if s.cfg.Delay > 0 {
		select {
		case <-time.After(s.cfg.Delay):
		case <-ctx.Done():
			return tts.Clip{}, ctx.Err()
		}
	}
	if s.cfg.Fail {
		return tts.Clip{}, errors.New("scripted synthesis failure")
	}
	// 20ms of silence keeps playback tests fast.
	n := s.cfg.SampleRate * s.cfg.Channels * 2 / 50
	return tts.Clip{
		Text:       text,
		Samples:    make([]byte, n),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Duration:   20 * time.Millisecond,
	}, nil
}

// Calls returns every synthesized text in order.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Speaker is a scripted native fallback.
type Speaker struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func NewSpeaker() *Speaker { return &Speaker{} }

// FailWith makes subsequent Speak calls return err.
func (s *Speaker) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Speaker) Name() string { return "mock_speaker" }

func (s *Speaker) Speak(_ context.Context, text string, _, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.spoken = append(s.spoken, text)
	return nil
}

// Spoken returns every text spoken through the fallback.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

var (
	_ tts.Synthesizer = (*Synthesizer)(nil)
	_ tts.Speaker     = (*Speaker)(nil)
)
