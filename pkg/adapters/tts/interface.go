package tts

import (
	"context"
	"time"
)

// Clip is a synthesized audio payload paired with its source text.
type Clip struct {
	Text       string
	Samples    []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Options carries per-request synthesis parameters.
type Options struct {
	Language   string
	VoiceStyle string
	// Steps is the inference step count for diffusion-style engines;
	// zero lets the provider pick its default.
	Steps      int
	Speed      float64
	SilencePad time.Duration
}

// Synthesizer defines the contract for a neural text-to-speech runtime.
type Synthesizer interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio samples. Blocking; honors ctx.
	Synthesize(ctx context.Context, text string, opts Options) (Clip, error)
}

// Speaker is the native platform fallback used when the neural
// synthesizer fails: it speaks the text directly without producing a
// clip the caller can manage.
type Speaker interface {
	Name() string
	// Speak blocks until playback completes or ctx is canceled.
	Speak(ctx context.Context, text string, rate, pitch float64) error
}

// Config contains vendor-agnostic synthesizer configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
}
