// Package say implements the native platform speech fallback using the
// system speech command: 'say' on macOS, 'espeak' elsewhere.
package say

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/logging"
)

type Config struct {
	Voice string
	// BaseRate is the words-per-minute rate at speed 1.0.
	BaseRate int
}

// Speaker shells out to the platform speech command. Speak blocks
// until the command exits, mirroring how the neural path blocks until
// the clip finishes playing.
type Speaker struct {
	cfg    Config
	binary string
	logger *slog.Logger
}

func New(cfg Config) *Speaker {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 175
	}
	return &Speaker{
		cfg:    cfg,
		binary: platformBinary(),
		logger: logging.NewComponentLogger(slog.Default(), "say"),
	}
}

func (s *Speaker) Name() string { return "say" }

// Available reports whether the platform speech command exists.
func (s *Speaker) Available() bool {
	if s.binary == "" {
		return false
	}
	_, err := exec.LookPath(s.binary)
	return err == nil
}

func (s *Speaker) Speak(ctx context.Context, text string, rate, pitch float64) error {
	if !s.Available() {
		return errorsx.New("no platform speech command found", errorsx.ReasonFallbackFailed)
	}
	if rate <= 0 {
		rate = 1.0
	}
	wpm := int(float64(s.cfg.BaseRate) * rate)

	var args []string
	switch s.binary {
	case "say":
		args = []string{"-r", fmt.Sprintf("%d", wpm)}
		if s.cfg.Voice != "" {
			args = append(args, "-v", s.cfg.Voice)
		}
	case "espeak":
		args = []string{"-s", fmt.Sprintf("%d", wpm)}
		if pitch > 0 && pitch != 1.0 {
			// espeak pitch is 0..99 around a default of 50.
			args = append(args, "-p", fmt.Sprintf("%d", int(50*pitch)))
		}
		if s.cfg.Voice != "" {
			args = append(args, "-v", s.cfg.Voice)
		}
	}
	args = append(args, text)

	s.logger.Debug("speaking via platform command",
		slog.String("binary", s.binary),
		slog.Int("wpm", wpm),
		slog.Int("text_len", len(text)))

	cmd := exec.CommandContext(ctx, s.binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		s.logger.Error("platform speech failed",
			slog.String("binary", s.binary),
			slog.String("output", string(output)),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonFallbackFailed)
	}
	return nil
}

func platformBinary() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

var _ tts.Speaker = (*Speaker)(nil)
