package ack

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/logging"
)

// DefaultPhrases are short fillers played while generation is in
// flight. Kept short so truncation mid-clip is not jarring.
var DefaultPhrases = []string{
	"Hmm, let me think.",
	"One moment.",
	"Let me see.",
	"Good question.",
}

// Cache holds prebaked acknowledgment clips. It is immutable once
// Prebake returns; Pick is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	clips []tts.Clip
	rng   *rand.Rand
}

// Prebake synthesizes every phrase once and caches the result.
// Phrases that fail to synthesize are skipped with a warning; an
// error is returned only when no phrase could be baked at all.
func Prebake(ctx context.Context, synth tts.Synthesizer, phrases []string, opts tts.Options, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logging.NewComponentLogger(logger, "ack")
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}

	clips := make([]tts.Clip, 0, len(phrases))
	var lastErr error
	for _, phrase := range phrases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clip, err := synth.Synthesize(ctx, phrase, opts)
		if err != nil {
			log.Warn("skipping acknowledgment phrase", "phrase", phrase, "error", err)
			lastErr = err
			continue
		}
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return nil, errorsx.Wrap(lastErr, errorsx.ReasonSynthesisFailed)
	}
	log.Info("acknowledgment clips prebaked", "count", len(clips))
	return &Cache{clips: clips, rng: rand.New(rand.NewSource(rand.Int63()))}, nil
}

// Pick returns a uniformly random prebaked clip.
func (c *Cache) Pick() tts.Clip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clips[c.rng.Intn(len(c.clips))]
}

// Len returns the number of cached clips.
func (c *Cache) Len() int {
	return len(c.clips)
}
