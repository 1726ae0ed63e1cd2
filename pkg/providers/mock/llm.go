package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/resilience"
)

// LLMConfig scripts a mock inference runtime.
type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	// FailGenerate makes Generate return an error.
	FailGenerate bool
	// RateLimit makes Generate return a provider rate-limit error.
	RateLimit bool
	// FailLoad makes Load return an error.
	FailLoad bool
	// LoadSteps is the number of progress callbacks Load delivers.
	LoadSteps int
}

type Generator struct {
	cfg LLMConfig
	mu  sync.Mutex
	// prompts retains the last message window of each Generate call.
	prompts [][]llm.Message
	loaded  bool
}

func NewGenerator(cfg LLMConfig) *Generator {
	if cfg.ResponseText == "" && len(cfg.StreamChunks) == 0 {
		cfg.ResponseText = "mock response"
	}
	if cfg.LoadSteps <= 0 {
		cfg.LoadSteps = 4
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Name() string { return "mock_llm" }

func (g *Generator) Load(_ context.Context, modelID string, progress llm.ProgressFunc) error {
	if g.cfg.FailLoad {
		return errors.New("scripted load failure")
	}
	for i := 1; i <= g.cfg.LoadSteps; i++ {
		if progress != nil {
			progress(float64(i)*100/float64(g.cfg.LoadSteps), modelID)
		}
	}
	g.mu.Lock()
	g.loaded = true
	g.mu.Unlock()
	return nil
}

func (g *Generator) Generate(ctx context.Context, messages []llm.Message, _ llm.SamplingConfig, onToken llm.TokenFunc) (string, error) {
	g.mu.Lock()
	window := make([]llm.Message, len(messages))
	copy(window, messages)
	g.prompts = append(g.prompts, window)
	g.mu.Unlock()

	if g.cfg.RateLimit {
		return "", resilience.RateLimitError{Provider: "mock_llm", Message: "scripted rate limit"}
	}
	if g.cfg.FailGenerate {
		return "", errors.New("scripted generation failure")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	chunks := g.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{g.cfg.ResponseText}
	}
	for _, chunk := range chunks {
		if onToken != nil {
			onToken(chunk)
		}
	}
	return strings.Join(chunks, ""), nil
}

// Prompts returns the message windows seen by Generate, in call order.
func (g *Generator) Prompts() [][]llm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]llm.Message, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// GenerateCount reports how many Generate calls were made.
func (g *Generator) GenerateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Loaded reports whether Load completed.
func (g *Generator) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

var _ llm.Generator = (*Generator)(nil)
