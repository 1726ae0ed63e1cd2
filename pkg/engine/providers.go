package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/voxloop/voxloop/pkg/adapters/stt"
	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/config"
	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/transports"
)

// STTFactory builds a recognizer for one session. source delivers the
// session's captured PCM; factories for engines that pull their own
// audio may ignore it.
type STTFactory func(cfg config.Config, sessionID string, source io.Reader) (stt.Recognizer, error)
type TTSFactory func(cfg config.Config, sessionID string) (tts.Synthesizer, error)
type LLMFactory func(cfg config.Config) (llm.Generator, error)
type TransportFactory func(cfg config.Config) (transports.Transport, error)

// ProviderRegistry maps vendor names from config to factories for the
// capability runtimes. Names are matched case-insensitively.
type ProviderRegistry struct {
	stt       map[string]STTFactory
	tts       map[string]TTSFactory
	llm       map[string]LLMFactory
	transport map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:       make(map[string]STTFactory),
		tts:       make(map[string]TTSFactory),
		llm:       make(map[string]LLMFactory),
		transport: make(map[string]TransportFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transport[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg config.Config, sessionID string, source io.Reader) (stt.Recognizer, error) {
	fn := r.stt[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, sessionID, source)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg config.Config, sessionID string) (tts.Synthesizer, error) {
	fn := r.tts[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg, sessionID)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg config.Config) (llm.Generator, error) {
	fn := r.llm[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTransport(provider string, cfg config.Config) (transports.Transport, error) {
	fn := r.transport[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport provider not registered: %s", provider)
	}
	return fn(cfg)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
