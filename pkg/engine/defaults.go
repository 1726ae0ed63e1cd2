package engine

import (
	"io"

	"github.com/voxloop/voxloop/pkg/adapters/stt"
	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/config"
	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/providers/deepgram"
	"github.com/voxloop/voxloop/pkg/providers/elevenlabs"
	"github.com/voxloop/voxloop/pkg/providers/mock"
	"github.com/voxloop/voxloop/pkg/providers/openai"
	"github.com/voxloop/voxloop/pkg/transports"
	transportmock "github.com/voxloop/voxloop/pkg/transports/mock"
	"github.com/voxloop/voxloop/pkg/transports/ws"
)

// DefaultRegistry returns a registry with the built-in providers:
// deepgram recognition, elevenlabs synthesis, openai-compatible
// generation, the websocket transport, and scripted mocks for each.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(cfg config.Config, sessionID string, source io.Reader) (stt.Recognizer, error) {
		var s struct {
			APIKey         string `mapstructure:"api_key"`
			Model          string `mapstructure:"model"`
			UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
		}
		if err := config.DecodeSettings(cfg.Vendors.STT.Settings, &s); err != nil {
			return nil, err
		}
		if err := config.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       cfg.Speech.Language,
			SampleRate:     cfg.Speech.SampleRate,
			Interim:        true,
			UtteranceEndMS: s.UtteranceEndMS,
			SessionID:      sessionID,
			Source:         source,
		}), nil
	})
	r.RegisterSTT("mock", func(cfg config.Config, _ string, _ io.Reader) (stt.Recognizer, error) {
		var s mock.STTConfig
		if err := config.DecodeSettings(cfg.Vendors.STT.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewRecognizer(s), nil
	})

	r.RegisterTTS("elevenlabs", func(cfg config.Config, sessionID string) (tts.Synthesizer, error) {
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			VoiceID string `mapstructure:"voice_id"`
			ModelID string `mapstructure:"model_id"`
		}
		if err := config.DecodeSettings(cfg.Vendors.TTS.Settings, &s); err != nil {
			return nil, err
		}
		if err := config.RequireString(s.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:     s.APIKey,
			VoiceID:    s.VoiceID,
			ModelID:    s.ModelID,
			SampleRate: cfg.Speech.SampleRate,
			SessionID:  sessionID,
		}), nil
	})
	r.RegisterTTS("mock", func(cfg config.Config, _ string) (tts.Synthesizer, error) {
		var s mock.TTSConfig
		if err := config.DecodeSettings(cfg.Vendors.TTS.Settings, &s); err != nil {
			return nil, err
		}
		if s.SampleRate == 0 {
			s.SampleRate = cfg.Speech.SampleRate
		}
		return mock.NewSynthesizer(s), nil
	})

	r.RegisterLLM("openai", func(cfg config.Config) (llm.Generator, error) {
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := config.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return nil, err
		}
		if err := config.RequireString(s.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(s.APIKey, cfg.Model.ID)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		return adapter, nil
	})
	r.RegisterLLM("mock", func(cfg config.Config) (llm.Generator, error) {
		var s struct {
			ResponseText string `mapstructure:"response_text"`
		}
		if err := config.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewGenerator(mock.LLMConfig{ResponseText: s.ResponseText}), nil
	})

	r.RegisterTransport("ws", func(cfg config.Config) (transports.Transport, error) {
		var s ws.Config
		if err := config.DecodeSettings(cfg.Transports.Settings, &s); err != nil {
			return nil, err
		}
		return ws.New(s), nil
	})
	r.RegisterTransport("mock", func(cfg config.Config) (transports.Transport, error) {
		return transportmock.New(), nil
	})

	return r
}
