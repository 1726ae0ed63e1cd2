package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string              `mapstructure:"mode"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	BasePrompt    string              `mapstructure:"base_prompt"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Model         ModelConfig         `mapstructure:"model"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Ack           AckConfig           `mapstructure:"ack"`
	History       HistoryConfig       `mapstructure:"history"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ModelConfig struct {
	ID          string  `mapstructure:"id"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type SpeechConfig struct {
	Language     string  `mapstructure:"language"`
	VoiceStyle   string  `mapstructure:"voice_style"`
	Steps        int     `mapstructure:"steps"`
	Speed        float64 `mapstructure:"speed"`
	SilencePadMS int     `mapstructure:"silence_pad_ms"`
	SampleRate   int     `mapstructure:"sample_rate"`
	// MinChunkLen is the minimum sentence length queued as one
	// synthesis item; shorter tails merge into the previous item.
	MinChunkLen int `mapstructure:"min_chunk_len"`
}

type AckConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Phrases []string `mapstructure:"phrases"`
}

type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	// MetricsLog, when set, appends every metrics event to this file
	// as one JSON object per line.
	MetricsLog string `mapstructure:"metrics_log"`
	// SampleRate thins the per-event debug logging; 1 logs everything.
	SampleRate float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("mode", "manual")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.top_p", 0.9)
	v.SetDefault("model.max_tokens", 512)
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.speed", 1.0)
	v.SetDefault("speech.silence_pad_ms", 150)
	v.SetDefault("speech.sample_rate", 24000)
	v.SetDefault("speech.min_chunk_len", 24)
	v.SetDefault("ack.enabled", true)
	v.SetDefault("history.max_entries", 12)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.metrics_log", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "manual", "always_on":
	default:
		return fmt.Errorf("mode must be manual or always_on, got %q", c.Mode)
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
