package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
transports:
  provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mode != "manual" {
		t.Errorf("mode = %q, want manual", cfg.Mode)
	}
	if cfg.History.MaxEntries != 12 {
		t.Errorf("history.max_entries = %d, want 12", cfg.History.MaxEntries)
	}
	if cfg.Speech.Speed != 1.0 {
		t.Errorf("speech.speed = %v, want 1.0", cfg.Speech.Speed)
	}
	if !cfg.Ack.Enabled {
		t.Error("ack.enabled default should be true")
	}
}

func TestLoadConfigRejectsBadMode(t *testing.T) {
	path := writeConfig(t, `
mode: sometimes
vendors:
  stt: {provider: mock}
  tts: {provider: mock}
  llm: {provider: mock}
transports:
  provider: mock
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
vendors:
  stt: {provider: mock}
  tts: {provider: mock}
transports:
  provider: mock
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing llm provider")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret-123")
	path := writeConfig(t, `
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: ${TEST_API_KEY}
  tts: {provider: mock}
  llm: {provider: mock}
transports:
  provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "secret-123" {
		t.Errorf("api_key = %v, want expanded env value", got)
	}
}

func TestDecodeSettingsWeakTyping(t *testing.T) {
	var out struct {
		SampleRate int    `mapstructure:"sample_rate"`
		APIKey     string `mapstructure:"api_key"`
	}
	err := DecodeSettings(map[string]any{
		"sample-rate": "16000",
		"ApiKey":      "k",
	}, &out)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if out.SampleRate != 16000 || out.APIKey != "k" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"api_key": "",
		"bogus":   true,
	}, Schema{Required: []string{"api_key"}, Optional: []string{"model"}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if want := "missing: api_key"; !strings.Contains(msg, want) {
		t.Errorf("error %q missing %q", msg, want)
	}
	if want := "unknown: bogus"; !strings.Contains(msg, want) {
		t.Errorf("error %q missing %q", msg, want)
	}
}
