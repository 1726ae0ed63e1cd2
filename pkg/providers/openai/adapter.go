package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/llm"
	"github.com/voxloop/voxloop/pkg/resilience"
)

// Adapter is an OpenAI-compatible chat-completions generator. Any
// endpoint speaking that protocol works, including local inference
// servers, via BaseURL.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

// Load verifies the endpoint serves the model. Remote endpoints have
// no staged download, so progress jumps straight to done.
func (a *Adapter) Load(ctx context.Context, modelID string, progress llm.ProgressFunc) error {
	if modelID != "" {
		a.Model = modelID
	}
	if progress != nil {
		progress(0, a.Model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/models/"+a.Model, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLoadFailure)
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLoadFailure)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return errorsx.New(string(body), errorsx.ReasonLoadFailure)
	}
	if progress != nil {
		progress(100, a.Model)
	}
	return nil
}

// Generate streams a chat completion, delivering tokens as they
// arrive and returning the assembled final text. Transient network
// failures are retried, but never once tokens have been delivered: a
// replayed stream would hand the caller duplicate text.
func (a *Adapter) Generate(ctx context.Context, messages []llm.Message, cfg llm.SamplingConfig, onToken llm.TokenFunc) (string, error) {
	var streamed atomic.Bool
	wrapped := func(token string) {
		streamed.Store(true)
		if onToken != nil {
			onToken(token)
		}
	}
	return llm.Retry(ctx, llm.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		IsRetryable: func(err error) bool {
			return !streamed.Load() && llm.DefaultIsRetryable(err)
		},
	}, func(ctx context.Context) (string, error) {
		return a.stream(ctx, messages, cfg, wrapped)
	})
}

func (a *Adapter) stream(ctx context.Context, messages []llm.Message, cfg llm.SamplingConfig, onToken llm.TokenFunc) (string, error) {
	body, err := a.buildRequest(messages, cfg)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerationFailed)
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerationFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(
			resilience.RateLimitError{Provider: "openai", Message: string(body)},
			errorsx.ReasonGenerationRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", errorsx.New(string(body), errorsx.ReasonGenerationFailed)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		first, _ := choices[0].(map[string]any)
		delta, _ := first["delta"].(map[string]any)
		if text, _ := delta["content"].(string); text != "" {
			sb.WriteString(text)
			if onToken != nil {
				onToken(text)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerationFailed)
	}
	return sb.String(), nil
}

func (a *Adapter) buildRequest(messages []llm.Message, cfg llm.SamplingConfig) (*bytes.Buffer, error) {
	msgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": msgs,
	}
	if cfg.Temperature > 0 {
		req["temperature"] = cfg.Temperature
	}
	if cfg.TopP > 0 {
		req["top_p"] = cfg.TopP
	}
	if cfg.MaxTokens > 0 {
		req["max_tokens"] = cfg.MaxTokens
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.Generator = (*Adapter)(nil)
