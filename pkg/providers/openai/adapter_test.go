package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxloop/voxloop/pkg/llm"
)

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n", text)
}

func testAdapter(url string, timeout time.Duration) *Adapter {
	a := NewAdapter("test-key", "test-model")
	a.BaseURL = url
	a.Client = &http.Client{Timeout: timeout}
	return a
}

func TestGenerateRetriesTimeoutBeforeTokens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// First attempt stalls past the client timeout without
			// sending anything.
			time.Sleep(500 * time.Millisecond)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("hello"))
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	a := testAdapter(srv.URL, 100*time.Millisecond)
	var tokens []string
	out, err := a.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		llm.SamplingConfig{}, func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out = %q", out)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}
	if len(tokens) != 1 || tokens[0] != "hello" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestGenerateNeverRetriesAfterTokensStreamed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("partial"))
		w.(http.Flusher).Flush()
		// Stall mid-stream until the client gives up on the body read.
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	a := testAdapter(srv.URL, 100*time.Millisecond)
	var tokens []string
	_, err := a.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		llm.SamplingConfig{}, func(tok string) { tokens = append(tokens, tok) })
	if err == nil {
		t.Fatal("expected an error from the broken stream")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d requests after a partial stream, want 1", got)
	}
	if len(tokens) != 1 {
		t.Fatalf("caller received %d tokens, want the single partial token", len(tokens))
	}
}

func TestGenerateDoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := testAdapter(srv.URL, time.Second)
	_, err := a.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		llm.SamplingConfig{}, nil)
	if err == nil {
		t.Fatal("expected a rate limit error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d requests for a rate limited call, want 1", got)
	}
}
