package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeepSeekCallWithMessagesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != defaultDeepSeekModel {
			t.Fatalf("unexpected model in request: %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello from deepseek"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	client := NewDeepSeek(WithAPIKey("sk-test"), WithBaseURL(srv.URL))
	out, err := client.CallWithMessages("system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello from deepseek" {
		t.Fatalf("got %q", out)
	}
}

func TestCallWithMessagesMissingAPIKey(t *testing.T) {
	client := NewOpenAI()
	if _, err := client.CallWithMessages("s", "u"); err == nil {
		t.Fatalf("expected an error with no API key set")
	}
}

func TestCallWithMessagesRetriesOnRetryableError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			// simulate a dropped connection by hijacking and closing without
			// writing a response, which surfaces as an EOF-class error.
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewDeepSeek(WithAPIKey("sk-test"), WithBaseURL(srv.URL), WithMaxRetries(3))
	client.RetryWaitBase = 0
	out, err := client.CallWithMessages("s", "u")
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if out != "ok" {
		t.Fatalf("got %q", out)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestCallWithMessagesNonRetryableErrorStopsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	client := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL), WithMaxRetries(3))
	client.RetryWaitBase = 0
	if _, err := client.CallWithMessages("s", "u"); err == nil {
		t.Fatalf("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestClaudeUsesAnthropicEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "claude-key" {
			t.Fatalf("expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"claude says hi"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	client := NewClaude(WithAPIKey("claude-key"), WithBaseURL(srv.URL))
	out, err := client.CallWithMessages("system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "claude says hi" {
		t.Fatalf("got %q", out)
	}
}

func TestUsageCallbackReceivesTokenCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"x"}}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	var got TokenUsage
	client := NewQwen(WithAPIKey("k"), WithBaseURL(srv.URL), WithUsageCallback(func(u TokenUsage) { got = u }))
	if _, err := client.CallWithMessages("s", "u"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalTokens != 9 || got.Provider != ProviderQwen {
		t.Fatalf("unexpected usage reported: %+v", got)
	}
}
