package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/couchcryptid/school-connectivity-etl/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(url string) Options {
	return Options{
		URL:       url,
		APIKey:    testKey,
		Model:     "gpt-4o",
		MaxTokens: 8192,
		Timeout:   5 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

// --- ChatClient ---

func TestChatClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])
		assert.InDelta(t, 8192, req["max_tokens"], 0)
		assert.Equal(t, false, req["stream"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "rank these schools", msgs[0].(map[string]any)["content"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"results\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	got, err := c.Complete(context.Background(), "rank these schools")
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, got)
}

func TestChatClient_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	got, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatClient_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	c := NewChatClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewChatClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	_, err := c.Complete(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestChatClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := NewChatClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode chat response")
}

func TestNewChatClient_DefaultURL(t *testing.T) {
	c := NewChatClient(Options{}, observability.NewMetricsForTesting(), discardLogger())
	assert.Equal(t, DefaultChatURL, c.url)
}

// --- AnthropicClient ---

func anthropicReply(content ...map[string]any) map[string]any {
	return map[string]any{
		"id":          "msg_test_001",
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"model":       "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
		},
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, testKey, r.Header.Get("X-Api-Key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-5", req["model"])

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(anthropicReply(
			map[string]any{"type": "text", "text": "```json\n"},
			map[string]any{"type": "text", "text": `{"results":[]}`},
		)))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.Model = "claude-sonnet-4-5"
	c := NewAnthropicClient(opts, observability.NewMetricsForTesting(), discardLogger())

	got, err := c.Complete(context.Background(), "rank these schools")
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\"results\":[]}", got)
}

func TestAnthropicClient_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(anthropicReply(
			map[string]any{"type": "text", "text": ""},
		)))
	}))
	defer srv.Close()

	c := NewAnthropicClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	_, err := c.Complete(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(testOptions(srv.URL), observability.NewMetricsForTesting(), discardLogger())
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}
