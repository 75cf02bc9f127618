// Package llm sends recommendation prompts to hosted language models. Both
// clients implement domain.Advisor.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/couchcryptid/school-connectivity-etl/internal/resilience"
)

// DefaultChatURL is the AI/ML API chat completions endpoint.
const DefaultChatURL = "https://api.aimlapi.com/chat/completions"

// ErrEmptyReply is returned when the model answers without any text.
var ErrEmptyReply = errors.New("model returned no content")

// Options configures either client.
type Options struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Retry     resilience.RetryConfig
}

// ChatClient talks to an OpenAI-compatible chat completions API.
type ChatClient struct {
	url        string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	retry      resilience.RetryConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewChatClient creates a chat completions client.
func NewChatClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *ChatClient {
	if opts.URL == "" {
		opts.URL = DefaultChatURL
	}
	retry := opts.Retry
	retry.OnRetry = resilience.RetryLogger(logger, "llm")
	return &ChatClient{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry:      retry,
		metrics:    metrics,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	start := time.Now()
	reply, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.post(ctx, body)
	})
	c.metrics.LLMDuration.WithLabelValues("aimlapi").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	c.logger.Debug("model reply received", "model", c.model, "bytes", len(reply))
	return reply, nil
}

func (c *ChatClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return "", resilience.StatusError("llm", resp.StatusCode, b)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}
	return out.Choices[0].Message.Content, nil
}
