package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
)

// AnthropicClient sends prompts through the Anthropic Messages API.
type AnthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewAnthropicClient creates a Messages API client. The SDK's own retry loop
// handles transient failures, bounded by opts.Retry.MaxAttempts.
func NewAnthropicClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *AnthropicClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.URL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.URL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.Retry.MaxAttempts > 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.Retry.MaxAttempts-1))
	}
	return &AnthropicClient{
		client:    sdk.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		metrics:   metrics,
		logger:    logger,
	}
}

// Complete sends prompt as a single user message and joins the text blocks
// of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	c.metrics.LLMDuration.WithLabelValues("anthropic").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyReply
	}
	c.logger.Debug("model reply received", "model", c.model, "stop_reason", msg.StopReason, "output_tokens", msg.Usage.OutputTokens)
	return b.String(), nil
}
