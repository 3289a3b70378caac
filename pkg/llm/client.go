package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider  string // ProviderOpenAI (default) or ProviderAnthropic
	Endpoint  string // Base URL, e.g., "https://api.openai.com/v1"
	Model     string // Model name, e.g., "gpt-4o"
	APIKey    string // Optional for local OpenAI-compatible endpoints
	MaxTokens int    // Reply budget; Anthropic requires one

	// Breaker, when set, fails calls fast while the provider is down.
	Breaker *CircuitBreaker
}

// Client provides access to OpenAI-compatible LLM endpoints.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker:   cfg.Breaker,
		logger:    logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion and returns its text.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	if err := allow(c.breaker); err != nil {
		return "", err
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", c.fail(err)
	}

	if len(resp.Choices) == 0 {
		return "", c.fail(NewErrorWithContext(ErrorTypeUnknown, "no choices in response", true, nil, c.model, c.endpoint, 0))
	}

	recordSuccess(c.breaker)
	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

// fail classifies err, attaching the HTTP status the API reported.
func (c *Client) fail(err error) error {
	classified := ClassifyError(err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		classified.StatusCode = apiErr.HTTPStatusCode
		classified.Retryable = classified.Retryable || isRetryableStatus(apiErr.HTTPStatusCode)
	}
	classified.Model = c.model
	classified.Endpoint = c.endpoint
	recordFailure(c.breaker, ctxErr(err))
	return classified
}

func allow(breaker *CircuitBreaker) error {
	if breaker == nil {
		return nil
	}
	if ok, err := breaker.Allow(); !ok {
		return NewError(ErrorTypeEndpoint, "provider unavailable", false, err)
	}
	return nil
}

func recordSuccess(breaker *CircuitBreaker) {
	if breaker != nil {
		breaker.RecordSuccess()
	}
}

// recordFailure counts a failure against the provider. Caller cancellations are not
// the provider's fault.
func recordFailure(breaker *CircuitBreaker, cancelled bool) {
	if breaker != nil && !cancelled {
		breaker.RecordFailure()
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled)
}
