package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"docresearch/internal/pkg/apperr"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// GenerateOptions bounds a single completion.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOption func(*OpenAICompatibleClient)

// WithRateLimit caps outbound requests per second across generation and embedding.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *OpenAICompatibleClient) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OpenAICompatibleClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewOpenAICompatibleClient(timeout time.Duration, opts ...ClientOption) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAICompatibleClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Complete sends a chat completion request. Errors wrap apperr.ErrGenerationTimeout
// when the deadline ran out and apperr.ErrGenerationService otherwise.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage, opts GenerateOptions) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", classifyGeneration(ctx, fmt.Errorf("rate limit wait failed: %w", err))
	}

	reqBody := map[string]interface{}{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	if opts.MaxTokens > 0 {
		reqBody["max_tokens"] = opts.MaxTokens
	}
	reqBody["temperature"] = opts.Temperature

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: marshal llm request failed: %v", apperr.ErrGenerationService, err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: build llm request failed: %v", apperr.ErrGenerationService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyGeneration(ctx, fmt.Errorf("llm request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyGeneration(ctx, fmt.Errorf("read llm response failed: %w", err))
	}
	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		return "", fmt.Errorf("%w: llm response status %d", apperr.ErrGenerationTimeout, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: llm response status %d: %s", apperr.ErrGenerationService, resp.StatusCode, truncate(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse llm json failed: %v", apperr.ErrGenerationService, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty llm choices", apperr.ErrGenerationService)
	}
	return parsed.Choices[0].Message.Content, nil
}

func classifyGeneration(ctx context.Context, err error) error {
	if isTimeout(ctx, err) {
		return fmt.Errorf("%w: %v", apperr.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrGenerationService, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

// Generator binds a client to one chat model and default generation bounds.
type Generator struct {
	client   *OpenAICompatibleClient
	cfg      ChatConfig
	defaults GenerateOptions
}

func NewGenerator(client *OpenAICompatibleClient, cfg ChatConfig, defaults GenerateOptions) *Generator {
	return &Generator{client: client, cfg: cfg, defaults: defaults}
}

// Generate answers a single-turn prompt. maxTokens <= 0 falls back to the default.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	opts := GenerateOptions{MaxTokens: maxTokens, Temperature: temperature}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = g.defaults.MaxTokens
	}
	return g.client.Complete(ctx, g.cfg, []ChatMessage{{Role: "user", Content: prompt}}, opts)
}
