package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/beaconai/beacon/internal/log"
)

// Default request timeout for backend calls. Generation can be slow; the
// caller's context still wins when it is shorter.
const defaultTimeout = 60 * time.Second

// maxErrorBody bounds how much of an error response body is read for logging.
const maxErrorBody = 512

// OpenAIConfig configures an OpenAI-compatible client. BaseURL may point at
// api.openai.com or any compatible server (vLLM, Ollama's /v1, etc.).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string // chat completion model
	EmbedModel string // embedding model
	Timeout    time.Duration
	Logger     log.Logger
}

// OpenAIClient implements Generator and Embedder against the OpenAI wire
// format. It is safe for concurrent use.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	client     *http.Client
	logger     log.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible backend.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &OpenAIClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ModelName reports the configured chat model.
func (c *OpenAIClient) ModelName() string { return c.model }

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends a chat completion request and returns the assistant text.
func (c *OpenAIClient) Generate(ctx context.Context, turns []Turn, maxTokens int, temperature float32) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response contained no choices", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embedRequest{Model: c.embedModel, Input: text}

	var resp embedResponse
	if err := c.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}
	return resp.Data[0].Embedding, nil
}

// post sends a JSON request and decodes the JSON response into out,
// classifying failures with the package sentinels.
func (c *OpenAIClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return c.classifyStatus(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// classifyStatus maps a non-200 response to a sentinel error. The body is
// logged (truncated) but never included in the returned error, so provider
// error text cannot leak to end users.
func (c *OpenAIClient) classifyStatus(path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.Warn("backend returned error status",
		"path", path,
		"status", resp.StatusCode,
		"body", string(snippet),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrInvalidRequest, resp.StatusCode)
	}
}

// classifyTransportError maps network-level failures. Client-side timeouts
// and deadline expiry become ErrTimeout; anything else is ErrUnavailable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
