// Package llm provides the chat-completion client shared by agents and the
// extraction engine. The provider is pluggable: anything speaking the
// OpenAI-compatible chat API works.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrEmptyResponse indicates the model returned no content.
var ErrEmptyResponse = errors.New("model returned empty response")

// Client is the completion interface consumed by agents and the extractor.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response carries the completion and its token accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// UsageTracker accumulates token usage across the calls of one task. It is
// passed explicitly through the call chain; there is no ambient tracker.
type UsageTracker struct {
	mu               sync.Mutex
	PromptTokens     int
	CompletionTokens int
	Calls            int
}

// Record adds one response's usage.
func (t *UsageTracker) Record(resp *Response) {
	if t == nil || resp == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PromptTokens += resp.PromptTokens
	t.CompletionTokens += resp.CompletionTokens
	t.Calls++
}

// Totals returns accumulated usage.
func (t *UsageTracker) Totals() (prompt, completion, calls int) {
	if t == nil {
		return 0, 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.PromptTokens, t.CompletionTokens, t.Calls
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

// Config holds LLM client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewHTTPClient creates a chat completion client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a chat completion request. The context deadline doubles as
// the model-call timeout.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	jsonBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if chatResp.Error != nil {
			return nil, fmt.Errorf("model API error: %s (type: %s)", chatResp.Error.Message, chatResp.Error.Type)
		}
		return nil, fmt.Errorf("model API error: status %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:          chatResp.Choices[0].Message.Content,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// Model returns the model name.
func (c *HTTPClient) Model() string { return c.model }

// MockClient returns scripted responses for testing. Responses are consumed
// in order; when exhausted the last one repeats.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	CallCount int
	LastReq   Request
	ModelName string
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++
	m.LastReq = req
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, ErrEmptyResponse
	}
	idx := m.CallCount - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return &Response{Content: m.Responses[idx], PromptTokens: 10, CompletionTokens: 20}, nil
}

// Model returns the mock model name.
func (m *MockClient) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*MockClient)(nil)
)
