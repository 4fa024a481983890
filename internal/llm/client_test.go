package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.InDelta(t, 0.3, req.Temperature, 0.001)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "# Draft\n"}},
			},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 45},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{APIKey: "test-key", BaseURL: srv.URL, Temperature: 0.3})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{
		System: "You draft documents.",
		Prompt: "Write the draft.",
	})
	require.NoError(t, err)
	assert.Equal(t, "# Draft\n", resp.Content)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 45, resp.CompletionTokens)
}

func TestHTTPClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestHTTPClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewHTTPClientRequiresKey(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	assert.Error(t, err)
}

func TestMockClientRotation(t *testing.T) {
	m := &MockClient{Responses: []string{"one", "two"}}
	ctx := context.Background()

	r1, err := m.Complete(ctx, Request{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", r1.Content)

	r2, err := m.Complete(ctx, Request{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "two", r2.Content)

	// Exhausted scripts repeat the last response.
	r3, err := m.Complete(ctx, Request{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "two", r3.Content)

	assert.Equal(t, 3, m.CallCount)
	assert.Equal(t, "c", m.LastReq.Prompt)
}

func TestUsageTracker(t *testing.T) {
	var tr UsageTracker
	tr.Record(&Response{PromptTokens: 10, CompletionTokens: 20})
	tr.Record(&Response{PromptTokens: 5, CompletionTokens: 5})
	tr.Record(nil)

	prompt, completion, calls := tr.Totals()
	assert.Equal(t, 15, prompt)
	assert.Equal(t, 25, completion)
	assert.Equal(t, 2, calls)

	// Nil trackers are a no-op at every call site.
	var nilTracker *UsageTracker
	nilTracker.Record(&Response{PromptTokens: 1})
	p, c, n := nilTracker.Totals()
	assert.Zero(t, p+c+n)
}
