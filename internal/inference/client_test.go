package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoiceUnmarshalVariants(t *testing.T) {
	var choices []Choice
	err := json.Unmarshal([]byte(`[
		{"text": "plain"},
		{"message": {"role": "assistant", "content": "chat"}}
	]`), &choices)
	require.NoError(t, err)
	require.Len(t, choices, 2)

	assert.False(t, choices[0].IsMessage())
	assert.Equal(t, "plain", choices[0].Content())
	assert.True(t, choices[1].IsMessage())
	assert.Equal(t, "assistant", choices[1].Role())
	assert.Equal(t, "chat", choices[1].Content())

	var bad Choice
	assert.Error(t, json.Unmarshal([]byte(`{"index": 0}`), &bad))
}

func TestCompletePostsRequest(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"text": "a"}, {"text": "b"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "m", MaxNumWorkers: 2, NumRequestsForEval: 1})
	defer c.Close()

	choices, err := c.Complete(context.Background(), Request{Prompt: "p", N: 2, MaxTokens: 8, Temperature: 0.7, TopP: 0.9, Split: SplitTrain})
	require.NoError(t, err)
	require.Len(t, choices, 2)
	assert.Equal(t, "b", choices[1].Content())
	assert.Equal(t, completionRequest{Model: "m", Prompt: "p", N: 2, MaxTokens: 8, Temperature: 0.7, TopP: 0.9}, got)
}

func TestCompleteRejectsWrongChoiceCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"text": "only"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Prompt: "p", N: 3})
	assert.ErrorIs(t, err, ErrChoiceCount)
}

func TestCompleteReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Prompt: "p", N: 1, Split: SplitEval})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCompleteHonoursCancelledContext(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", MaxNumWorkers: 1})
	require.True(t, c.train.TryAcquire(1))
	defer c.train.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "p", N: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenizerClientEncode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokenize", r.URL.Path)
		var req tokenizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req.Prompt)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 2, "tokens": [15339, 1917]}`))
	}))
	defer srv.Close()

	tok := NewTokenizerClient(srv.URL, "m", 0)
	defer tok.Close()

	ids, err := tok.Encode(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []int{15339, 1917}, ids)
}
