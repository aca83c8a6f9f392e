package inference

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"distributed-blackjack-rl/internal/chat"
)

// TokenizerClient encodes text through the inference server's /tokenize
// endpoint so token counts match the served model.
type TokenizerClient struct {
	model      string
	httpClient *resty.Client
}

var _ chat.Encoder = (*TokenizerClient)(nil)

func NewTokenizerClient(baseURL, model string, timeout time.Duration) *TokenizerClient {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		hc.SetTimeout(timeout)
	}
	return &TokenizerClient{model: model, httpClient: hc}
}

func (t *TokenizerClient) Close() error {
	return t.httpClient.Close()
}

type tokenizeRequest struct {
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

func (t *TokenizerClient) Encode(ctx context.Context, text string) ([]int, error) {
	var result tokenizeResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetBody(tokenizeRequest{Model: t.model, Prompt: text}).
		SetResult(&result).
		Post("/tokenize")
	if err != nil {
		return nil, fmt.Errorf("tokenize request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tokenize request failed: %v", resp.Status())
	}
	if result.Tokens == nil {
		return []int{}, nil
	}
	return result.Tokens, nil
}
