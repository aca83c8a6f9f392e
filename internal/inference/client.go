// Package inference talks to an OpenAI-compatible completion server and its
// tokenizer endpoint.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"resty.dev/v3"
)

type Split string

const (
	SplitTrain Split = "train"
	SplitEval  Split = "eval"
)

var ErrChoiceCount = errors.New("inference: unexpected number of choices")

type Request struct {
	Prompt      string
	N           int
	MaxTokens   int
	Temperature float64
	TopP        float64
	Split       Split
}

// Completer samples N completions for a prompt. Implementations return
// exactly N choices or an error.
type Completer interface {
	Complete(ctx context.Context, req Request) ([]Choice, error)
}

type Options struct {
	BaseURL            string
	APIKey             string
	Model              string
	Timeout            time.Duration
	MaxNumWorkers      int
	NumRequestsForEval int
}

// Client bounds in-flight requests per split so evaluation can't starve
// training rollouts.
type Client struct {
	model      string
	httpClient *resty.Client
	train      *semaphore.Weighted
	eval       *semaphore.Weighted
}

var _ Completer = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.MaxNumWorkers <= 0 {
		opts.MaxNumWorkers = 1
	}
	if opts.NumRequestsForEval <= 0 {
		opts.NumRequestsForEval = 1
	}
	hc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		hc.SetAuthToken(opts.APIKey)
	}
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}
	return &Client{
		model:      opts.Model,
		httpClient: hc,
		train:      semaphore.NewWeighted(int64(opts.MaxNumWorkers)),
		eval:       semaphore.NewWeighted(int64(opts.NumRequestsForEval)),
	}
}

func (c *Client) Close() error {
	return c.httpClient.Close()
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	N           int     `json:"n"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type completionResponse struct {
	Choices []Choice `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req Request) ([]Choice, error) {
	sem := c.train
	if req.Split == SplitEval {
		sem = c.eval
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	var result completionResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:       c.model,
			Prompt:      req.Prompt,
			N:           req.N,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}).
		SetResult(&result).
		Post("/completions")
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("completion request failed: %v", resp.Status())
	}
	if len(result.Choices) != req.N {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrChoiceCount, req.N, len(result.Choices))
	}
	return result.Choices, nil
}
