package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrTransient covers timeouts, rate limiting and server errors
	ErrTransient = errors.New("moderation provider transient error")
	// ErrPermanent covers auth failures, invalid requests and unreadable responses
	ErrPermanent = errors.New("moderation provider permanent error")
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "omni-moderation-latest"
)

// Result is what an external moderation provider says about a text
type Result struct {
	Flagged        bool               `json:"flagged"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Provider is an external text moderation service
type Provider interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// OpenAIProvider calls the OpenAI moderation endpoint
type OpenAIProvider struct {
	apiKey string
	model  string
	client *resty.Client
}

type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Results []Result `json:"results"`
}

// NewOpenAIProvider creates a provider. An empty baseURL or model uses the defaults.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIProvider{
		apiKey: apiKey,
		model:  model,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30 * time.Second),
	}
}

// Classify sends one text to the moderation endpoint
func (p *OpenAIProvider) Classify(ctx context.Context, text string) (*Result, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(openAIRequest{Model: p.model, Input: text}).
		Post("/v1/moderations")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= 500 || status == http.StatusRequestTimeout:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, status)
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, status, truncate(resp.String(), 200))
	}

	var body openAIResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrPermanent, err)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("%w: empty results", ErrPermanent)
	}

	return &body.Results[0], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
