// internal/backend/openrouter.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultOpenRouterURL is the OpenAI-compatible API root.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter calls hosted models through the OpenRouter chat completions API.
type OpenRouter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// OpenRouterOptions configures NewOpenRouter. Zero values take defaults.
type OpenRouterOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// NewOpenRouter creates the provider.
func NewOpenRouter(opts OpenRouterOptions) *OpenRouter {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenRouterURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &OpenRouter{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: newLimiter(opts.RateLimit, opts.Burst),
	}
}

// Name implements Provider.
func (o *OpenRouter) Name() string { return "openrouter" }

func (o *OpenRouter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "open-corp")
	return req, nil
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Provider.
func (o *OpenRouter) Complete(ctx context.Context, r Request) (*Response, error) {
	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(chatRequest{Model: r.Model, Messages: r.Messages, MaxTokens: r.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := o.newRequest(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to openrouter: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Backend: r.Model, StatusCode: resp.StatusCode, Body: trimBody(body)}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse openrouter response: %w", err)
	}

	out := &Response{Model: r.Model, Latency: time.Since(start)}
	if len(cr.Choices) > 0 {
		out.Content = cr.Choices[0].Message.Content
	}
	if cr.Usage != nil {
		out.Usage = &Usage{PromptTokens: cr.Usage.PromptTokens, CompletionTokens: cr.Usage.CompletionTokens}
	}
	return out, nil
}

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// FetchPricing downloads the model list and returns prices per million
// tokens keyed by model ID.
func (o *OpenRouter) FetchPricing(ctx context.Context) (map[string]Price, error) {
	req, err := o.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Backend: "openrouter/models", StatusCode: resp.StatusCode, Body: trimBody(body)}
	}

	var mr modelsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}

	prices := make(map[string]Price, len(mr.Data))
	for _, m := range mr.Data {
		if m.ID == "" {
			continue
		}
		// OpenRouter quotes USD per token as decimal strings.
		prompt, err1 := strconv.ParseFloat(m.Pricing.Prompt, 64)
		completion, err2 := strconv.ParseFloat(m.Pricing.Completion, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		prices[m.ID] = Price{Prompt: prompt * 1e6, Completion: completion * 1e6}
	}
	return prices, nil
}
