// internal/backend/backend.go
// Package backend talks to the model providers that execute billable
// calls: OpenRouter for hosted models and a local Ollama for "ollama/"
// backend IDs.
package backend

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion against one backend ID.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Usage is the token accounting a provider reports.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Response is a completed call. Usage is nil when the provider sent no
// token data, in which case the call is not billable.
type Response struct {
	Content string
	Model   string
	Usage   *Usage
	Latency time.Duration
}

// Provider executes completions.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// newLimiter returns nil when rps is not positive, meaning no limit.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// waitLimiter blocks for a token. A wait the deadline cannot cover is
// reported as a deadline error so the call is retried elsewhere.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limit: %w", context.DeadlineExceeded)
	}
	return nil
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// PromptTokens estimates the input size of messages.
func PromptTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
