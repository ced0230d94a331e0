// internal/backend/ollama.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OllamaPrefix marks backend IDs served by a local Ollama.
const OllamaPrefix = "ollama/"

// DefaultOllamaURL is where a local Ollama listens.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama runs models on a local Ollama server. Calls are free but still
// report tokens.
type Ollama struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllama creates the provider. An empty baseURL uses DefaultOllamaURL.
func NewOllama(baseURL string, timeout time.Duration, rps float64, burst int) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(rps, burst),
	}
}

// Name implements Provider.
func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
	Done            bool  `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Complete implements Provider. The "ollama/" prefix is stripped before the
// model name is sent.
func (o *Ollama) Complete(ctx context.Context, r Request) (*Response, error) {
	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, err
	}

	model := strings.TrimPrefix(r.Model, OllamaPrefix)
	reqBody, err := json.Marshal(ollamaChatRequest{Model: model, Messages: r.Messages, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ollama service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := trimBody(respBody)
		var oe ollamaErrorResponse
		if json.Unmarshal(respBody, &oe) == nil && oe.Error != "" {
			msg = oe.Error
		}
		return nil, &StatusError{Backend: r.Model, StatusCode: resp.StatusCode, Body: msg}
	}

	var cr ollamaChatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse ollama response: %w", err)
	}
	return &Response{
		Content: cr.Message.Content,
		Model:   r.Model,
		Usage:   &Usage{PromptTokens: cr.PromptEvalCount, CompletionTokens: cr.EvalCount},
		Latency: time.Since(start),
	}, nil
}
