package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/auctionhall/auctiond/internal/domain"
)

// GenerationRequest is the opaque remote call to an upstream backend.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// GenerationResponse is the normalized upstream payload.
type GenerationResponse struct {
	Content    string
	TokensUsed int
}

// Caller performs the upstream generation call. Implementations must
// honor ctx cancellation; retries are not performed at this layer.
type Caller interface {
	Generate(ctx context.Context, p domain.Provider, req GenerationRequest) (GenerationResponse, error)
}

// HTTPCaller talks to chat-completions style HTTP APIs.
type HTTPCaller struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPCaller creates a caller with the given per-call timeout.
func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	return &HTTPCaller{
		client:  &http.Client{},
		timeout: timeout,
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate posts a chat completion to the provider's endpoint.
func (c *HTTPCaller) Generate(ctx context.Context, p domain.Provider, req GenerationRequest) (GenerationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := chatCompletionRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseEndpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv(p.APIKeyEnv); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("call %s: %w", p.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the error message without
		// trusting it to be small.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GenerationResponse{}, fmt.Errorf("call %s: status %d: %s", p.ID, resp.StatusCode, snippet)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return GenerationResponse{}, fmt.Errorf("decode %s response: %w", p.ID, err)
	}
	if len(parsed.Choices) == 0 {
		return GenerationResponse{}, fmt.Errorf("call %s: empty choices", p.ID)
	}

	return GenerationResponse{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}
