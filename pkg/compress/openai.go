package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds settings for an OpenAI-compatible chat endpoint.
// Works against OpenAI itself or local servers like LM Studio.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:1234/v1".
	BaseURL string

	// APIKey is sent as a bearer token. Local servers accept anything.
	APIKey string

	// Model is the chat model name.
	Model string

	// Timeout bounds a single summarization call. Default: 60s.
	Timeout time.Duration
}

// OpenAISummarizer implements Summarizer over the OpenAI-compatible
// chat completions API.
type OpenAISummarizer struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAISummarizer creates a summarizer for the given endpoint.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai summarizer: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai summarizer: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAISummarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends the rendered turns to the chat endpoint with the
// summarization prompt. Any transport failure, non-2xx status, or empty
// completion is reported as ErrUnavailable.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystem},
			{Role: "user", Content: buildPrompt(text, maxTokens)},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUnavailable)
	}

	summary := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return summary, nil
}
