package translate

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

// LLMConfig configures the openai-compatible chat completion backend.
type LLMConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	TargetLang  string
	Interval    time.Duration
}

// LLMProvider translates through any openai-compatible chat completion API.
// It is the slowest and most expensive backend, so operators usually put it
// last in preference order.
type LLMProvider struct {
	cooldown
	cfg    LLMConfig
	client *http.Client
}

func NewLLMProvider(cfg LLMConfig) (*LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.TargetLang == "" {
		cfg.TargetLang = "Japanese"
	}
	return &LLMProvider{
		cfg:    cfg,
		client: &http.Client{},
	}, nil
}

func (p *LLMProvider) Name() string { return "llm" }

func (p *LLMProvider) Available() bool { return !p.active() }

func (p *LLMProvider) PaceInterval() time.Duration { return p.cfg.Interval }

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmRequest struct {
	Model       string       `json:"model"`
	Messages    []llmMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
}

type llmResponse struct {
	Choices []struct {
		Message llmMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (p *LLMProvider) Translate(ctx context.Context, text string) (string, error) {
	request := llmRequest{
		Model: p.cfg.Model,
		Messages: []llmMessage{
			{
				Role: "system",
				Content: fmt.Sprintf(
					"You translate live-stream chat messages into %s. Reply with the translation only, no commentary.",
					p.cfg.TargetLang),
			},
			{Role: "user", Content: text},
		},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.APIURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		p.enterFor(time.Minute)
		return "", &ProviderError{Code: "429", Message: "rate limited"}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired {
		p.enterFor(manualInterventionWindow)
		return "", &ProviderError{Code: fmt.Sprintf("%d", resp.StatusCode), Message: "credentials rejected"}
	}

	var parsed llmResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", &ProviderError{Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Message: "no choices in response"}
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
