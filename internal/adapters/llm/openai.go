package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, Azure, Together, or a local Ollama /v1.
type OpenAIProvider struct {
	client  *http.Client
	name    string
	baseURL string
	apiKey  string
	model   string
	costPer float64
}

func NewOpenAIProvider(name, baseURL, apiKey, model string, costPerKiloTokens float64) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		client:  &http.Client{Timeout: 120 * time.Second},
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		costPer: costPerKiloTokens,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (domain.Completion, error) {
	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%s: call failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Completion{}, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, string(raw))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Completion{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(result.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("%s: no choices in response", p.name)
	}

	tokensIn := result.Usage.PromptTokens
	tokensOut := result.Usage.CompletionTokens
	return domain.Completion{
		Text:      result.Choices[0].Message.Content,
		Provider:  p.name,
		Model:     p.model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      float64(tokensIn+tokensOut) / 1000 * p.costPer,
	}, nil
}
