package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// OllamaProvider runs completions against a local Ollama instance through
// its native generate API, which reports token counts per call.
type OllamaProvider struct {
	client  *http.Client
	name    string
	baseURL string
	model   string
	costPer float64
}

func NewOllamaProvider(name, baseURL, model string, costPerKiloTokens float64) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:latest"
	}
	return &OllamaProvider{
		client:  &http.Client{Timeout: 120 * time.Second},
		name:    name,
		baseURL: baseURL,
		model:   model,
		costPer: costPerKiloTokens,
	}
}

func (p *OllamaProvider) Name() string { return p.name }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (domain.Completion, error) {
	body, err := json.Marshal(generateRequest{Model: p.model, Prompt: prompt})
	if err != nil {
		return domain.Completion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return domain.Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%s: ollama connection failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Completion{}, fmt.Errorf("%s: ollama returned status %d", p.name, resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return domain.Completion{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}

	return domain.Completion{
		Text:      genResp.Response,
		Provider:  p.name,
		Model:     p.model,
		TokensIn:  genResp.PromptEvalCount,
		TokensOut: genResp.EvalCount,
		Cost:      float64(genResp.PromptEvalCount+genResp.EvalCount) / 1000 * p.costPer,
	}, nil
}
