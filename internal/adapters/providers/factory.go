package providers

import (
	"fmt"
	"strings"

	"github.com/louisjham/hexstrike-ai/internal/adapters/llm"
	"github.com/louisjham/hexstrike-ai/internal/config"
	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// Build creates the tier to provider chains from app configuration. Within a
// tier the configured order is the fallback order. It hides adapter
// selection from callers.
func Build(cfg *config.Config) (map[domain.Tier][]ports.CompletionProvider, error) {
	tiers := make(map[domain.Tier][]ports.CompletionProvider, len(cfg.Tiers))
	for name, provCfgs := range cfg.Tiers {
		tier, err := domain.ParseTier(name)
		if err != nil {
			return nil, err
		}
		for _, pc := range provCfgs {
			prov, err := buildProvider(pc)
			if err != nil {
				return nil, fmt.Errorf("tier %s: %w", tier, err)
			}
			tiers[tier] = append(tiers[tier], prov)
		}
	}
	return tiers, nil
}

func buildProvider(pc config.ProviderConfig) (ports.CompletionProvider, error) {
	kind := strings.ToLower(strings.TrimSpace(pc.Kind))
	switch kind {
	case "openai":
		return llm.NewOpenAIProvider(pc.Name, strings.TrimSpace(pc.BaseURL), pc.APIKey, pc.Model, pc.CostPerKiloTokens), nil
	case "ollama":
		return llm.NewOllamaProvider(pc.Name, normalizeOllamaBaseURL(pc.BaseURL), pc.Model, pc.CostPerKiloTokens), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", pc.Name, pc.Kind)
	}
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
