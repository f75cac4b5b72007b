package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// InferenceRouter selects a provider for the requested cost tier, invokes
// it, and records the usage receipt. It never escalates to a higher tier on
// its own: redundancy lives inside a tier's ordered provider list. The
// cache-before-inference ordering is the caller's contract, not enforced
// here.
type InferenceRouter struct {
	logger    *slog.Logger
	providers map[domain.Tier][]ports.CompletionProvider
	usage     ports.UsageLog
}

func NewInferenceRouter(logger *slog.Logger, providers map[domain.Tier][]ports.CompletionProvider, usage ports.UsageLog) *InferenceRouter {
	return &InferenceRouter{
		logger:    logger,
		providers: providers,
		usage:     usage,
	}
}

// Ask invokes the first working provider mapped to the tier. On success a
// usage record is appended; a failing usage write is logged but does not
// discard the completion.
func (r *InferenceRouter) Ask(ctx context.Context, prompt string, tier domain.Tier) (domain.Completion, error) {
	provs := r.providers[tier]
	if len(provs) == 0 {
		return domain.Completion{}, fmt.Errorf("no providers configured for tier %s", tier)
	}

	var lastErr error
	for _, p := range provs {
		completion, err := p.Complete(ctx, prompt)
		if err != nil {
			r.logger.Warn("provider failed, trying next in tier",
				"provider", p.Name(), "tier", tier, "error", err)
			lastErr = err
			continue
		}

		rec := domain.UsageRecord{
			ID:        uuid.New().String(),
			Provider:  completion.Provider,
			Model:     completion.Model,
			Tier:      tier,
			TokensIn:  completion.TokensIn,
			TokensOut: completion.TokensOut,
			Cost:      completion.Cost,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.usage.AppendUsage(ctx, rec); err != nil {
			r.logger.Error("usage record append failed", "provider", rec.Provider, "error", err)
		}
		return completion, nil
	}

	return domain.Completion{}, fmt.Errorf("all providers failed for tier %s: %w", tier, lastErr)
}
