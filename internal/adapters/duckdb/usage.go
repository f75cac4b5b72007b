package duckdb

import (
	"context"
	"fmt"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

func (s *Store) AppendUsage(ctx context.Context, rec domain.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_log (id, provider, model, tier, tokens_in, tokens_out, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Model, string(rec.Tier),
		rec.TokensIn, rec.TokensOut, rec.Cost, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// UsageReport aggregates the token log by tier and provider, most expensive
// first. Reading the log costs zero inference.
func (s *Store) UsageReport(ctx context.Context) ([]domain.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, provider, COUNT(*), SUM(tokens_in), SUM(tokens_out), SUM(cost)
		FROM token_log
		GROUP BY tier, provider
		ORDER BY SUM(cost) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("usage report: %w", err)
	}
	defer rows.Close()

	var out []domain.UsageSummary
	for rows.Next() {
		var sum domain.UsageSummary
		var tier string
		if err := rows.Scan(&tier, &sum.Provider, &sum.Calls, &sum.TokensIn, &sum.TokensOut, &sum.Cost); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		sum.Tier = domain.Tier(tier)
		out = append(out, sum)
	}
	return out, rows.Err()
}
