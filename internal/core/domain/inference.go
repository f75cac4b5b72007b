package domain

import (
	"fmt"
	"time"
)

// Tier is a cost/capability class selector for provider choice. It is an
// explicit hint chosen by the caller, never inferred from content.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ParseTier accepts the canonical tier names plus the short form "med".
func ParseTier(s string) (Tier, error) {
	switch s {
	case "low":
		return TierLow, nil
	case "med", "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Completion is the outcome of one inference call, with its usage receipt.
type Completion struct {
	Text      string  `json:"text"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// UsageRecord is one row of the append-only token log. Cache hits produce
// no record.
type UsageRecord struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Tier      Tier      `json:"tier"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary is an aggregate over the token log, grouped by tier and
// provider.
type UsageSummary struct {
	Tier      Tier    `json:"tier"`
	Provider  string  `json:"provider"`
	Calls     int     `json:"calls"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}
