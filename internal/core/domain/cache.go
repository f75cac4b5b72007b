package domain

import "time"

// CacheTier names which lookup strategy produced a hit.
type CacheTier string

const (
	CacheTierExact    CacheTier = "exact"
	CacheTierSemantic CacheTier = "semantic"
)

// CacheEntry maps a normalized request fingerprint to a previously produced
// completion. The embedding is present only when a semantic backend was
// available at store time.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CacheHit is a usable answer found without invoking inference. A semantic
// hit is a best-effort substitution; Similarity carries the score so callers
// can audit how close the match was (1.0 for exact hits).
type CacheHit struct {
	Response   string    `json:"response"`
	Tier       CacheTier `json:"tier"`
	Similarity float64   `json:"similarity"`
}

// CacheStats are process-lifetime counters, no store calls involved.
type CacheStats struct {
	HitsExact    int     `json:"hits_exact"`
	HitsSemantic int     `json:"hits_semantic"`
	Misses       int     `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Embedder     string  `json:"embedder"`
}
