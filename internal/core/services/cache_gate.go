package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/ports"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// CacheGateConfig carries the tuning knobs for both cache tiers.
type CacheGateConfig struct {
	Threshold   float64
	ExactTTL    time.Duration
	SemanticTTL time.Duration
	MaxEntries  int
}

// CacheGate answers "do we already have a usable answer?" without invoking
// inference. Tier 1 is an exact fingerprint lookup; tier 2 searches stored
// embeddings for a cosine similarity above the threshold. Check is a pure
// read path: it never calls the inference router and never touches usage
// accounting. A broken backing store degrades to always-miss.
type CacheGate struct {
	logger   *slog.Logger
	store    ports.CacheStore
	embedder ports.Embedder
	cfg      CacheGateConfig

	mu           sync.Mutex
	hitsExact    int
	hitsSemantic int
	misses       int
}

func NewCacheGate(logger *slog.Logger, store ports.CacheStore, embedder ports.Embedder, cfg CacheGateConfig) *CacheGate {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.92
	}
	if cfg.ExactTTL == 0 {
		cfg.ExactTTL = 24 * time.Hour
	}
	if cfg.SemanticTTL == 0 {
		cfg.SemanticTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 2000
	}
	return &CacheGate{
		logger:   logger,
		store:    store,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Check looks up both tiers for the prompt. A semantic hit is promoted into
// the exact tier so identical future calls hit tier 1 directly.
func (c *CacheGate) Check(ctx context.Context, prompt string) (domain.CacheHit, bool) {
	normalized := normalizePrompt(prompt)
	fp := fingerprint(normalized)

	entry, ok, err := c.store.GetExact(ctx, fp)
	if err != nil {
		c.logger.Warn("exact cache lookup failed, treating as miss", "error", err)
	} else if ok && time.Since(entry.CreatedAt) <= c.cfg.ExactTTL {
		// Embedded entries outlive ExactTTL in the store (they carry the
		// semantic TTL); the exact tier still expires on its own clock.
		c.count(func() { c.hitsExact++ })
		return domain.CacheHit{Response: entry.Response, Tier: domain.CacheTierExact, Similarity: 1.0}, true
	}

	if hit, ok := c.checkSemantic(ctx, normalized, fp); ok {
		c.count(func() { c.hitsSemantic++ })
		return hit, true
	}

	c.count(func() { c.misses++ })
	return domain.CacheHit{}, false
}

// Store populates both tiers after a completed inference call.
func (c *CacheGate) Store(ctx context.Context, prompt, response string) {
	normalized := normalizePrompt(prompt)
	now := time.Now().UTC()

	entry := domain.CacheEntry{
		Fingerprint: fingerprint(normalized),
		Prompt:      normalized,
		Response:    response,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.ExactTTL),
	}

	if c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, normalized)
		if err != nil {
			c.logger.Warn("embedding failed, storing exact-only", "error", err)
		} else {
			entry.Embedding = vec
			entry.ExpiresAt = now.Add(c.cfg.SemanticTTL)
		}
	}

	if err := c.store.PutEntry(ctx, entry); err != nil {
		c.logger.Warn("cache store failed", "error", err)
		return
	}
	if err := c.store.Prune(ctx, c.cfg.MaxEntries); err != nil {
		c.logger.Warn("cache prune failed", "error", err)
	}
}

// Stats returns process-lifetime hit counters.
func (c *CacheGate) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hitsExact + c.hitsSemantic + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hitsExact+c.hitsSemantic) / float64(total)
	}
	name := "disabled"
	if c.embedder != nil {
		name = c.embedder.Name()
	}
	return domain.CacheStats{
		HitsExact:    c.hitsExact,
		HitsSemantic: c.hitsSemantic,
		Misses:       c.misses,
		HitRate:      rate,
		Embedder:     name,
	}
}

func (c *CacheGate) checkSemantic(ctx context.Context, normalized, fp string) (domain.CacheHit, bool) {
	if c.embedder == nil {
		return domain.CacheHit{}, false
	}

	query, err := c.embedder.Embed(ctx, normalized)
	if err != nil {
		c.logger.Warn("query embedding failed, skipping semantic tier", "error", err)
		return domain.CacheHit{}, false
	}

	entries, err := c.store.ListEmbedded(ctx, c.cfg.MaxEntries)
	if err != nil {
		c.logger.Warn("semantic cache scan failed, treating as miss", "error", err)
		return domain.CacheHit{}, false
	}

	bestSim := 0.0
	var best *domain.CacheEntry
	for i := range entries {
		sim := cosine(query, entries[i].Embedding)
		if sim > bestSim {
			bestSim = sim
			best = &entries[i]
		}
	}
	if best == nil || bestSim < c.cfg.Threshold {
		return domain.CacheHit{}, false
	}

	// Promote to the exact tier under this prompt's own fingerprint. The
	// row keeps the query embedding and the semantic store TTL; exact-tier
	// freshness is judged against CreatedAt at lookup time.
	now := time.Now().UTC()
	promoted := domain.CacheEntry{
		Fingerprint: fp,
		Prompt:      normalized,
		Response:    best.Response,
		Embedding:   query,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.SemanticTTL),
	}
	if err := c.store.PutEntry(ctx, promoted); err != nil {
		c.logger.Warn("semantic hit promotion failed", "error", err)
	}

	return domain.CacheHit{Response: best.Response, Tier: domain.CacheTierSemantic, Similarity: bestSim}, true
}

func (c *CacheGate) count(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// normalizePrompt collapses whitespace so formatting-only variants share a
// fingerprint.
func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

func fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
