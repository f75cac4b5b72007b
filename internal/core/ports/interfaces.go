package ports

import (
	"context"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// JobStore abstracts the persistent job queue (DuckDB).
type JobStore interface {
	// InsertJob persists a new job in pending status.
	InsertJob(ctx context.Context, job domain.Job) error

	// ClaimNext atomically selects the oldest pending job and moves it to
	// running. Returns domain.ErrNoPendingJobs when the queue is empty.
	// At most one claimant ever sees a given job.
	ClaimNext(ctx context.Context) (domain.Job, error)

	// UpdateJob persists a status change, enforcing the forward-only
	// lifecycle. Terminal statuses carry a result or an error payload.
	UpdateJob(ctx context.Context, id domain.JobID, status domain.JobStatus, result map[string]any, errMsg *string) error

	// CancelJob marks a pending or running job cancelled. Running jobs
	// observe the cancellation at their next step boundary.
	CancelJob(ctx context.Context, id domain.JobID) error

	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// FailStale marks jobs stuck in running longer than the cutoff as
	// failed. Used by the supervisory sweep after a restart; there is no
	// automatic resume.
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// UsageLog is the append-only token log. One row per inference router
// invocation; cache hits never reach it.
type UsageLog interface {
	AppendUsage(ctx context.Context, rec domain.UsageRecord) error
	UsageReport(ctx context.Context) ([]domain.UsageSummary, error)
}

// CacheStore is the shared backing store for both cache tiers. Writes are
// last-write-wins; entries are best-effort hints, not sources of truth.
type CacheStore interface {
	GetExact(ctx context.Context, fingerprint string) (domain.CacheEntry, bool, error)
	PutEntry(ctx context.Context, entry domain.CacheEntry) error

	// ListEmbedded returns unexpired entries that carry an embedding,
	// newest first, capped at limit.
	ListEmbedded(ctx context.Context, limit int) ([]domain.CacheEntry, error)

	// Prune drops expired entries and evicts the oldest embedded entries
	// beyond maxEmbedded.
	Prune(ctx context.Context, maxEmbedded int) error
}

// ToolInvoker executes a remote operation by name. The call is opaque to
// the core: arbitrary latency and failure are expected and surface as a
// step failure, never as a crash.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
}

// CompletionProvider is one inference backend mapped to a tier.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (domain.Completion, error)
}

// Embedder turns a prompt into a fixed-length vector for the semantic cache
// tier. Implementations form a capability ladder: remote embedding backend,
// local n-gram heuristic, or absent entirely (exact-only cache).
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Urgency classifies operator notifications.
type Urgency string

const (
	UrgencyInfo  Urgency = "info"
	UrgencyError Urgency = "error"
)

// Notifier is the operator-facing channel. Notify is fire-and-forget: its
// failure is logged and never fails the calling step. AskApproval delivers
// an approval request whose asynchronous answer comes back through a
// Resolver.
type Notifier interface {
	Notify(ctx context.Context, message string, urgency Urgency) error
	AskApproval(ctx context.Context, req domain.ApprovalRequest) error
}

// Resolver is the narrow entry point the notification channel holds to
// route operator decisions back into the approval gate, breaking the
// circular dependency between the engine and the channel.
type Resolver interface {
	Resolve(id domain.ApprovalID, decision domain.Decision)
}
