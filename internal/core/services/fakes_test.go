package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// memStore is an in-memory JobStore, UsageLog, and CacheStore for service
// tests.
type memStore struct {
	mu      sync.Mutex
	jobs    map[domain.JobID]domain.Job
	usage   []domain.UsageRecord
	entries map[string]domain.CacheEntry
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[domain.JobID]domain.Job),
		entries: make(map[string]domain.CacheEntry),
	}
}

func (m *memStore) InsertJob(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) ClaimNext(_ context.Context) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return domain.Job{}, domain.ErrNoPendingJobs
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	job := pending[0]
	job.Status = domain.JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memStore) UpdateJob(_ context.Context, id domain.JobID, status domain.JobStatus, result map[string]any, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !domain.CanTransition(job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *memStore) CancelJob(_ context.Context, id domain.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobNotCancellable
	}
	job.Status = domain.JobStatusCancelled
	m.jobs[id] = job
	return nil
}

func (m *memStore) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) FailStale(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	n := 0
	for id, j := range m.jobs {
		if j.Status == domain.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			j.Status = domain.JobStatusFailed
			m.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (m *memStore) AppendUsage(_ context.Context, rec domain.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

func (m *memStore) UsageReport(_ context.Context) ([]domain.UsageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey := make(map[string]*domain.UsageSummary)
	for _, rec := range m.usage {
		key := string(rec.Tier) + "/" + rec.Provider
		s, ok := byKey[key]
		if !ok {
			s = &domain.UsageSummary{Tier: rec.Tier, Provider: rec.Provider}
			byKey[key] = s
		}
		s.Calls++
		s.TokensIn += rec.TokensIn
		s.TokensOut += rec.TokensOut
		s.Cost += rec.Cost
	}

	out := make([]domain.UsageSummary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) usageRecords() []domain.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UsageRecord, len(m.usage))
	copy(out, m.usage)
	return out
}

func (m *memStore) GetExact(_ context.Context, fingerprint string) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fingerprint]
	if !ok || time.Now().After(e.ExpiresAt) {
		return domain.CacheEntry{}, false, nil
	}
	return e, true, nil
}

func (m *memStore) PutEntry(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Fingerprint] = entry
	return nil
}

func (m *memStore) ListEmbedded(_ context.Context, limit int) ([]domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.CacheEntry
	for _, e := range m.entries {
		if len(e.Embedding) > 0 && time.Now().Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Prune(_ context.Context, _ int) error { return nil }

// fakeProvider returns a canned completion or error, counting calls.
type fakeProvider struct {
	mu    sync.Mutex
	name  string
	text  string
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, _ string) (domain.Completion, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return domain.Completion{}, p.err
	}
	return domain.Completion{
		Text:      p.text,
		Provider:  p.name,
		Model:     "fake-model",
		TokensIn:  10,
		TokensOut: 20,
		Cost:      0.003,
	}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeInvoker records tool invocations and maps tool names to results.
type fakeInvoker struct {
	mu      sync.Mutex
	results map[string]any
	errs    map[string]error
	calls   []toolCall
}

type toolCall struct {
	tool string
	args map[string]any
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		results: make(map[string]any),
		errs:    make(map[string]error),
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, tool string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolCall{tool: tool, args: args})
	if err, ok := f.errs[tool]; ok {
		return nil, err
	}
	if res, ok := f.results[tool]; ok {
		return res, nil
	}
	return "ok", nil
}

func (f *fakeInvoker) callsFor(tool string) []toolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolCall
	for _, c := range f.calls {
		if c.tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// fakeNotifier records notifications and optionally auto-resolves approval
// requests through the gate.
type fakeNotifier struct {
	mu        sync.Mutex
	messages  []string
	urgencies []ports.Urgency
	approvals []domain.ApprovalRequest

	gate     *ApprovalGate
	decision domain.Decision
	resolve  bool
}

func (f *fakeNotifier) Notify(_ context.Context, message string, urgency ports.Urgency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.urgencies = append(f.urgencies, urgency)
	return nil
}

func (f *fakeNotifier) AskApproval(_ context.Context, req domain.ApprovalRequest) error {
	f.mu.Lock()
	f.approvals = append(f.approvals, req)
	resolve := f.resolve
	decision := f.decision
	gate := f.gate
	f.mu.Unlock()

	if resolve && gate != nil {
		go gate.Resolve(req.ID, decision)
	}
	return nil
}

func (f *fakeNotifier) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fixedEmbedder maps exact strings to vectors for deterministic semantic
// cache tests.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e *fixedEmbedder) Name() string { return "fixed" }

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}
