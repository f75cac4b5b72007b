package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

func newTestRegistry(skills ...domain.Skill) *SkillRegistry {
	reg := NewSkillRegistry(testLogger(), "")
	for _, s := range skills {
		s.Normalize()
		reg.byName[strings.ToLower(s.Name)] = s
		reg.index = append(reg.index, s)
	}
	return reg
}

func newTestOrchestrator(t *testing.T, reg *SkillRegistry, cfg OrchestratorConfig) (*Orchestrator, *memStore, *fakeInvoker) {
	t.Helper()

	store := newMemStore()
	invoker := newFakeInvoker()
	bus := NewEventBus(testLogger())
	gate := NewApprovalGate(testLogger(), bus)
	cache := NewCacheGate(testLogger(), store, nil, CacheGateConfig{})
	router := NewInferenceRouter(testLogger(), nil, store)
	engine := NewEngine(testLogger(), store, invoker, cache, router, gate, nil, bus, time.Second)

	return NewOrchestrator(testLogger(), store, reg, engine, bus, cfg), store, invoker
}

func TestOrchestrator_SubmitEnqueuesPendingJob(t *testing.T) {
	reg := newTestRegistry(domain.Skill{Name: "recon"})
	orch, store, _ := newTestOrchestrator(t, reg, OrchestratorConfig{})

	id, err := orch.Submit(context.Background(), "recon", map[string]any{"target": "example.com"}, "")
	require.NoError(t, err)
	assert.Len(t, string(id), 8)

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "recon", job.Skill)
	assert.Equal(t, "example.com", job.Target, "target should be lifted from params")
}

func TestOrchestrator_SubmitUnknownSkill(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t, newTestRegistry(), OrchestratorConfig{})

	_, err := orch.Submit(context.Background(), "nope", nil, "")
	require.ErrorIs(t, err, domain.ErrSkillNotFound)

	jobs, _ := store.ListJobs(context.Background(), 0)
	assert.Empty(t, jobs, "rejected submissions must not be enqueued")
}

func TestOrchestrator_DrainRunsPendingJobs(t *testing.T) {
	skill := domain.Skill{
		Name:  "ping",
		Steps: []domain.Step{{Name: "ping", Tool: "ping", Output: "out"}},
	}
	orch, store, invoker := newTestOrchestrator(t, newTestRegistry(skill), OrchestratorConfig{})
	invoker.results["ping"] = "pong"

	id, err := orch.Submit(context.Background(), "ping", nil, "host-1")
	require.NoError(t, err)

	require.NoError(t, orch.drain(context.Background()))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		return err == nil && job.Status == domain.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, "pong", job.Result["out"])
	assert.Len(t, invoker.callsFor("ping"), 1)
}

func TestOrchestrator_DrainClaimsOldestFirst(t *testing.T) {
	skill := domain.Skill{
		Name:  "ping",
		Steps: []domain.Step{{Name: "ping", Tool: "ping", Output: "out"}},
	}
	orch, store, invoker := newTestOrchestrator(t, newTestRegistry(skill), OrchestratorConfig{MaxConcurrentJobs: 1})

	// Insert directly with spaced CreatedAt so the claim order is fixed.
	now := time.Now().UTC()
	for i, id := range []domain.JobID{"old", "new"} {
		require.NoError(t, store.InsertJob(context.Background(), domain.Job{
			ID:        id,
			Skill:     "ping",
			Status:    domain.JobStatusPending,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now,
		}))
	}

	require.NoError(t, orch.drain(context.Background()))
	require.Eventually(t, func() bool {
		return len(invoker.callsFor("ping")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// With concurrency 1 the semaphore serializes dispatch, so the claim
	// order is the execution order.
	old, _ := store.GetJob(context.Background(), "old")
	assert.Equal(t, domain.JobStatusDone, old.Status)
}

func TestOrchestrator_DispatchUnknownSkillFailsJob(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t, newTestRegistry(), OrchestratorConfig{})

	require.NoError(t, store.InsertJob(context.Background(), domain.Job{
		ID:        "ghost",
		Skill:     "vanished",
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))

	require.NoError(t, orch.drain(context.Background()))

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), "ghost")
		return err == nil && job.Status == domain.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := store.GetJob(context.Background(), "ghost")
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "vanished")
}

func TestOrchestrator_RunSweepsStaleJobsOnce(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t, newTestRegistry(), OrchestratorConfig{
		Heartbeat:      10 * time.Millisecond,
		StaleJobCutoff: time.Minute,
	})

	store.mu.Lock()
	store.jobs["stale"] = domain.Job{
		ID:        "stale",
		Skill:     "gone",
		Status:    domain.JobStatusRunning,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	store.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := orch.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	job, _ := store.GetJob(context.Background(), "stale")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestOrchestrator_RunStopsOnCancel(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, newTestRegistry(), OrchestratorConfig{Heartbeat: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop after cancel")
	}
}
