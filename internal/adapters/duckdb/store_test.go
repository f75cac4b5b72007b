package duckdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pendingJob(id string, createdAt time.Time) domain.Job {
	return domain.Job{
		ID:        domain.JobID(id),
		Skill:     "recon_osint",
		Params:    map[string]any{"target": "example.com", "depth": float64(2)},
		Target:    "example.com",
		Status:    domain.JobStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestStore_InsertAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.InsertJob(ctx, pendingJob("job-1", now)))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "recon_osint", got.Skill)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "example.com", got.Target)
	assert.Equal(t, "example.com", got.Params["target"])
	assert.Equal(t, float64(2), got.Params["depth"])
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	err = store.InsertJob(ctx, pendingJob("job-1", now))
	assert.Error(t, err, "duplicate id must be rejected")
}

func TestStore_ClaimNextOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.InsertJob(ctx, pendingJob("newer", now)))
	require.NoError(t, store.InsertJob(ctx, pendingJob("older", now.Add(-time.Minute))))

	first, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobID("older"), first.ID)
	assert.Equal(t, domain.JobStatusRunning, first.Status)

	second, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobID("newer"), second.ID)

	_, err = store.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNoPendingJobs)
}

func TestStore_ClaimNextSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertJob(ctx, pendingJob("solo", time.Now().UTC())))

	type outcome struct {
		job domain.Job
		err error
	}
	results := make(chan outcome, 4)
	for i := 0; i < 4; i++ {
		go func() {
			job, err := store.ClaimNext(ctx)
			results <- outcome{job, err}
		}()
	}

	wins := 0
	for i := 0; i < 4; i++ {
		res := <-results
		if res.err == nil {
			wins++
			assert.Equal(t, domain.JobID("solo"), res.job.ID)
		} else {
			assert.ErrorIs(t, res.err, domain.ErrNoPendingJobs)
		}
	}
	assert.Equal(t, 1, wins, "exactly one claimant may win the job")
}

func TestStore_UpdateJobForwardOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertJob(ctx, pendingJob("job-1", time.Now().UTC())))

	_, err := store.ClaimNext(ctx)
	require.NoError(t, err)

	result := map[string]any{"summary": "two ports open"}
	require.NoError(t, store.UpdateJob(ctx, "job-1", domain.JobStatusDone, result, nil))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, got.Status)
	assert.Equal(t, "two ports open", got.Result["summary"])

	// Terminal statuses never move again.
	err = store.UpdateJob(ctx, "job-1", domain.JobStatusRunning, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	err = store.UpdateJob(ctx, "job-1", domain.JobStatusFailed, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStore_CancelRacingTerminalUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// One of cancel and done may win; done must never overwrite cancelled
	// (or the reverse). Repeat to give the interleaving a chance to bite.
	for i := 0; i < 25; i++ {
		id := domain.JobID(fmt.Sprintf("race-%d", i))
		require.NoError(t, store.InsertJob(ctx, pendingJob(string(id), time.Now().UTC())))
		_, err := store.ClaimNext(ctx)
		require.NoError(t, err)

		var cancelErr, updateErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelErr = store.CancelJob(ctx, id)
		}()
		go func() {
			defer wg.Done()
			updateErr = store.UpdateJob(ctx, id, domain.JobStatusDone, map[string]any{"out": "x"}, nil)
		}()
		wg.Wait()

		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		require.True(t, job.Status.Terminal())

		switch {
		case cancelErr == nil && updateErr == nil:
			t.Fatalf("iteration %d: cancel and terminal update both claimed success (status %s)", i, job.Status)
		case cancelErr == nil:
			assert.Equal(t, domain.JobStatusCancelled, job.Status)
			assert.ErrorIs(t, updateErr, domain.ErrInvalidTransition)
		case updateErr == nil:
			assert.Equal(t, domain.JobStatusDone, job.Status)
			assert.ErrorIs(t, cancelErr, domain.ErrJobNotCancellable)
		default:
			t.Fatalf("iteration %d: both writers failed: cancel=%v update=%v", i, cancelErr, updateErr)
		}
	}
}

func TestStore_UpdateJobStoresError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertJob(ctx, pendingJob("job-1", time.Now().UTC())))
	_, err := store.ClaimNext(ctx)
	require.NoError(t, err)

	msg := "nmap: target unreachable"
	require.NoError(t, store.UpdateJob(ctx, "job-1", domain.JobStatusFailed, nil, &msg))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
}

func TestStore_CancelJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertJob(ctx, pendingJob("pending", time.Now().UTC())))
	require.NoError(t, store.CancelJob(ctx, "pending"))

	got, err := store.GetJob(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	err = store.CancelJob(ctx, "pending")
	assert.ErrorIs(t, err, domain.ErrJobNotCancellable)

	// A cancelled job is no longer claimable.
	_, err = store.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNoPendingJobs)
}

func TestStore_ListJobsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertJob(ctx, pendingJob(id, now.Add(time.Duration(i)*time.Second))))
	}

	jobs, err := store.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobID("c"), jobs[0].ID)
	assert.Equal(t, domain.JobID("b"), jobs[1].ID)
}

func TestStore_FailStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.InsertJob(ctx, pendingJob("stale", old)))
	_, err := store.ClaimNext(ctx)
	require.NoError(t, err)

	// ClaimNext refreshed updated_at, so backdate it to simulate a run
	// abandoned by a dead process.
	_, err = store.db.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, old, "stale")
	require.NoError(t, err)

	require.NoError(t, store.InsertJob(ctx, pendingJob("fresh", time.Now().UTC())))

	n, err := store.FailStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, _ := store.GetJob(ctx, "stale")
	assert.Equal(t, domain.JobStatusFailed, stale.Status)
	require.NotNil(t, stale.Error)

	fresh, _ := store.GetJob(ctx, "fresh")
	assert.Equal(t, domain.JobStatusPending, fresh.Status, "pending jobs are not swept")
}

func TestStore_UsageReportAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []domain.UsageRecord{
		{ID: "u1", Provider: "ollama", Model: "qwen2.5", Tier: domain.TierLow, TokensIn: 100, TokensOut: 50, Cost: 0},
		{ID: "u2", Provider: "ollama", Model: "qwen2.5", Tier: domain.TierLow, TokensIn: 200, TokensOut: 80, Cost: 0},
		{ID: "u3", Provider: "openai", Model: "gpt-4o", Tier: domain.TierHigh, TokensIn: 300, TokensOut: 120, Cost: 0.42},
	}
	for _, rec := range records {
		rec.CreatedAt = time.Now().UTC()
		require.NoError(t, store.AppendUsage(ctx, rec))
	}

	report, err := store.UsageReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)

	// Most expensive bucket first.
	assert.Equal(t, "openai", report[0].Provider)
	assert.Equal(t, domain.TierHigh, report[0].Tier)
	assert.Equal(t, 1, report[0].Calls)
	assert.InDelta(t, 0.42, report[0].Cost, 1e-9)

	assert.Equal(t, "ollama", report[1].Provider)
	assert.Equal(t, 2, report[1].Calls)
	assert.Equal(t, 300, report[1].TokensIn)
	assert.Equal(t, 130, report[1].TokensOut)
}
