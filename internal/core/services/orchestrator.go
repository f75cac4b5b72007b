package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// OrchestratorConfig defines scheduling behavior.
type OrchestratorConfig struct {
	Heartbeat         time.Duration
	MaxConcurrentJobs int64
	StaleJobCutoff    time.Duration
}

// Orchestrator is the single scheduler loop: it polls the job store on a
// heartbeat, claims pending jobs one at a time, and hands each to the
// engine on its own goroutine. A weighted semaphore caps how many jobs run
// at once; claiming never blocks on running jobs.
type Orchestrator struct {
	logger *slog.Logger
	store  ports.JobStore
	skills *SkillRegistry
	engine *Engine
	bus    *EventBus
	sem    *semaphore.Weighted
	cfg    OrchestratorConfig
}

func NewOrchestrator(logger *slog.Logger, store ports.JobStore, skills *SkillRegistry, engine *Engine, bus *EventBus, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 10
	}
	return &Orchestrator{
		logger: logger,
		store:  store,
		skills: skills,
		engine: engine,
		bus:    bus,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		cfg:    cfg,
	}
}

// Submit validates the skill and enqueues a new pending job.
func (o *Orchestrator) Submit(ctx context.Context, skillName string, params map[string]any, target string) (domain.JobID, error) {
	if _, err := o.skills.Get(skillName); err != nil {
		return "", err
	}
	if params == nil {
		params = map[string]any{}
	}
	if target == "" {
		if t, ok := params["target"].(string); ok {
			target = t
		}
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:        domain.JobID(uuid.New().String()[:8]),
		Skill:     skillName,
		Params:    params,
		Target:    target,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	o.logger.Info("job enqueued", "job_id", job.ID, "skill", skillName, "target", target)
	return job.ID, nil
}

// Run drives the heartbeat loop until the context is cancelled. Jobs left
// running by a previous process are swept to failed once at startup; they
// are never resumed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.StaleJobCutoff > 0 {
		if n, err := o.store.FailStale(ctx, o.cfg.StaleJobCutoff); err != nil {
			o.logger.Warn("stale job sweep failed", "error", err)
		} else if n > 0 {
			o.logger.Info("stale running jobs marked failed", "count", n)
		}
	}

	o.logger.Info("scheduler loop started",
		"heartbeat", o.cfg.Heartbeat, "max_concurrent", o.cfg.MaxConcurrentJobs)

	ticker := time.NewTicker(o.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scheduler loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := o.drain(ctx); err != nil {
				return err
			}
		}
	}
}

// drain claims every currently-pending job and dispatches each on its own
// goroutine. Only a semaphore acquire failure (context cancelled) stops the
// loop iteration.
func (o *Orchestrator) drain(ctx context.Context) error {
	for {
		job, err := o.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoPendingJobs) {
				return nil
			}
			o.logger.Error("claim failed, retrying next heartbeat", "error", err)
			return nil
		}

		if err := o.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		o.bus.Emit(string(job.ID), EventJobClaimed, map[string]any{"skill": job.Skill})
		go func(j domain.Job) {
			defer o.sem.Release(1)
			o.dispatch(ctx, j)
		}(job)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, job domain.Job) {
	skill, err := o.skills.Get(job.Skill)
	if err != nil {
		msg := fmt.Sprintf("skill %s not found", job.Skill)
		if uerr := o.store.UpdateJob(ctx, job.ID, domain.JobStatusFailed, nil, &msg); uerr != nil {
			o.logger.Error("failed to fail job with unknown skill", "job_id", job.ID, "error", uerr)
		}
		o.bus.Emit(string(job.ID), EventJobFailed, map[string]any{"error": msg})
		return
	}

	if err := o.engine.Run(ctx, job, skill); err != nil {
		// Engine errors are persistence faults; the job record may be
		// stuck in running until the stale sweep picks it up.
		o.logger.Error("engine run aborted", "job_id", job.ID, "error", err)
	}
}
