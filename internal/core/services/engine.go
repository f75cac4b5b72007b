package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// Engine interprets a skill against one job: steps strictly in declared
// order, a per-job context threaded between them, approval gates suspending
// only this job's goroutine, and failure policies deciding whether a bad
// step aborts the rest. Remote-operation errors never escape a step
// boundary; only job store persistence failures abort the run.
type Engine struct {
	logger      *slog.Logger
	jobs        ports.JobStore
	tools       ports.ToolInvoker
	cache       *CacheGate
	router      *InferenceRouter
	gate        *ApprovalGate
	notifier    ports.Notifier
	bus         *EventBus
	gateTimeout time.Duration
}

func NewEngine(
	logger *slog.Logger,
	jobs ports.JobStore,
	tools ports.ToolInvoker,
	cache *CacheGate,
	router *InferenceRouter,
	gate *ApprovalGate,
	notifier ports.Notifier,
	bus *EventBus,
	gateTimeout time.Duration,
) *Engine {
	if gateTimeout <= 0 {
		gateTimeout = 5 * time.Minute
	}
	return &Engine{
		logger:      logger,
		jobs:        jobs,
		tools:       tools,
		cache:       cache,
		router:      router,
		gate:        gate,
		notifier:    notifier,
		bus:         bus,
		gateTimeout: gateTimeout,
	}
}

// Run executes the job to a terminal status. The returned error reports
// engine-internal faults (persistence failures); step failures are part of
// normal operation and land in the job record instead.
func (e *Engine) Run(ctx context.Context, job domain.Job, skill domain.Skill) error {
	log := e.logger.With("job_id", job.ID, "skill", skill.Name)
	log.Info("job execution started", "steps", len(skill.Steps))

	if len(skill.Steps) == 0 {
		return e.finish(ctx, job, map[string]any{}, nil, nil)
	}

	// The context is owned exclusively by this job; it is seeded with the
	// job parameters and never shared with another run.
	jobCtx := make(map[string]any, len(job.Params))
	for k, v := range job.Params {
		jobCtx[k] = v
	}

	var stepErrors []domain.StepError

	for i, step := range skill.Steps {
		cancelled, err := e.jobCancelled(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("cancellation observed at step boundary", "step", step.Name)
			e.bus.Emit(string(job.ID), EventJobCancelled, map[string]any{"step": step.Name})
			return nil
		}

		e.bus.Emit(string(job.ID), EventStepStarted, map[string]any{
			"step":  step.Name,
			"index": i,
		})

		output, stepErr := e.executeStep(ctx, job, step, jobCtx)

		if stepErr != nil {
			log.Warn("step failed", "step", step.Name, "error", stepErr)
			stepErrors = append(stepErrors, domain.StepError{Step: step.Name, Err: stepErr.Error()})
			e.bus.Emit(string(job.ID), EventStepFailed, map[string]any{
				"step":  step.Name,
				"error": stepErr.Error(),
			})
		} else {
			jobCtx[step.Output] = output
			e.bus.Emit(string(job.ID), EventStepCompleted, map[string]any{"step": step.Name})
		}

		e.notifyStep(ctx, job, step, i, len(skill.Steps), stepErr)

		if stepErr != nil && step.OnFail == domain.FailAbort {
			log.Warn("aborting job on step failure", "step", step.Name)
			msg := summarizeErrors(stepErrors)
			return e.finish(ctx, job, resultPayload(skill, jobCtx, stepErrors), &msg, stepErrors)
		}
	}

	return e.finish(ctx, job, resultPayload(skill, jobCtx, stepErrors), nil, stepErrors)
}

// executeStep performs one step: gate first, then the named operation.
// A rejected or expired gate fails the step without invoking the operation.
func (e *Engine) executeStep(ctx context.Context, job domain.Job, step domain.Step, jobCtx map[string]any) (any, error) {
	if step.Gate == domain.GateApprove {
		if err := e.awaitApproval(ctx, job, step, jobCtx); err != nil {
			return nil, err
		}
	}

	if step.Prompt != "" {
		return e.executePrompt(ctx, step, jobCtx)
	}
	return e.executeTool(ctx, job, step, jobCtx)
}

func (e *Engine) awaitApproval(ctx context.Context, job domain.Job, step domain.Step, jobCtx map[string]any) error {
	payload := fmt.Sprintf("Job %s (%s) wants to run step %q on %s. Approve?",
		job.ID, job.Skill, step.Name, job.Target)

	req := e.gate.Request(job.ID, step.Name, payload)

	if e.notifier != nil {
		if err := e.notifier.AskApproval(ctx, req); err != nil {
			e.logger.Warn("approval delivery failed, gate still armed", "approval_id", req.ID, "error", err)
		}
	}

	switch state := e.gate.Await(ctx, req.ID, e.gateTimeout); state {
	case domain.ApprovalApproved:
		return nil
	case domain.ApprovalExpired:
		return fmt.Errorf("approval %s expired without a decision", req.ID)
	default:
		return fmt.Errorf("approval %s rejected by operator", req.ID)
	}
}

// executePrompt runs a cache-gated inference step: the cache gate must be
// consulted and miss before the router spends tokens.
func (e *Engine) executePrompt(ctx context.Context, step domain.Step, jobCtx map[string]any) (any, error) {
	prompt := interpolate(step.Prompt, jobCtx)

	if hit, ok := e.cache.Check(ctx, prompt); ok {
		e.logger.Info("cache hit, skipping inference",
			"step", step.Name, "tier", hit.Tier, "similarity", hit.Similarity)
		return hit.Response, nil
	}

	completion, err := e.router.Ask(ctx, prompt, step.Tier)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	e.cache.Store(ctx, prompt, completion.Text)
	return completion.Text, nil
}

func (e *Engine) executeTool(ctx context.Context, job domain.Job, step domain.Step, jobCtx map[string]any) (any, error) {
	args := make(map[string]any, len(step.Params)+2)
	for k, v := range step.Params {
		args[k] = v
	}
	if step.Input != "" {
		// An absent input key is undefined input, not an error.
		args["input"] = jobCtx[step.Input]
	}
	if _, ok := args["target"]; !ok && job.Target != "" {
		args["target"] = job.Target
	}

	result, err := e.tools.Invoke(ctx, step.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", step.Tool, err)
	}
	return result, nil
}

// notifyStep delivers the step outcome when the policy matches. The
// delivery is fire-and-forget; its failure never fails the step.
func (e *Engine) notifyStep(ctx context.Context, job domain.Job, step domain.Step, index, total int, stepErr error) {
	if e.notifier == nil {
		return
	}
	switch step.Notify {
	case domain.NotifyNever:
		return
	case domain.NotifyOnError:
		if stepErr == nil {
			return
		}
	}

	var msg string
	urgency := ports.UrgencyInfo
	if stepErr != nil {
		msg = fmt.Sprintf("job %s step %d/%d (%s) failed: %v", job.ID, index+1, total, step.Name, stepErr)
		urgency = ports.UrgencyError
	} else {
		msg = fmt.Sprintf("job %s step %d/%d (%s) completed", job.ID, index+1, total, step.Name)
	}

	if err := e.notifier.Notify(ctx, msg, urgency); err != nil {
		e.logger.Warn("notification delivery failed", "job_id", job.ID, "error", err)
	}
}

// finish writes the terminal status. A persistence failure here is fatal to
// the run and surfaces to the scheduler loop.
func (e *Engine) finish(ctx context.Context, job domain.Job, result map[string]any, errMsg *string, stepErrors []domain.StepError) error {
	status := domain.JobStatusDone
	event := EventJobDone
	if errMsg != nil {
		status = domain.JobStatusFailed
		event = EventJobFailed
	}

	if err := e.jobs.UpdateJob(ctx, job.ID, status, result, errMsg); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The job was cancelled underneath us; the store kept the
			// terminal status it already had.
			e.logger.Info("terminal update skipped, job already terminal", "job_id", job.ID)
			return nil
		}
		return fmt.Errorf("persist terminal status for job %s: %w", job.ID, err)
	}

	e.bus.Emit(string(job.ID), event, map[string]any{
		"status":      status,
		"step_errors": len(stepErrors),
	})
	e.logger.Info("job finished", "job_id", job.ID, "status", status, "step_errors", len(stepErrors))
	return nil
}

func (e *Engine) jobCancelled(ctx context.Context, id domain.JobID) (bool, error) {
	current, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("job status check: %w", err)
	}
	return current.Status == domain.JobStatusCancelled, nil
}

// resultPayload builds the job result from the final context: the declared
// subset when the skill names result keys, the whole context otherwise.
// Step errors ride along so partial failures stay visible on a done job.
func resultPayload(skill domain.Skill, jobCtx map[string]any, stepErrors []domain.StepError) map[string]any {
	result := make(map[string]any)
	if len(skill.ResultKeys) > 0 {
		for _, k := range skill.ResultKeys {
			if v, ok := jobCtx[k]; ok {
				result[k] = v
			}
		}
	} else {
		for k, v := range jobCtx {
			result[k] = v
		}
	}
	if len(stepErrors) > 0 {
		notes := make([]string, len(stepErrors))
		for i, se := range stepErrors {
			notes[i] = se.String()
		}
		result["step_errors"] = notes
	}
	return result
}

func summarizeErrors(stepErrors []domain.StepError) string {
	parts := make([]string, len(stepErrors))
	for i, se := range stepErrors {
		parts[i] = se.String()
	}
	return strings.Join(parts, "; ")
}

// interpolate replaces {{context.key}} placeholders with values from the
// job context.
func interpolate(template string, jobCtx map[string]any) string {
	res := template
	for k, v := range jobCtx {
		placeholder := fmt.Sprintf("{{context.%s}}", k)
		res = strings.ReplaceAll(res, placeholder, fmt.Sprintf("%v", v))
	}
	return res
}
