package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
	"github.com/louisjham/hexstrike-ai/internal/core/services"
)

// Server exposes the orchestrator over HTTP. Handlers are thin: decode,
// delegate to a service, encode.
type Server struct {
	logger   *slog.Logger
	store    ports.JobStore
	usage    ports.UsageLog
	orch     *services.Orchestrator
	planner  *services.Planner
	skills   *services.SkillRegistry
	gate     *services.ApprovalGate
	cache    *services.CacheGate
	eventBus *services.EventBus
}

func NewServer(
	logger *slog.Logger,
	store ports.JobStore,
	usage ports.UsageLog,
	orch *services.Orchestrator,
	planner *services.Planner,
	skills *services.SkillRegistry,
	gate *services.ApprovalGate,
	cache *services.CacheGate,
	eventBus *services.EventBus,
) *Server {
	return &Server{
		logger:   logger,
		store:    store,
		usage:    usage,
		orch:     orch,
		planner:  planner,
		skills:   skills,
		gate:     gate,
		cache:    cache,
		eventBus: eventBus,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)

	mux.HandleFunc("POST /v1/goals", s.handleSubmitGoal)

	mux.HandleFunc("GET /v1/skills", s.handleListSkills)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)

	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{id}", s.handleResolveApproval)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

type submitJobRequest struct {
	Skill  string         `json:"skill"`
	Params map[string]any `json:"params"`
	Target string         `json:"target"`
}

// handleSubmitJob enqueues a job for a named skill.
// POST /v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, "skill is required")
		return
	}

	id, err := s.orch.Submit(r.Context(), req.Skill, req.Params, req.Target)
	if err != nil {
		if errors.Is(err, domain.ErrSkillNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("failed to submit job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"skill":  req.Skill,
		"status": domain.JobStatusPending,
	})
}

type submitGoalRequest struct {
	Goal string `json:"goal"`
}

// handleSubmitGoal plans a skill for a free-form goal and enqueues it.
// POST /v1/goals
func (s *Server) handleSubmitGoal(w http.ResponseWriter, r *http.Request) {
	var req submitGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	skillName, params, target, err := s.planner.Plan(req.Goal)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "no skill matches goal: "+err.Error())
		return
	}

	id, err := s.orch.Submit(r.Context(), skillName, params, target)
	if err != nil {
		s.logger.Error("failed to submit planned job", "skill", skillName, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"skill":  skillName,
		"target": target,
		"status": domain.JobStatusPending,
	})
}

// handleListJobs returns recent jobs, newest first.
// GET /v1/jobs?limit=50
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns one job with its result or error payload.
// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or running job. Running jobs stop at
// their next step boundary.
// POST /v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	if err := s.store.CancelJob(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrJobNotCancellable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("failed to cancel job", "job_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	s.eventBus.Emit(string(id), services.EventJobCancelled, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": domain.JobStatusCancelled,
	})
}

// handleListSkills returns the loaded skill catalog.
// GET /v1/skills
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	skills := s.skills.List()
	if skills == nil {
		skills = []domain.Skill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skills": skills,
		"count":  len(skills),
	})
}

// handleUsage returns the token log aggregated by tier and provider.
// GET /v1/usage
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.usage.UsageReport(r.Context())
	if err != nil {
		s.logger.Error("failed to read usage report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read usage report")
		return
	}
	if summaries == nil {
		summaries = []domain.UsageSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage": summaries,
		"count": len(summaries),
	})
}

// handleCacheStats returns cache hit/miss counters.
// GET /v1/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleListApprovals returns requests still awaiting a decision.
// GET /v1/approvals
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.gate.Pending()
	if pending == nil {
		pending = []domain.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": pending,
		"count":     len(pending),
	})
}

type resolveApprovalRequest struct {
	Decision string `json:"decision"`
}

// handleResolveApproval records an operator decision. Resolving an already
// closed request is a no-op.
// POST /v1/approvals/{id}
func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var decision domain.Decision
	switch req.Decision {
	case "approve", string(domain.DecisionApproved):
		decision = domain.DecisionApproved
	case "deny", string(domain.DecisionRejected):
		decision = domain.DecisionRejected
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve or deny")
		return
	}

	s.gate.Resolve(domain.ApprovalID(r.PathValue("id")), decision)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       r.PathValue("id"),
		"decision": decision,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
