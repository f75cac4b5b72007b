package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// pendingApproval is one suspended decision. The decision channel has
// capacity 1 so Resolve never blocks on an absent waiter.
type pendingApproval struct {
	req      domain.ApprovalRequest
	decision chan domain.Decision
}

// ApprovalGate is the registry of pending human decisions. A step creates a
// request, suspends on Await until an external actor resolves it or the
// timeout elapses, and treats expiry as a rejection. Resolving an unknown or
// already-resolved id is an acknowledged no-op.
type ApprovalGate struct {
	logger *slog.Logger
	bus    *EventBus

	mu      sync.Mutex
	pending map[domain.ApprovalID]*pendingApproval
	// closed keeps terminal states so late resolutions and status queries
	// stay idempotent after the waiter is gone. Bounded FIFO: the window
	// only needs to cover late button presses, not process lifetime.
	closed      map[domain.ApprovalID]domain.ApprovalState
	closedOrder []domain.ApprovalID
}

// closedHistoryLimit caps remembered terminal approvals. Evicted ids behave
// like unknown ids, which Resolve already treats as a no-op.
const closedHistoryLimit = 1024

func NewApprovalGate(logger *slog.Logger, bus *EventBus) *ApprovalGate {
	return &ApprovalGate{
		logger:  logger,
		bus:     bus,
		pending: make(map[domain.ApprovalID]*pendingApproval),
		closed:  make(map[domain.ApprovalID]domain.ApprovalState),
	}
}

// Request registers a new suspended decision and returns immediately.
func (g *ApprovalGate) Request(jobID domain.JobID, step, payload string) domain.ApprovalRequest {
	req := domain.ApprovalRequest{
		ID:        domain.ApprovalID(uuid.New().String()),
		JobID:     jobID,
		Step:      step,
		Payload:   payload,
		State:     domain.ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}

	g.mu.Lock()
	g.pending[req.ID] = &pendingApproval{
		req:      req,
		decision: make(chan domain.Decision, 1),
	}
	g.mu.Unlock()

	g.bus.Emit(string(jobID), EventApprovalPending, map[string]any{
		"approval_id": req.ID,
		"step":        step,
		"payload":     payload,
	})
	return req
}

// Await blocks the calling step until the request resolves, the timeout
// elapses, or the context is cancelled. Only the calling goroutine suspends;
// other jobs keep progressing. Timeout and context cancellation both close
// the request as expired, which callers treat as a rejection.
func (g *ApprovalGate) Await(ctx context.Context, id domain.ApprovalID, timeout time.Duration) domain.ApprovalState {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		state, done := g.closed[id]
		g.mu.Unlock()
		if done {
			return state
		}
		return domain.ApprovalExpired
	}
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var state domain.ApprovalState
	select {
	case decision := <-p.decision:
		if decision == domain.DecisionApproved {
			state = domain.ApprovalApproved
		} else {
			state = domain.ApprovalRejected
		}
	case <-timer.C:
		state = domain.ApprovalExpired
	case <-ctx.Done():
		state = domain.ApprovalExpired
	}

	g.close(id, state)
	return state
}

// Resolve routes an operator decision into the gate. Exactly one resolution
// applies per id; later calls, unknown ids, and expired requests are no-ops.
func (g *ApprovalGate) Resolve(id domain.ApprovalID, decision domain.Decision) {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		g.logger.Debug("resolve on unknown or settled approval", "approval_id", id)
		return
	}

	select {
	case p.decision <- decision:
		g.logger.Info("approval resolved", "approval_id", id, "decision", decision)
	default:
		// A decision is already buffered; first one wins.
	}
}

// Pending lists requests still awaiting a decision, oldest first.
func (g *ApprovalGate) Pending() []domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.ApprovalRequest, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (g *ApprovalGate) close(id domain.ApprovalID, state domain.ApprovalState) {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
		g.closed[id] = state
		g.closedOrder = append(g.closedOrder, id)
		for len(g.closedOrder) > closedHistoryLimit {
			delete(g.closed, g.closedOrder[0])
			g.closedOrder = g.closedOrder[1:]
		}
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	g.bus.Emit(string(p.req.JobID), EventApprovalClosed, map[string]any{
		"approval_id": id,
		"state":       state,
	})
}
