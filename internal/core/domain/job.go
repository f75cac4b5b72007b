package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// statusRank orders the lifecycle. Transitions only ever move forward;
// the three terminal statuses share a rank and never change again.
var statusRank = map[JobStatus]int{
	JobStatusPending:   0,
	JobStatusRunning:   1,
	JobStatusDone:      2,
	JobStatusFailed:    2,
	JobStatusCancelled: 2,
}

// CanTransition reports whether moving from one status to the next respects
// the forward-only lifecycle. A job never returns to pending, and a terminal
// status is final.
func CanTransition(from, to JobStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if fromRank >= 2 {
		return false
	}
	return toRank > fromRank
}

// Terminal reports whether a status is final.
func (s JobStatus) Terminal() bool {
	return statusRank[s] >= 2
}

// Job is one orchestrated execution of a skill against given parameters.
type Job struct {
	ID        JobID          `json:"id"`
	Skill     string         `json:"skill"`
	Params    map[string]any `json:"params"`
	Target    string         `json:"target"`
	Status    JobStatus      `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *string        `json:"error,omitempty"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrSkillNotFound     = errors.New("skill not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotCancellable = errors.New("job is not pending or running")
	ErrNoPendingJobs     = errors.New("no pending jobs")
)
