package domain

import "time"

type ApprovalID string

// ApprovalState is the lifecycle of a human decision. Pending moves to
// exactly one of the terminal states; expired is reached only via timeout.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalExpired  ApprovalState = "expired"
)

// Decision is an operator's answer to an approval request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalRequest is one pending human decision, keyed by an opaque id.
type ApprovalRequest struct {
	ID        ApprovalID    `json:"id"`
	JobID     JobID         `json:"job_id"`
	Step      string        `json:"step"`
	Payload   string        `json:"payload"`
	State     ApprovalState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
}
