package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventJobClaimed      EventType = "job.claimed"
	EventJobDone         EventType = "job.done"
	EventJobFailed       EventType = "job.failed"
	EventJobCancelled    EventType = "job.cancelled"
	EventStepStarted     EventType = "step.started"
	EventStepCompleted   EventType = "step.completed"
	EventStepFailed      EventType = "step.failed"
	EventApprovalPending EventType = "approval.pending"
	EventApprovalClosed  EventType = "approval.closed"
)

type Event struct {
	JobID     string    `json:"job_id"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

// EventBus fans job lifecycle events out to per-job subscribers. Publishing
// never blocks: slow subscribers drop events.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job, plus an
// unsubscribe func that closes it.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// Emit marshals the payload and publishes in one call. Safe on a nil bus so
// components can treat eventing as optional.
func (b *EventBus) Emit(jobID string, eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	payload, _ := json.Marshal(data)
	b.Publish(Event{
		JobID:     jobID,
		Type:      eventType,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}
