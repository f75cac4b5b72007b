package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PubSub(t *testing.T) {
	bus := NewEventBus(testLogger())

	jobID := "job-123"
	ch, unsub := bus.Subscribe(jobID)
	defer unsub()

	event := Event{
		JobID:     jobID,
		Type:      EventStepStarted,
		Data:      `{"step":"scan"}`,
		Timestamp: time.Now().UnixMilli(),
	}
	bus.Publish(event)

	select {
	case received := <-ch:
		assert.Equal(t, event.JobID, received.JobID)
		assert.Equal(t, event.Type, received.Type)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := "job-456"

	ch, unsub := bus.Subscribe(jobID)
	unsub()

	bus.Publish(Event{JobID: jobID, Type: EventStepCompleted, Data: "should not receive"})

	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("received event after unsubscribe: %v", e)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed by unsubscribe")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := "job-multi"

	ch1, unsub1 := bus.Subscribe(jobID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(jobID)
	defer unsub2()

	bus.Publish(Event{JobID: jobID, Type: EventJobDone, Data: "broadcast"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, "broadcast", e.Data)
		case <-time.After(1 * time.Second):
			t.Fatalf("subscriber %d did not receive event", i+1)
		}
	}
}

func TestEventBus_IsolationBetweenJobs(t *testing.T) {
	bus := NewEventBus(testLogger())

	chA, unsubA := bus.Subscribe("job-a")
	defer unsubA()

	bus.Publish(Event{JobID: "job-b", Type: EventJobFailed, Data: "other job"})

	select {
	case e := <-chA:
		t.Fatalf("received another job's event: %v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_EmitOnNilBus(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.Emit("job-x", EventJobDone, map[string]any{"k": "v"})
	})
}
