// Package caseevents carries case-lifecycle notifications from the
// Conductor out to anything watching the system from outside the
// process: the status feed's websocket hub today, any future subscriber
// tomorrow. The process.* types are defined here but nothing publishes
// them.
package caseevents

import (
	"context"
	"encoding/json"
	"time"
)

// Type identifies the kind of event on the wire.
type Type string

const (
	CaseQueued          Type = "case.queued"
	CaseProcessing      Type = "case.processing"
	CaseCompleted       Type = "case.completed"
	CaseFailed          Type = "case.failed"
	CasePendingResource Type = "case.pending_resource"

	GPUReserved Type = "gpu.reserved"
	GPUReleased Type = "gpu.released"

	ProcessStarted   Type = "process.started"
	ProcessStopped   Type = "process.stopped"
	ProcessRestarted Type = "process.restarted"

	QueueDepth Type = "queue.depth"
)

// Event is a single notification broadcast to subscribers.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// New builds an Event stamped with the current time.
func New(t Type, data map[string]interface{}) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event.
func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CaseEventData builds the Data payload for a case status transition.
func CaseEventData(caseID string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{"case_id": caseID}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// ProcessEventData builds the Data payload for a supervised-process event.
func ProcessEventData(name string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{"process": name}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// Publisher is the interface the Conductor publishes through; RedisPub
// is this repository's only implementation.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
