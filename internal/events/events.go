// Package events carries the engine's structured observability stream: one
// event per detected transition, match, suppression and delivery outcome.
// Emitters fan the stream out to logs, metrics, Kafka and the operator
// health webhook.
package events

import (
	"context"
	"time"
)

// Type names an event.
type Type string

const (
	TransitionDetected Type = "transition_detected"
	DetectionFailed    Type = "detection_failed"
	Matched            Type = "matched"
	Suppressed         Type = "suppressed"
	AlreadySent        Type = "already_sent"
	Queued             Type = "queued"
	DeliveryOutcome    Type = "delivery_outcome"
	DeliveryExpired    Type = "delivery_expired"
	PersistenceFailed  Type = "persistence_failed"
	CycleFailed        Type = "cycle_failed"
	CycleCompleted     Type = "cycle_completed"
)

// Event is one observation. Fields that do not apply to the type are empty.
type Event struct {
	Type     Type          `json:"type"`
	At       time.Time     `json:"at"`
	ServerID string        `json:"server_id,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Identity string        `json:"identity,omitempty"`
	UserID   string        `json:"user_id,omitempty"`
	Target   string        `json:"target,omitempty"`
	Status   string        `json:"status,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Count    int           `json:"count,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Emitter consumes events. Emit must not block the caller for long and never
// fails the cycle; emitters handle their own errors.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Multi forwards every event to each emitter in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		em.Emit(ctx, e)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
