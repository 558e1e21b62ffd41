package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow event types
const (
	EventCreated         = "created"
	EventUpdated         = "updated"
	EventFunded          = "funded"
	EventCancelled       = "cancelled"
	EventCompleted       = "completed"
	EventConditionMet    = "condition_met"
	EventDisputed        = "disputed"
	EventDisputeResolved = "dispute_resolved"
	EventExpired         = "expired"
)

// EscrowEvent is an append-only audit record. Rows are never updated or
// deleted; the event log is the authoritative history.
type EscrowEvent struct {
	ID        uuid.UUID  `json:"id"`
	EscrowID  uuid.UUID  `json:"escrow_id"`
	EventType string     `json:"event_type"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	IPAddress *string    `json:"ip_address,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
