package models

import (
	"time"

	"github.com/google/uuid"
)

// Condition types
const (
	ConditionTypeManual = "manual"
)

// Condition is mutated only by the condition tracker; is_met is
// monotonic false -> true and never reverts.
type Condition struct {
	ID          uuid.UUID  `json:"id"`
	EscrowID    uuid.UUID  `json:"escrow_id"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	IsMet       bool       `json:"is_met"`
	MetAt       *time.Time `json:"met_at,omitempty"`
	MetByUserID *uuid.UUID `json:"met_by_user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
