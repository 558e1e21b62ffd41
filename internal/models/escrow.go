package models

import (
	"fmt"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusPending   = "pending"
	EscrowStatusActive    = "active"
	EscrowStatusCompleted = "completed"
	EscrowStatusCancelled = "cancelled"
	EscrowStatusDisputed  = "disputed"
)

// Escrow types
const (
	EscrowTypeStandard  = "standard"
	EscrowTypeMilestone = "milestone"
)

// Valid state transitions: from -> []to. Completed and cancelled are
// terminal and have no outgoing edges.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusPending:   {EscrowStatusActive, EscrowStatusCancelled},
	EscrowStatusActive:    {EscrowStatusCompleted, EscrowStatusCancelled, EscrowStatusDisputed},
	EscrowStatusDisputed:  {EscrowStatusCompleted, EscrowStatusCancelled},
	EscrowStatusCompleted: {},
	EscrowStatusCancelled: {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == EscrowStatusCompleted || status == EscrowStatusCancelled
}

// ValidateTransition is the single place transition legality is decided;
// every mutating path must call it before persisting a status change.
func ValidateTransition(from, to string) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", escrowerr.ErrInvalidState, from, to)
	}
	return nil
}

func IsValidEscrowType(t string) bool {
	return t == EscrowTypeStandard || t == EscrowTypeMilestone
}

type Escrow struct {
	ID                     uuid.UUID       `json:"id"`
	Title                  string          `json:"title"`
	Description            *string         `json:"description,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	Asset                  string          `json:"asset"`
	Type                   string          `json:"type"`
	Status                 string          `json:"status"`
	CreatorID              uuid.UUID       `json:"creator_id"`
	IsReleased             bool            `json:"is_released"`
	ReleaseTransactionHash *string         `json:"release_transaction_hash,omitempty"`
	ExpiresAt              *time.Time      `json:"expires_at,omitempty"`
	ExpirationNotifiedAt   *time.Time      `json:"expiration_notified_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`

	// Relations, populated by the repository when requested.
	Parties    []Party     `json:"parties,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// RecipientUserID resolves the settlement beneficiary: the first
// recipient-role party, falling back to the creator.
func (e *Escrow) RecipientUserID() uuid.UUID {
	for _, p := range e.Parties {
		if p.Role == PartyRoleRecipient {
			return p.UserID
		}
	}
	return e.CreatorID
}

// EscrowOverviewRow is the per-user reporting projection.
type EscrowOverviewRow struct {
	EscrowID        uuid.UUID       `json:"escrow_id"`
	Depositor       uuid.UUID       `json:"depositor"`
	Recipient       *uuid.UUID      `json:"recipient,omitempty"`
	Token           string          `json:"token"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TotalReleased   decimal.Decimal `json:"total_released"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
