package models

import (
	"time"

	"github.com/google/uuid"
)

// Party roles. The creator is the implicit depositor; a recipient-role
// party is the designated beneficiary for settlement.
const (
	PartyRoleDepositor  = "depositor"
	PartyRoleRecipient  = "recipient"
	PartyRoleArbitrator = "arbitrator"
)

type Party struct {
	ID        uuid.UUID `json:"id"`
	EscrowID  uuid.UUID `json:"escrow_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func IsValidPartyRole(role string) bool {
	return role == PartyRoleDepositor || role == PartyRoleRecipient || role == PartyRoleArbitrator
}
