package dto

import "time"

type IssueTokenRequest struct {
	UserID        string `json:"user_id"`
	ServiceSecret string `json:"service_secret"`
}

type EscrowPartyRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // depositor / recipient / arbitrator
}

type EscrowConditionRequest struct {
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
}

type CreateEscrowRequest struct {
	Title       string                   `json:"title"`
	Description *string                  `json:"description,omitempty"`
	Amount      string                   `json:"amount"`
	Asset       string                   `json:"asset,omitempty"` // defaults to DEFAULT_ASSET
	Type        string                   `json:"type,omitempty"`  // standard / milestone
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
	Parties     []EscrowPartyRequest     `json:"parties,omitempty"`
	Conditions  []EscrowConditionRequest `json:"conditions,omitempty"`
}

type UpdateEscrowRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type CancelEscrowRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DisputeEscrowRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // release / refund
}

type ConsistencyCheckRequest struct {
	EscrowIDs []string `json:"escrow_ids,omitempty"`
}
