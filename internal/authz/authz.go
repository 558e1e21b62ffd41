package authz

import (
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/google/uuid"
)

// Actions that can be requested against an escrow.
const (
	ActionUpdate  = "update"
	ActionCancel  = "cancel"
	ActionFund    = "fund"
	ActionDispute = "dispute"
	ActionResolve = "resolve"
	ActionRelease = "release"
)

// Verdict distinguishes "you may not" from "not now": Forbidden maps to
// 403, InvalidState to 409. Terminal-state rejections are InvalidState
// and are decided before any role lookup.
type Verdict int

const (
	Allow Verdict = iota
	Forbidden
	InvalidState
)

// rules: status -> action -> roles that may trigger it. An action absent
// for a status is not valid in that status, regardless of role.
var rules = map[string]map[string][]string{
	models.EscrowStatusPending: {
		ActionUpdate: {models.PartyRoleDepositor},
		ActionCancel: {models.PartyRoleDepositor},
		ActionFund:   {models.PartyRoleDepositor},
	},
	models.EscrowStatusActive: {
		ActionCancel:  {models.PartyRoleDepositor, models.PartyRoleArbitrator},
		ActionRelease: {models.PartyRoleDepositor},
		ActionDispute: {models.PartyRoleDepositor, models.PartyRoleRecipient, models.PartyRoleArbitrator},
	},
	models.EscrowStatusDisputed: {
		ActionCancel:  {models.PartyRoleDepositor, models.PartyRoleArbitrator},
		ActionResolve: {models.PartyRoleArbitrator},
	},
}

// RolesFor synthesizes the actor's roles from a single party list: the
// creator counts as a depositor party alongside any explicit rows.
func RolesFor(escrow *models.Escrow, userID uuid.UUID) []string {
	var roles []string
	if escrow.CreatorID == userID {
		roles = append(roles, models.PartyRoleDepositor)
	}
	for _, p := range escrow.Parties {
		if p.UserID == userID {
			roles = append(roles, p.Role)
		}
	}
	return roles
}

// Check decides whether userID may perform action on the escrow in its
// current status. Escrow parties must be loaded.
func Check(escrow *models.Escrow, userID uuid.UUID, action string) Verdict {
	if models.IsTerminalStatus(escrow.Status) {
		return InvalidState
	}

	actions, ok := rules[escrow.Status]
	if !ok {
		return InvalidState
	}
	allowed, ok := actions[action]
	if !ok {
		return InvalidState
	}

	for _, role := range RolesFor(escrow, userID) {
		for _, a := range allowed {
			if role == a {
				return Allow
			}
		}
	}
	return Forbidden
}
