package escrowerr

import "errors"

// Error classes shared across the escrow domain. Callers classify with
// errors.Is; the HTTP layer maps each class to a status code.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrForbidden        = errors.New("forbidden")
	ErrSettlementFailed = errors.New("settlement failed")
)
