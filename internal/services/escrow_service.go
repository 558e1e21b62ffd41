package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/authz"
	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/StayLitCodes/Vaultix/internal/events"
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/StayLitCodes/Vaultix/internal/repositories"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Dispute resolution outcomes.
const (
	ResolveOutcomeRelease = "release"
	ResolveOutcomeRefund  = "refund"
)

type escrowStore interface {
	Create(ctx context.Context, e *models.Escrow, parties []models.Party, conditions []models.Condition) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error)
	UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, status string) error
	UpdateDetails(ctx context.Context, q repositories.Querier, id uuid.UUID, title, description *string, expiresAt *time.Time) error
	MarkReleased(ctx context.Context, q repositories.Querier, id uuid.UUID, txHash string) error
	List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, int, error)
	Overview(ctx context.Context, userID uuid.UUID, f repositories.OverviewFilter) ([]models.EscrowOverviewRow, int, error)
	GetExpiring(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
	MarkExpirationNotified(ctx context.Context, id uuid.UUID) error
}

type conditionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Condition, error)
	GetTx(ctx context.Context, q repositories.Querier, id uuid.UUID) (*models.Condition, error)
	MarkMet(ctx context.Context, q repositories.Querier, id, userID uuid.UUID, metAt time.Time) error
	ListByEscrow(ctx context.Context, q repositories.Querier, escrowID uuid.UUID) ([]models.Condition, error)
}

type eventStore interface {
	Append(ctx context.Context, e models.EscrowEvent) error
	AppendTx(ctx context.Context, q repositories.Querier, e models.EscrowEvent) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.EscrowEvent, error)
}

// Ledger is the external settlement adapter. Settle is at-most-once per
// successful release; a failure surfaces as ErrSettlementFailed with
// local state untouched.
type Ledger interface {
	Settle(ctx context.Context, escrowID, beneficiary uuid.UUID) (string, error)
	FetchState(ctx context.Context, escrowID uuid.UUID) (*stellar.ExternalEscrowView, error)
}

type EscrowService struct {
	escrowRepo    escrowStore
	conditionRepo conditionStore
	eventRepo     eventStore
	ledger        Ledger
	dispatcher    events.Dispatcher
	cfg           *config.Config
	log           *zap.Logger
}

func NewEscrowService(
	escrowRepo escrowStore,
	conditionRepo conditionStore,
	eventRepo eventStore,
	ledger Ledger,
	dispatcher events.Dispatcher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrowRepo:    escrowRepo,
		conditionRepo: conditionRepo,
		eventRepo:     eventRepo,
		ledger:        ledger,
		dispatcher:    dispatcher,
		cfg:           cfg,
		log:           log,
	}
}

type PartyInput struct {
	UserID uuid.UUID
	Role   string
}

type ConditionInput struct {
	Description string
	Type        string
}

type CreateEscrowInput struct {
	Title       string
	Description *string
	Amount      decimal.Decimal
	Asset       string
	Type        string
	ExpiresAt   *time.Time
	Parties     []PartyInput
	Conditions  []ConditionInput
}

func (s *EscrowService) Create(ctx context.Context, input CreateEscrowInput, creatorID uuid.UUID, ip *string) (*models.Escrow, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", escrowerr.ErrInvalidState)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", escrowerr.ErrInvalidState)
	}
	escrowType := input.Type
	if escrowType == "" {
		escrowType = models.EscrowTypeStandard
	}
	if !models.IsValidEscrowType(escrowType) {
		return nil, fmt.Errorf("%w: invalid escrow type %q", escrowerr.ErrInvalidState, input.Type)
	}
	asset := input.Asset
	if asset == "" {
		asset = s.cfg.DefaultAsset
	}

	parties := make([]models.Party, 0, len(input.Parties))
	for _, p := range input.Parties {
		if !models.IsValidPartyRole(p.Role) {
			return nil, fmt.Errorf("%w: invalid party role %q", escrowerr.ErrInvalidState, p.Role)
		}
		parties = append(parties, models.Party{UserID: p.UserID, Role: p.Role})
	}

	conditions := make([]models.Condition, 0, len(input.Conditions))
	for _, c := range input.Conditions {
		condType := c.Type
		if condType == "" {
			condType = models.ConditionTypeManual
		}
		conditions = append(conditions, models.Condition{Description: c.Description, Type: condType})
	}

	escrow := &models.Escrow{
		Title:       input.Title,
		Description: input.Description,
		Amount:      input.Amount,
		Asset:       asset,
		Type:        escrowType,
		Status:      models.EscrowStatusPending,
		CreatorID:   creatorID,
		ExpiresAt:   input.ExpiresAt,
	}

	if err := s.escrowRepo.Create(ctx, escrow, parties, conditions); err != nil {
		return nil, err
	}

	_ = s.eventRepo.Append(ctx, models.EscrowEvent{
		EscrowID:  escrow.ID,
		EventType: models.EventCreated,
		ActorID:   &creatorID,
		Data:      map[string]any{"title": escrow.Title, "amount": escrow.Amount.String(), "asset": escrow.Asset},
		IPAddress: ip,
	})
	_ = s.dispatcher.Dispatch(ctx, events.EventEscrowCreated, map[string]any{"escrow_id": escrow.ID.String()})

	return escrow, nil
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.escrowRepo.GetByID(ctx, id)
}

func (s *EscrowService) List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, int, error) {
	return s.escrowRepo.List(ctx, f)
}

func (s *EscrowService) Overview(ctx context.Context, userID uuid.UUID, f repositories.OverviewFilter) ([]models.EscrowOverviewRow, int, error) {
	return s.escrowRepo.Overview(ctx, userID, f)
}

func (s *EscrowService) GetEvents(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.EscrowEvent, error) {
	return s.eventRepo.ListByEscrow(ctx, escrowID, limit, offset)
}

// IsUserParty reports whether the user is the creator or an explicit
// party of the escrow.
func (s *EscrowService) IsUserParty(ctx context.Context, escrowID, userID uuid.UUID) (bool, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if errors.Is(err, escrowerr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if escrow.CreatorID == userID {
		return true, nil
	}
	for _, p := range escrow.Parties {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type UpdateEscrowInput struct {
	Title       *string
	Description *string
	ExpiresAt   *time.Time
}

func (s *EscrowService) Update(ctx context.Context, id uuid.UUID, input UpdateEscrowInput, userID uuid.UUID, ip *string) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if v := authz.Check(escrow, userID, authz.ActionUpdate); v != authz.Allow {
			return verdictError(v, escrow, "update")
		}

		if err := s.escrowRepo.UpdateDetails(ctx, tx, id, input.Title, input.Description, input.ExpiresAt); err != nil {
			return err
		}
		if input.Title != nil {
			escrow.Title = *input.Title
		}
		if input.Description != nil {
			escrow.Description = input.Description
		}
		if input.ExpiresAt != nil {
			escrow.ExpiresAt = input.ExpiresAt
		}

		changes := map[string]any{}
		if input.Title != nil {
			changes["title"] = *input.Title
		}
		if input.Description != nil {
			changes["description"] = *input.Description
		}
		if input.ExpiresAt != nil {
			changes["expires_at"] = input.ExpiresAt.Format(time.RFC3339)
		}
		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventUpdated,
			ActorID:   &userID,
			Data:      map[string]any{"changes": changes},
			IPAddress: ip,
		}); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fund activates a pending escrow once its deposit is in place. With
// LedgerVerifyFunding enabled the bridge's view is checked first.
func (s *EscrowService) Fund(ctx context.Context, id, userID uuid.UUID) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if v := authz.Check(escrow, userID, authz.ActionFund); v != authz.Allow {
			return verdictError(v, escrow, "fund")
		}

		if s.cfg.LedgerVerifyFunding {
			view, err := s.ledger.FetchState(ctx, escrow.ID)
			if err != nil {
				return fmt.Errorf("%w: funding verification: %v", escrowerr.ErrSettlementFailed, err)
			}
			if view.Status != models.EscrowStatusActive {
				return fmt.Errorf("%w: escrow is not funded on-chain", escrowerr.ErrInvalidState)
			}
		}

		if err := s.transitionTx(ctx, tx, escrow, models.EscrowStatusActive); err != nil {
			return err
		}
		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventFunded,
			ActorID:   &userID,
		}); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = s.dispatcher.Dispatch(ctx, events.EventEscrowFunded, map[string]any{"escrow_id": id.String()})
	return out, nil
}

func (s *EscrowService) Cancel(ctx context.Context, id uuid.UUID, reason string, userID uuid.UUID, ip *string) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// Terminal escrows reject with invalid state before any role check.
		if models.IsTerminalStatus(escrow.Status) {
			return fmt.Errorf("%w: cannot cancel an escrow that is already %s", escrowerr.ErrInvalidState, escrow.Status)
		}
		if v := authz.Check(escrow, userID, authz.ActionCancel); v != authz.Allow {
			return verdictError(v, escrow, "cancel")
		}

		previous := escrow.Status
		if err := s.transitionTx(ctx, tx, escrow, models.EscrowStatusCancelled); err != nil {
			return err
		}
		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventCancelled,
			ActorID:   &userID,
			Data:      map[string]any{"reason": reason, "previous_status": previous},
			IPAddress: ip,
		}); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = s.dispatcher.Dispatch(ctx, events.EventEscrowCancelled, map[string]any{"escrow_id": id.String()})
	return out, nil
}

func (s *EscrowService) Dispute(ctx context.Context, id uuid.UUID, reason string, userID uuid.UUID) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if v := authz.Check(escrow, userID, authz.ActionDispute); v != authz.Allow {
			return verdictError(v, escrow, "dispute")
		}

		if err := s.transitionTx(ctx, tx, escrow, models.EscrowStatusDisputed); err != nil {
			return err
		}
		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventDisputed,
			ActorID:   &userID,
			Data:      map[string]any{"reason": reason},
		}); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = s.dispatcher.Dispatch(ctx, events.EventEscrowDisputed, map[string]any{"escrow_id": id.String()})
	return out, nil
}

// Release settles and completes an escrow. Manual releases require the
// depositor; auto releases require every condition to be met. Calling
// Release on an already-completed escrow is a safe no-op returning the
// committed state, so callers may retry the whole call after a
// settlement failure without risking a double transfer.
func (s *EscrowService) Release(ctx context.Context, id, userID uuid.UUID, manual bool) (*models.Escrow, error) {
	var (
		out      *models.Escrow
		released bool
		txHash   string
	)
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// Idempotency guard: duplicate release requests and races resolve
		// to the already-committed record.
		if escrow.Status == models.EscrowStatusCompleted || escrow.IsReleased {
			out = escrow
			return nil
		}
		if escrow.Status != models.EscrowStatusActive {
			return fmt.Errorf("%w: release requires an active escrow, got %s", escrowerr.ErrInvalidState, escrow.Status)
		}
		if manual && escrow.CreatorID != userID {
			return fmt.Errorf("%w: only the depositor can release this escrow", escrowerr.ErrForbidden)
		}
		if !manual {
			for _, c := range escrow.Conditions {
				if !c.IsMet {
					return fmt.Errorf("%w: all conditions must be met for auto-release", escrowerr.ErrInvalidState)
				}
			}
		}

		h, err := s.settleAndComplete(ctx, tx, escrow, userID)
		if err != nil {
			return err
		}
		released = true
		txHash = h
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released {
		_ = s.dispatcher.Dispatch(ctx, events.EventEscrowReleased, map[string]any{
			"escrow_id": id.String(),
			"tx_hash":   txHash,
		})
	}
	return out, nil
}

// ConfirmCondition marks a condition met and, when it is the last unmet
// condition of an active escrow, auto-releases synchronously: the call's
// latency then includes the settlement call, and the caller observes the
// completed escrow on return. A settlement failure rolls the whole
// confirmation back, so retrying the confirm is safe.
func (s *EscrowService) ConfirmCondition(ctx context.Context, conditionID, userID uuid.UUID) (*models.Condition, error) {
	cond, err := s.conditionRepo.GetByID(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	if cond.IsMet {
		return cond, nil // idempotent: no re-release, no duplicate event
	}

	var (
		out      *models.Condition
		released bool
		txHash   string
	)
	err = s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, cond.EscrowID)
		if err != nil {
			return err
		}
		current, err := s.conditionRepo.GetTx(ctx, tx, conditionID)
		if err != nil {
			return err
		}
		if current.IsMet {
			out = current // a concurrent confirm won the lock
			return nil
		}

		now := time.Now()
		if err := s.conditionRepo.MarkMet(ctx, tx, conditionID, userID, now); err != nil {
			return err
		}
		current.IsMet = true
		current.MetAt = &now
		current.MetByUserID = &userID

		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventConditionMet,
			ActorID:   &userID,
			Data:      map[string]any{"condition_id": conditionID.String()},
		}); err != nil {
			return err
		}

		conditions, err := s.conditionRepo.ListByEscrow(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		allMet := true
		for _, c := range conditions {
			if c.ID == conditionID {
				continue // confirmed above, regardless of read-back
			}
			if !c.IsMet {
				allMet = false
				break
			}
		}

		if allMet && escrow.Status == models.EscrowStatusActive {
			h, err := s.settleAndComplete(ctx, tx, escrow, escrow.CreatorID)
			if err != nil {
				return err
			}
			released = true
			txHash = h
		}

		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released {
		_ = s.dispatcher.Dispatch(ctx, events.EventEscrowReleased, map[string]any{
			"escrow_id": cond.EscrowID.String(),
			"tx_hash":   txHash,
		})
	}
	return out, nil
}

// ResolveDispute closes a disputed escrow: release settles to the
// recipient, refund cancels. Arbitrator only.
func (s *EscrowService) ResolveDispute(ctx context.Context, id uuid.UUID, outcome string, userID uuid.UUID) (*models.Escrow, error) {
	if outcome != ResolveOutcomeRelease && outcome != ResolveOutcomeRefund {
		return nil, fmt.Errorf("%w: invalid resolution outcome %q", escrowerr.ErrInvalidState, outcome)
	}

	var (
		out      *models.Escrow
		released bool
		txHash   string
	)
	err := s.escrowRepo.InTx(ctx, func(tx pgx.Tx) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if escrow.Status == models.EscrowStatusCompleted || escrow.IsReleased {
			out = escrow
			return nil
		}
		if v := authz.Check(escrow, userID, authz.ActionResolve); v != authz.Allow {
			return verdictError(v, escrow, "resolve")
		}

		previous := escrow.Status
		if outcome == ResolveOutcomeRelease {
			h, err := s.settleAndComplete(ctx, tx, escrow, userID)
			if err != nil {
				return err
			}
			released = true
			txHash = h
		} else {
			if err := s.transitionTx(ctx, tx, escrow, models.EscrowStatusCancelled); err != nil {
				return err
			}
		}

		if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventDisputeResolved,
			ActorID:   &userID,
			Data:      map[string]any{"outcome": outcome, "previous_status": previous},
		}); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released {
		_ = s.dispatcher.Dispatch(ctx, events.EventEscrowReleased, map[string]any{
			"escrow_id": id.String(),
			"tx_hash":   txHash,
		})
	} else if out != nil && out.Status == models.EscrowStatusCancelled {
		_ = s.dispatcher.Dispatch(ctx, events.EventEscrowCancelled, map[string]any{"escrow_id": id.String()})
	}
	return out, nil
}

// NotifyExpirations emits a one-time expired event for escrows whose
// deadline has passed. Returns the number of escrows notified.
func (s *EscrowService) NotifyExpirations(ctx context.Context, now time.Time, limit int) (int, error) {
	expiring, err := s.escrowRepo.GetExpiring(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, escrow := range expiring {
		if err := s.eventRepo.Append(ctx, models.EscrowEvent{
			EscrowID:  escrow.ID,
			EventType: models.EventExpired,
			Data:      map[string]any{"expires_at": escrow.ExpiresAt.Format(time.RFC3339)},
		}); err != nil {
			s.log.Error("failed to append expired event", zap.String("escrow_id", escrow.ID.String()), zap.Error(err))
			continue
		}
		if err := s.escrowRepo.MarkExpirationNotified(ctx, escrow.ID); err != nil {
			s.log.Error("failed to mark expiration notified", zap.String("escrow_id", escrow.ID.String()), zap.Error(err))
			continue
		}
		_ = s.dispatcher.Dispatch(ctx, events.EventEscrowExpired, map[string]any{"escrow_id": escrow.ID.String()})
		notified++
	}
	return notified, nil
}

// settleAndComplete executes the external transfer, then commits the
// terminal state and its event. The caller's row lock stays held across
// the ledger call so no second release can enter mid-flight; a ledger
// error aborts before any local write.
func (s *EscrowService) settleAndComplete(ctx context.Context, tx pgx.Tx, escrow *models.Escrow, actorID uuid.UUID) (string, error) {
	if err := models.ValidateTransition(escrow.Status, models.EscrowStatusCompleted); err != nil {
		return "", err
	}

	txHash, err := s.ledger.Settle(ctx, escrow.ID, escrow.RecipientUserID())
	if err != nil {
		return "", fmt.Errorf("%w: %v", escrowerr.ErrSettlementFailed, err)
	}

	if err := s.escrowRepo.MarkReleased(ctx, tx, escrow.ID, txHash); err != nil {
		return "", err
	}
	escrow.Status = models.EscrowStatusCompleted
	escrow.IsReleased = true
	escrow.ReleaseTransactionHash = &txHash

	if err := s.eventRepo.AppendTx(ctx, tx, models.EscrowEvent{
		EscrowID:  escrow.ID,
		EventType: models.EventCompleted,
		ActorID:   &actorID,
		Data:      map[string]any{"tx_hash": txHash},
	}); err != nil {
		return "", err
	}
	return txHash, nil
}

// transitionTx validates and performs a status transition inside the tx.
func (s *EscrowService) transitionTx(ctx context.Context, tx pgx.Tx, escrow *models.Escrow, newStatus string) error {
	if err := models.ValidateTransition(escrow.Status, newStatus); err != nil {
		return err
	}
	if err := s.escrowRepo.UpdateStatus(ctx, tx, escrow.ID, newStatus); err != nil {
		return err
	}
	escrow.Status = newStatus
	return nil
}

func verdictError(v authz.Verdict, escrow *models.Escrow, action string) error {
	switch v {
	case authz.Forbidden:
		return fmt.Errorf("%w: user may not %s this escrow", escrowerr.ErrForbidden, action)
	case authz.InvalidState:
		return fmt.Errorf("%w: cannot %s while escrow is %s", escrowerr.ErrInvalidState, action, escrow.Status)
	}
	return nil
}
