package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/StayLitCodes/Vaultix/internal/repositories"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDB backs the store fakes with in-memory state. InTx snapshots the
// state and restores it when fn fails, mirroring a rollback.
type fakeDB struct {
	escrows    map[uuid.UUID]*models.Escrow
	conditions map[uuid.UUID]*models.Condition
	condOrder  map[uuid.UUID][]uuid.UUID
	events     []models.EscrowEvent
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		escrows:    make(map[uuid.UUID]*models.Escrow),
		conditions: make(map[uuid.UUID]*models.Condition),
		condOrder:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (db *fakeDB) snapshot() *fakeDB {
	snap := newFakeDB()
	for id, e := range db.escrows {
		snap.escrows[id] = db.copyEscrow(e)
	}
	for id, c := range db.conditions {
		cc := *c
		snap.conditions[id] = &cc
	}
	for id, order := range db.condOrder {
		snap.condOrder[id] = append([]uuid.UUID(nil), order...)
	}
	snap.events = append([]models.EscrowEvent(nil), db.events...)
	return snap
}

func (db *fakeDB) restore(snap *fakeDB) {
	db.escrows = snap.escrows
	db.conditions = snap.conditions
	db.condOrder = snap.condOrder
	db.events = snap.events
}

func (db *fakeDB) copyEscrow(e *models.Escrow) *models.Escrow {
	cp := *e
	cp.Parties = append([]models.Party(nil), e.Parties...)
	cp.Conditions = nil
	for _, cid := range db.condOrder[e.ID] {
		cp.Conditions = append(cp.Conditions, *db.conditions[cid])
	}
	return &cp
}

func (db *fakeDB) addEscrow(status string, creator uuid.UUID, parties []models.Party, conditionCount int) *models.Escrow {
	e := &models.Escrow{
		ID:        uuid.New(),
		Title:     "escrow",
		Amount:    decimal.NewFromInt(100),
		Asset:     "XLM",
		Type:      models.EscrowTypeStandard,
		Status:    status,
		CreatorID: creator,
		Parties:   parties,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	db.escrows[e.ID] = e
	for i := 0; i < conditionCount; i++ {
		c := &models.Condition{
			ID:          uuid.New(),
			EscrowID:    e.ID,
			Description: fmt.Sprintf("condition %d", i+1),
			Type:        models.ConditionTypeManual,
			CreatedAt:   time.Now(),
		}
		db.conditions[c.ID] = c
		db.condOrder[e.ID] = append(db.condOrder[e.ID], c.ID)
	}
	return e
}

type fakeEscrowStore struct{ db *fakeDB }

func (s *fakeEscrowStore) Create(ctx context.Context, e *models.Escrow, parties []models.Party, conditions []models.Condition) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	for i := range parties {
		parties[i].ID = uuid.New()
		parties[i].EscrowID = e.ID
	}
	e.Parties = parties
	for i := range conditions {
		conditions[i].ID = uuid.New()
		conditions[i].EscrowID = e.ID
		c := conditions[i]
		s.db.conditions[c.ID] = &c
		s.db.condOrder[e.ID] = append(s.db.condOrder[e.ID], c.ID)
	}
	e.Conditions = conditions
	stored := *e
	stored.Conditions = nil
	s.db.escrows[e.ID] = &stored
	return nil
}

func (s *fakeEscrowStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e, ok := s.db.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	return s.db.copyEscrow(e), nil
}

func (s *fakeEscrowStore) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	snap := s.db.snapshot()
	if err := fn(nil); err != nil {
		s.db.restore(snap)
		return err
	}
	return nil
}

func (s *fakeEscrowStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error) {
	return s.GetByID(ctx, id)
}

func (s *fakeEscrowStore) UpdateStatus(ctx context.Context, q repositories.Querier, id uuid.UUID, status string) error {
	e, ok := s.db.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	return nil
}

func (s *fakeEscrowStore) UpdateDetails(ctx context.Context, q repositories.Querier, id uuid.UUID, title, description *string, expiresAt *time.Time) error {
	e, ok := s.db.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	if title != nil {
		e.Title = *title
	}
	if description != nil {
		e.Description = description
	}
	if expiresAt != nil {
		e.ExpiresAt = expiresAt
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (s *fakeEscrowStore) MarkReleased(ctx context.Context, q repositories.Querier, id uuid.UUID, txHash string) error {
	e, ok := s.db.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	if e.IsReleased {
		return nil
	}
	e.Status = models.EscrowStatusCompleted
	e.IsReleased = true
	e.ReleaseTransactionHash = &txHash
	e.UpdatedAt = time.Now()
	return nil
}

func (s *fakeEscrowStore) List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, int, error) {
	var out []models.Escrow
	for _, e := range s.db.escrows {
		if e.CreatorID == f.UserID {
			out = append(out, *s.db.copyEscrow(e))
		}
	}
	return out, len(out), nil
}

func (s *fakeEscrowStore) Overview(ctx context.Context, userID uuid.UUID, f repositories.OverviewFilter) ([]models.EscrowOverviewRow, int, error) {
	return nil, 0, nil
}

func (s *fakeEscrowStore) GetExpiring(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	var out []models.Escrow
	for _, e := range s.db.escrows {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) && e.ExpirationNotifiedAt == nil &&
			(e.Status == models.EscrowStatusPending || e.Status == models.EscrowStatusActive) {
			out = append(out, *s.db.copyEscrow(e))
		}
	}
	return out, nil
}

func (s *fakeEscrowStore) MarkExpirationNotified(ctx context.Context, id uuid.UUID) error {
	if e, ok := s.db.escrows[id]; ok && e.ExpirationNotifiedAt == nil {
		now := time.Now()
		e.ExpirationNotifiedAt = &now
	}
	return nil
}

func (s *fakeEscrowStore) RecentlyUpdatedIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range s.db.escrows {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeConditionStore struct{ db *fakeDB }

func (s *fakeConditionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Condition, error) {
	c, ok := s.db.conditions[id]
	if !ok {
		return nil, fmt.Errorf("%w: condition %s", escrowerr.ErrNotFound, id)
	}
	cc := *c
	return &cc, nil
}

func (s *fakeConditionStore) GetTx(ctx context.Context, q repositories.Querier, id uuid.UUID) (*models.Condition, error) {
	return s.GetByID(ctx, id)
}

func (s *fakeConditionStore) MarkMet(ctx context.Context, q repositories.Querier, id, userID uuid.UUID, metAt time.Time) error {
	c, ok := s.db.conditions[id]
	if !ok {
		return fmt.Errorf("%w: condition %s", escrowerr.ErrNotFound, id)
	}
	if c.IsMet {
		return nil
	}
	c.IsMet = true
	c.MetAt = &metAt
	c.MetByUserID = &userID
	return nil
}

func (s *fakeConditionStore) ListByEscrow(ctx context.Context, q repositories.Querier, escrowID uuid.UUID) ([]models.Condition, error) {
	var out []models.Condition
	for _, cid := range s.db.condOrder[escrowID] {
		out = append(out, *s.db.conditions[cid])
	}
	return out, nil
}

type fakeEventStore struct{ db *fakeDB }

func (s *fakeEventStore) Append(ctx context.Context, e models.EscrowEvent) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	s.db.events = append(s.db.events, e)
	return nil
}

func (s *fakeEventStore) AppendTx(ctx context.Context, q repositories.Querier, e models.EscrowEvent) error {
	return s.Append(ctx, e)
}

func (s *fakeEventStore) ListByEscrow(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.EscrowEvent, error) {
	var out []models.EscrowEvent
	for i := len(s.db.events) - 1; i >= 0; i-- {
		if s.db.events[i].EscrowID == escrowID {
			out = append(out, s.db.events[i])
		}
	}
	return out, nil
}

func (db *fakeDB) eventTypes(escrowID uuid.UUID) []string {
	var out []string
	for _, e := range db.events {
		if e.EscrowID == escrowID {
			out = append(out, e.EventType)
		}
	}
	return out
}

type fakeLedger struct {
	txHash      string
	settleErr   error
	settleCalls int
	views       map[uuid.UUID]*stellar.ExternalEscrowView
	fetchErr    error
}

func (l *fakeLedger) Settle(ctx context.Context, escrowID, beneficiary uuid.UUID) (string, error) {
	l.settleCalls++
	if l.settleErr != nil {
		return "", l.settleErr
	}
	return l.txHash, nil
}

func (l *fakeLedger) FetchState(ctx context.Context, escrowID uuid.UUID) (*stellar.ExternalEscrowView, error) {
	if l.fetchErr != nil {
		return nil, l.fetchErr
	}
	view, ok := l.views[escrowID]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s on chain", escrowerr.ErrNotFound, escrowID)
	}
	return view, nil
}

type fakeDispatcher struct {
	dispatched []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, name string, payload map[string]any) error {
	d.dispatched = append(d.dispatched, name)
	return nil
}

func newTestService(t *testing.T) (*EscrowService, *fakeDB, *fakeLedger, *fakeDispatcher) {
	t.Helper()
	db := newFakeDB()
	ledger := &fakeLedger{txHash: "tx-hash-1"}
	dispatcher := &fakeDispatcher{}
	cfg := &config.Config{DefaultAsset: "XLM"}
	svc := NewEscrowService(
		&fakeEscrowStore{db: db},
		&fakeConditionStore{db: db},
		&fakeEventStore{db: db},
		ledger,
		dispatcher,
		cfg,
		zap.NewNop(),
	)
	return svc, db, ledger, dispatcher
}

func recipientParty(userID uuid.UUID) models.Party {
	return models.Party{ID: uuid.New(), UserID: userID, Role: models.PartyRoleRecipient}
}

func arbitratorParty(userID uuid.UUID) models.Party {
	return models.Party{ID: uuid.New(), UserID: userID, Role: models.PartyRoleArbitrator}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()

	_, err := svc.Create(ctx, CreateEscrowInput{Amount: decimal.NewFromInt(10)}, creator, nil)
	require.Error(t, err, "empty title")

	_, err = svc.Create(ctx, CreateEscrowInput{Title: "x", Amount: decimal.NewFromInt(-1)}, creator, nil)
	require.Error(t, err, "negative amount")

	_, err = svc.Create(ctx, CreateEscrowInput{
		Title:   "x",
		Amount:  decimal.NewFromInt(10),
		Parties: []PartyInput{{UserID: uuid.New(), Role: "owner"}},
	}, creator, nil)
	require.Error(t, err, "invalid role")
}

func TestCreate_Defaults(t *testing.T) {
	svc, db, _, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()

	escrow, err := svc.Create(ctx, CreateEscrowInput{
		Title:      "milestone payout",
		Amount:     decimal.NewFromInt(250),
		Conditions: []ConditionInput{{Description: "work delivered"}},
	}, creator, nil)
	require.NoError(t, err)

	assert.Equal(t, models.EscrowStatusPending, escrow.Status)
	assert.Equal(t, "XLM", escrow.Asset)
	assert.Equal(t, models.EscrowTypeStandard, escrow.Type)
	require.Len(t, escrow.Conditions, 1)
	assert.Equal(t, models.ConditionTypeManual, escrow.Conditions[0].Type)

	assert.Equal(t, []string{models.EventCreated}, db.eventTypes(escrow.ID))
	assert.Contains(t, dispatcher.dispatched, "escrow.created")
}

func TestFund(t *testing.T) {
	svc, db, _, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusPending, creator, nil, 0)

	funded, err := svc.Fund(ctx, escrow.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusActive, funded.Status)
	assert.Equal(t, models.EscrowStatusActive, db.escrows[escrow.ID].Status)
	assert.Contains(t, dispatcher.dispatched, "escrow.funded")

	// Funding an active escrow is invalid, not forbidden.
	_, err = svc.Fund(ctx, escrow.ID, creator)
	require.ErrorIs(t, err, escrowerr.ErrInvalidState)
}

func TestFund_ByNonDepositor(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()
	recipient := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusPending, uuid.New(), []models.Party{recipientParty(recipient)}, 0)

	_, err := svc.Fund(ctx, escrow.ID, recipient)
	require.ErrorIs(t, err, escrowerr.ErrForbidden)
}

func TestRelease_Manual(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	recipient := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, []models.Party{recipientParty(recipient)}, 0)

	released, err := svc.Release(ctx, escrow.ID, creator, true)
	require.NoError(t, err)

	assert.Equal(t, models.EscrowStatusCompleted, released.Status)
	assert.True(t, released.IsReleased)
	require.NotNil(t, released.ReleaseTransactionHash)
	assert.Equal(t, "tx-hash-1", *released.ReleaseTransactionHash)
	assert.Equal(t, 1, ledger.settleCalls)
	assert.Equal(t, []string{models.EventCompleted}, db.eventTypes(escrow.ID))
	assert.Contains(t, dispatcher.dispatched, "escrow.released")
}

func TestRelease_Idempotent(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 0)

	_, err := svc.Release(ctx, escrow.ID, creator, true)
	require.NoError(t, err)

	// Second release is a no-op returning the committed record.
	again, err := svc.Release(ctx, escrow.ID, creator, true)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCompleted, again.Status)
	assert.Equal(t, 1, ledger.settleCalls, "settle must run exactly once")
	assert.Len(t, db.eventTypes(escrow.ID), 1)
}

func TestRelease_ManualByNonDepositor(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	recipient := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), []models.Party{recipientParty(recipient)}, 0)

	_, err := svc.Release(ctx, escrow.ID, recipient, true)
	require.ErrorIs(t, err, escrowerr.ErrForbidden)
	assert.Equal(t, 0, ledger.settleCalls)
}

func TestRelease_RequiresActive(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusPending, creator, nil, 0)

	_, err := svc.Release(ctx, escrow.ID, creator, true)
	require.ErrorIs(t, err, escrowerr.ErrInvalidState)
}

func TestRelease_AutoRequiresAllConditionsMet(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 2)

	_, err := svc.Release(ctx, escrow.ID, creator, false)
	require.ErrorIs(t, err, escrowerr.ErrInvalidState)
	assert.Equal(t, 0, ledger.settleCalls)
}

func TestRelease_SettlementFailure(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 0)

	ledger.settleErr = errors.New("bridge timeout")
	_, err := svc.Release(ctx, escrow.ID, creator, true)
	require.ErrorIs(t, err, escrowerr.ErrSettlementFailed)

	// Local state is untouched, so the whole call can be retried.
	stored := db.escrows[escrow.ID]
	assert.Equal(t, models.EscrowStatusActive, stored.Status)
	assert.False(t, stored.IsReleased)
	assert.Empty(t, db.eventTypes(escrow.ID))
	assert.Empty(t, dispatcher.dispatched)

	ledger.settleErr = nil
	released, err := svc.Release(ctx, escrow.ID, creator, true)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCompleted, released.Status)
	assert.Equal(t, 2, ledger.settleCalls)
}

func TestConfirmCondition_NotLastCondition(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 2)
	condID := db.condOrder[escrow.ID][0]

	cond, err := svc.ConfirmCondition(ctx, condID, creator)
	require.NoError(t, err)
	assert.True(t, cond.IsMet)
	require.NotNil(t, cond.MetAt)

	// One unmet condition remains, no release.
	assert.Equal(t, models.EscrowStatusActive, db.escrows[escrow.ID].Status)
	assert.Equal(t, 0, ledger.settleCalls)
	assert.Equal(t, []string{models.EventConditionMet}, db.eventTypes(escrow.ID))
}

func TestConfirmCondition_LastConditionAutoReleases(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	recipient := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, []models.Party{recipientParty(recipient)}, 2)

	_, err := svc.ConfirmCondition(ctx, db.condOrder[escrow.ID][0], recipient)
	require.NoError(t, err)
	_, err = svc.ConfirmCondition(ctx, db.condOrder[escrow.ID][1], recipient)
	require.NoError(t, err)

	stored := db.escrows[escrow.ID]
	assert.Equal(t, models.EscrowStatusCompleted, stored.Status)
	assert.True(t, stored.IsReleased)
	assert.Equal(t, 1, ledger.settleCalls)
	assert.Equal(t, []string{models.EventConditionMet, models.EventConditionMet, models.EventCompleted}, db.eventTypes(escrow.ID))
	assert.Contains(t, dispatcher.dispatched, "escrow.released")
}

func TestConfirmCondition_Idempotent(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 1)
	condID := db.condOrder[escrow.ID][0]

	_, err := svc.ConfirmCondition(ctx, condID, creator)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.settleCalls)

	// Confirming an already-met condition changes nothing.
	cond, err := svc.ConfirmCondition(ctx, condID, creator)
	require.NoError(t, err)
	assert.True(t, cond.IsMet)
	assert.Equal(t, 1, ledger.settleCalls)
	assert.Equal(t, []string{models.EventConditionMet, models.EventCompleted}, db.eventTypes(escrow.ID))
}

func TestConfirmCondition_SettlementFailureRollsBackConfirmation(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 1)
	condID := db.condOrder[escrow.ID][0]

	ledger.settleErr = errors.New("bridge down")
	_, err := svc.ConfirmCondition(ctx, condID, creator)
	require.ErrorIs(t, err, escrowerr.ErrSettlementFailed)

	// The confirmation itself rolled back with the release.
	assert.False(t, db.conditions[condID].IsMet)
	assert.Equal(t, models.EscrowStatusActive, db.escrows[escrow.ID].Status)
	assert.Empty(t, db.eventTypes(escrow.ID))

	ledger.settleErr = nil
	cond, err := svc.ConfirmCondition(ctx, condID, creator)
	require.NoError(t, err)
	assert.True(t, cond.IsMet)
	assert.Equal(t, models.EscrowStatusCompleted, db.escrows[escrow.ID].Status)
}

func TestConfirmCondition_PendingEscrowDoesNotRelease(t *testing.T) {
	svc, db, ledger, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusPending, creator, nil, 1)
	condID := db.condOrder[escrow.ID][0]

	cond, err := svc.ConfirmCondition(ctx, condID, creator)
	require.NoError(t, err)
	assert.True(t, cond.IsMet)
	assert.Equal(t, models.EscrowStatusPending, db.escrows[escrow.ID].Status)
	assert.Equal(t, 0, ledger.settleCalls)
}

func TestCancel(t *testing.T) {
	svc, db, _, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 0)

	cancelled, err := svc.Cancel(ctx, escrow.ID, "deal fell through", creator, nil)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCancelled, cancelled.Status)
	assert.Contains(t, dispatcher.dispatched, "escrow.cancelled")

	// Terminal escrows reject with invalid state, even for the creator.
	_, err = svc.Cancel(ctx, escrow.ID, "again", creator, nil)
	require.ErrorIs(t, err, escrowerr.ErrInvalidState)
}

func TestCancel_ByStranger(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)

	_, err := svc.Cancel(ctx, escrow.ID, "", uuid.New(), nil)
	require.ErrorIs(t, err, escrowerr.ErrForbidden)
}

func TestDisputeAndResolve_Release(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	recipient := uuid.New()
	arbitrator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusActive, creator,
		[]models.Party{recipientParty(recipient), arbitratorParty(arbitrator)}, 0)

	disputed, err := svc.Dispute(ctx, escrow.ID, "work not delivered", recipient)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusDisputed, disputed.Status)
	assert.Contains(t, dispatcher.dispatched, "escrow.disputed")

	// Only the arbitrator can resolve.
	_, err = svc.ResolveDispute(ctx, escrow.ID, ResolveOutcomeRelease, creator)
	require.ErrorIs(t, err, escrowerr.ErrForbidden)

	resolved, err := svc.ResolveDispute(ctx, escrow.ID, ResolveOutcomeRelease, arbitrator)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCompleted, resolved.Status)
	assert.True(t, resolved.IsReleased)
	assert.Equal(t, 1, ledger.settleCalls)
	assert.Equal(t, []string{models.EventDisputed, models.EventCompleted, models.EventDisputeResolved}, db.eventTypes(escrow.ID))
	assert.Contains(t, dispatcher.dispatched, "escrow.released")
}

func TestResolveDispute_Refund(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	arbitrator := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusDisputed, uuid.New(), []models.Party{arbitratorParty(arbitrator)}, 0)

	resolved, err := svc.ResolveDispute(ctx, escrow.ID, ResolveOutcomeRefund, arbitrator)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCancelled, resolved.Status)
	assert.Equal(t, 0, ledger.settleCalls)
	assert.Contains(t, dispatcher.dispatched, "escrow.cancelled")

	_, err = svc.ResolveDispute(ctx, escrow.ID, "split", arbitrator)
	require.Error(t, err, "unknown outcome")
}

func TestEscrowLifecycle_TwoConditions(t *testing.T) {
	svc, db, ledger, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	recipient := uuid.New()

	escrow, err := svc.Create(ctx, CreateEscrowInput{
		Title:  "website build",
		Amount: decimal.NewFromInt(500),
		Parties: []PartyInput{
			{UserID: recipient, Role: models.PartyRoleRecipient},
		},
		Conditions: []ConditionInput{
			{Description: "design approved"},
			{Description: "site deployed"},
		},
	}, creator, nil)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusPending, escrow.Status)

	_, err = svc.Fund(ctx, escrow.ID, creator)
	require.NoError(t, err)

	_, err = svc.ConfirmCondition(ctx, escrow.Conditions[0].ID, recipient)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusActive, db.escrows[escrow.ID].Status)

	_, err = svc.ConfirmCondition(ctx, escrow.Conditions[1].ID, recipient)
	require.NoError(t, err)

	final := db.escrows[escrow.ID]
	assert.Equal(t, models.EscrowStatusCompleted, final.Status)
	assert.True(t, final.IsReleased)
	require.NotNil(t, final.ReleaseTransactionHash)
	assert.Equal(t, 1, ledger.settleCalls)
	assert.Equal(t, []string{
		models.EventCreated, models.EventFunded,
		models.EventConditionMet, models.EventConditionMet, models.EventCompleted,
	}, db.eventTypes(escrow.ID))
	assert.Equal(t, []string{"escrow.created", "escrow.funded", "escrow.released"}, dispatcher.dispatched)
}

func TestNotifyExpirations(t *testing.T) {
	svc, db, _, dispatcher := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()

	escrow := db.addEscrow(models.EscrowStatusActive, creator, nil, 0)
	past := time.Now().Add(-time.Hour)
	db.escrows[escrow.ID].ExpiresAt = &past

	fresh := db.addEscrow(models.EscrowStatusActive, creator, nil, 0)
	future := time.Now().Add(time.Hour)
	db.escrows[fresh.ID].ExpiresAt = &future

	notified, err := svc.NotifyExpirations(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	assert.NotNil(t, db.escrows[escrow.ID].ExpirationNotifiedAt)
	assert.Nil(t, db.escrows[fresh.ID].ExpirationNotifiedAt)
	assert.Equal(t, []string{models.EventExpired}, db.eventTypes(escrow.ID))
	assert.Contains(t, dispatcher.dispatched, "escrow.expired")

	// The notification is one-time.
	notified, err = svc.NotifyExpirations(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
}

func TestIsUserParty(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()
	creator := uuid.New()
	recipient := uuid.New()
	escrow := db.addEscrow(models.EscrowStatusPending, creator, []models.Party{recipientParty(recipient)}, 0)

	for _, id := range []uuid.UUID{creator, recipient} {
		ok, err := svc.IsUserParty(ctx, escrow.ID, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := svc.IsUserParty(ctx, escrow.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown escrow is not an error here.
	ok, err = svc.IsUserParty(ctx, uuid.New(), creator)
	require.NoError(t, err)
	assert.False(t, ok)
}
