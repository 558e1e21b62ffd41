package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChecker(t *testing.T) (*ConsistencyChecker, *fakeDB, *fakeLedger) {
	t.Helper()
	db := newFakeDB()
	ledger := &fakeLedger{views: make(map[uuid.UUID]*stellar.ExternalEscrowView)}
	cfg := &config.Config{
		ConsistencyLookback:  24 * time.Hour,
		ConsistencyBatchSize: 50,
	}
	checker := NewConsistencyChecker(&fakeEscrowStore{db: db}, ledger, cfg, zap.NewNop())
	return checker, db, ledger
}

func viewFor(e *models.Escrow) *stellar.ExternalEscrowView {
	return &stellar.ExternalEscrowView{
		EscrowID:      e.ID.String(),
		Status:        e.Status,
		Amount:        e.Amount,
		Asset:         e.Asset,
		IsReleased:    e.IsReleased,
		ReleaseTxHash: e.ReleaseTransactionHash,
		ExpiresAt:     e.ExpiresAt,
	}
}

func TestCheck_Consistent(t *testing.T) {
	checker, db, ledger := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)
	ledger.views[escrow.ID] = viewFor(escrow)

	result, err := checker.Check(context.Background(), []uuid.UUID{escrow.ID})
	require.NoError(t, err)

	require.Len(t, result.Reports, 1)
	assert.True(t, result.Reports[0].IsConsistent)
	assert.Empty(t, result.Reports[0].FieldsMismatched)
	assert.Equal(t, 1, result.Summary.TotalChecked)
	assert.Equal(t, 0, result.Summary.TotalInconsistent)
}

func TestCheck_FieldMismatches(t *testing.T) {
	checker, db, ledger := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)

	view := viewFor(escrow)
	view.Status = models.EscrowStatusCompleted
	view.Amount = decimal.NewFromInt(999)
	view.IsReleased = true
	ledger.views[escrow.ID] = view

	result, err := checker.Check(context.Background(), []uuid.UUID{escrow.ID})
	require.NoError(t, err)

	require.Len(t, result.Reports, 1)
	report := result.Reports[0]
	assert.False(t, report.IsConsistent)
	require.Len(t, report.FieldsMismatched, 3)

	fields := make(map[string]FieldMismatch)
	for _, m := range report.FieldsMismatched {
		fields[m.FieldName] = m
	}
	assert.Equal(t, "active", fields["status"].DBValue)
	assert.Equal(t, "completed", fields["status"].OnChainValue)
	assert.Equal(t, "100", fields["amount"].DBValue)
	assert.Equal(t, "999", fields["amount"].OnChainValue)
	assert.Equal(t, "false", fields["isReleased"].DBValue)
	assert.Equal(t, "true", fields["isReleased"].OnChainValue)

	assert.Equal(t, 1, result.Summary.TotalInconsistent)
}

func TestCheck_MissingOnChain(t *testing.T) {
	checker, db, _ := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)

	result, err := checker.Check(context.Background(), []uuid.UUID{escrow.ID})
	require.NoError(t, err)

	require.Len(t, result.Reports, 1)
	assert.True(t, result.Reports[0].MissingOnChain)
	assert.False(t, result.Reports[0].IsConsistent)
	assert.Equal(t, 1, result.Summary.TotalMissingOnChain)
}

func TestCheck_MissingInDB(t *testing.T) {
	checker, _, ledger := newTestChecker(t)
	orphan := uuid.New()
	ledger.views[orphan] = &stellar.ExternalEscrowView{
		EscrowID: orphan.String(),
		Status:   models.EscrowStatusActive,
		Amount:   decimal.NewFromInt(10),
	}

	result, err := checker.Check(context.Background(), []uuid.UUID{orphan})
	require.NoError(t, err)

	require.Len(t, result.Reports, 1)
	assert.True(t, result.Reports[0].MissingInDB)
	assert.Equal(t, 1, result.Summary.TotalMissingInDB)
}

func TestCheck_ErroredContinuesSweep(t *testing.T) {
	checker, db, ledger := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)
	ledger.views[escrow.ID] = viewFor(escrow)
	ledger.fetchErr = errors.New("bridge unavailable")

	other := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)

	result, err := checker.Check(context.Background(), []uuid.UUID{escrow.ID, other.ID})
	require.NoError(t, err)

	// Every id still produces a report.
	require.Len(t, result.Reports, 2)
	assert.True(t, result.Reports[0].Errored)
	assert.True(t, result.Reports[1].Errored)
	assert.Equal(t, 2, result.Summary.TotalErrored)
	assert.Equal(t, 2, result.Summary.TotalChecked)
}

func TestCheck_SweepsRecentWhenNoIDsGiven(t *testing.T) {
	checker, db, ledger := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)
	ledger.views[escrow.ID] = viewFor(escrow)

	result, err := checker.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.TotalChecked)
}

func TestCheck_NeverMutates(t *testing.T) {
	checker, db, ledger := newTestChecker(t)
	escrow := db.addEscrow(models.EscrowStatusActive, uuid.New(), nil, 0)

	view := viewFor(escrow)
	view.Status = models.EscrowStatusCompleted
	view.IsReleased = true
	ledger.views[escrow.ID] = view

	_, err := checker.Check(context.Background(), []uuid.UUID{escrow.ID})
	require.NoError(t, err)

	// Divergence is reported, never repaired.
	stored := db.escrows[escrow.ID]
	assert.Equal(t, models.EscrowStatusActive, stored.Status)
	assert.False(t, stored.IsReleased)
}
