package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type checkerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	RecentlyUpdatedIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// FieldMismatch describes a single field that differs between the
// database record and the ledger's view.
type FieldMismatch struct {
	FieldName    string `json:"fieldName"`
	DBValue      string `json:"dbValue"`
	OnChainValue string `json:"onChainValue"`
}

type ConsistencyReport struct {
	EscrowID         uuid.UUID       `json:"escrowId"`
	IsConsistent     bool            `json:"isConsistent"`
	MissingInDB      bool            `json:"missingInDb"`
	MissingOnChain   bool            `json:"missingOnChain"`
	Errored          bool            `json:"errored"`
	Error            string          `json:"error,omitempty"`
	FieldsMismatched []FieldMismatch `json:"fieldsMismatched,omitempty"`
}

type ConsistencySummary struct {
	TotalChecked        int `json:"totalChecked"`
	TotalInconsistent   int `json:"totalInconsistent"`
	TotalMissingInDB    int `json:"totalMissingInDb"`
	TotalMissingOnChain int `json:"totalMissingOnChain"`
	TotalErrored        int `json:"totalErrored"`
}

type ConsistencyResult struct {
	CheckedAt time.Time           `json:"checkedAt"`
	Reports   []ConsistencyReport `json:"reports"`
	Summary   ConsistencySummary  `json:"summary"`
}

// ConsistencyChecker compares escrow records against the ledger's view.
// It is strictly read-only: divergence is reported, never repaired.
type ConsistencyChecker struct {
	store  checkerStore
	ledger Ledger
	cfg    *config.Config
	log    *zap.Logger
}

func NewConsistencyChecker(store checkerStore, ledger Ledger, cfg *config.Config, log *zap.Logger) *ConsistencyChecker {
	return &ConsistencyChecker{store: store, ledger: ledger, cfg: cfg, log: log}
}

// Check compares the given escrows against the ledger. With no explicit
// ids it sweeps escrows updated within the configured lookback window.
// Every id produces a report; per-escrow failures are recorded and the
// sweep continues.
func (c *ConsistencyChecker) Check(ctx context.Context, ids []uuid.UUID) (*ConsistencyResult, error) {
	if len(ids) == 0 {
		since := time.Now().Add(-c.cfg.ConsistencyLookback)
		var err error
		ids, err = c.store.RecentlyUpdatedIDs(ctx, since, c.cfg.ConsistencyBatchSize)
		if err != nil {
			return nil, err
		}
	}

	result := &ConsistencyResult{
		CheckedAt: time.Now(),
		Reports:   make([]ConsistencyReport, 0, len(ids)),
	}

	for _, id := range ids {
		report := c.checkOne(ctx, id)
		result.Reports = append(result.Reports, report)

		result.Summary.TotalChecked++
		switch {
		case report.Errored:
			result.Summary.TotalErrored++
		case report.MissingInDB:
			result.Summary.TotalMissingInDB++
		case report.MissingOnChain:
			result.Summary.TotalMissingOnChain++
		case !report.IsConsistent:
			result.Summary.TotalInconsistent++
		}
	}

	if result.Summary.TotalInconsistent > 0 || result.Summary.TotalMissingInDB > 0 || result.Summary.TotalMissingOnChain > 0 {
		c.log.Warn("consistency check found divergence",
			zap.Int("checked", result.Summary.TotalChecked),
			zap.Int("inconsistent", result.Summary.TotalInconsistent),
			zap.Int("missing_in_db", result.Summary.TotalMissingInDB),
			zap.Int("missing_on_chain", result.Summary.TotalMissingOnChain),
		)
	}
	return result, nil
}

func (c *ConsistencyChecker) checkOne(ctx context.Context, id uuid.UUID) ConsistencyReport {
	report := ConsistencyReport{EscrowID: id}

	escrow, dbErr := c.store.GetByID(ctx, id)
	if dbErr != nil && !errors.Is(dbErr, escrowerr.ErrNotFound) {
		report.Errored = true
		report.Error = dbErr.Error()
		return report
	}

	view, chainErr := c.ledger.FetchState(ctx, id)
	if chainErr != nil && !errors.Is(chainErr, escrowerr.ErrNotFound) {
		report.Errored = true
		report.Error = chainErr.Error()
		return report
	}

	missingInDB := errors.Is(dbErr, escrowerr.ErrNotFound)
	missingOnChain := errors.Is(chainErr, escrowerr.ErrNotFound)

	switch {
	case missingInDB && missingOnChain:
		// Nothing on either side; unknown id, not divergence.
		report.IsConsistent = true
		return report
	case missingInDB:
		report.MissingInDB = true
		return report
	case missingOnChain:
		report.MissingOnChain = true
		return report
	}

	report.FieldsMismatched = compareEscrow(escrow, view)
	report.IsConsistent = len(report.FieldsMismatched) == 0
	return report
}

func compareEscrow(escrow *models.Escrow, view *stellar.ExternalEscrowView) []FieldMismatch {
	var mismatches []FieldMismatch

	if escrow.Status != view.Status {
		mismatches = append(mismatches, FieldMismatch{"status", escrow.Status, view.Status})
	}
	if !escrow.Amount.Equal(view.Amount) {
		mismatches = append(mismatches, FieldMismatch{"amount", escrow.Amount.String(), view.Amount.String()})
	}
	if view.Asset != "" && escrow.Asset != view.Asset {
		mismatches = append(mismatches, FieldMismatch{"asset", escrow.Asset, view.Asset})
	}
	if escrow.IsReleased != view.IsReleased {
		mismatches = append(mismatches, FieldMismatch{"isReleased", fmt.Sprintf("%t", escrow.IsReleased), fmt.Sprintf("%t", view.IsReleased)})
	}
	if hash := strPtrValue(escrow.ReleaseTransactionHash); hash != strPtrValue(view.ReleaseTxHash) {
		mismatches = append(mismatches, FieldMismatch{"releaseTxHash", hash, strPtrValue(view.ReleaseTxHash)})
	}
	if !timePtrEqual(escrow.ExpiresAt, view.ExpiresAt) {
		mismatches = append(mismatches, FieldMismatch{"expiresAt", timePtrValue(escrow.ExpiresAt), timePtrValue(view.ExpiresAt)})
	}
	return mismatches
}

func strPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}

func timePtrValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
