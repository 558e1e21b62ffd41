package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConditionRepo struct {
	pool *pgxpool.Pool
}

func NewConditionRepo(pool *pgxpool.Pool) *ConditionRepo {
	return &ConditionRepo{pool: pool}
}

const conditionColumns = `id, escrow_id, description, type, is_met, met_at, met_by_user_id, created_at`

func scanCondition(row pgx.Row, c *models.Condition) error {
	return row.Scan(&c.ID, &c.EscrowID, &c.Description, &c.Type, &c.IsMet, &c.MetAt, &c.MetByUserID, &c.CreatedAt)
}

func (r *ConditionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Condition, error) {
	return r.get(ctx, r.pool, id)
}

// GetTx re-reads the condition inside the transaction holding the escrow
// row lock, so a concurrent confirm that won the lock is observed.
func (r *ConditionRepo) GetTx(ctx context.Context, q Querier, id uuid.UUID) (*models.Condition, error) {
	return r.get(ctx, q, id)
}

func (r *ConditionRepo) get(ctx context.Context, q Querier, id uuid.UUID) (*models.Condition, error) {
	var c models.Condition
	err := scanCondition(q.QueryRow(ctx, `
		SELECT `+conditionColumns+` FROM escrow_conditions WHERE id = $1
	`, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: condition %s", escrowerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkMet flips is_met once; the is_met = false guard keeps the flag
// monotonic even under concurrent confirms.
func (r *ConditionRepo) MarkMet(ctx context.Context, q Querier, id uuid.UUID, userID uuid.UUID, metAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE escrow_conditions
		SET is_met = true, met_at = $1, met_by_user_id = $2
		WHERE id = $3 AND is_met = false
	`, metAt, userID, id)
	return err
}

func (r *ConditionRepo) ListByEscrow(ctx context.Context, q Querier, escrowID uuid.UUID) ([]models.Condition, error) {
	rows, err := q.Query(ctx, `
		SELECT `+conditionColumns+` FROM escrow_conditions WHERE escrow_id = $1 ORDER BY created_at
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conditions []models.Condition
	for rows.Next() {
		var c models.Condition
		if err := scanCondition(rows, &c); err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}
