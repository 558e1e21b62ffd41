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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var decimalZero = decimal.NewFromInt(0)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so queries can
// run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, title, description, amount, asset, type, status, creator_id,
	       is_released, release_transaction_hash, expires_at, expiration_notified_at,
	       created_at, updated_at`

func scanEscrow(row pgx.Row, e *models.Escrow) error {
	return row.Scan(&e.ID, &e.Title, &e.Description, &e.Amount, &e.Asset, &e.Type, &e.Status, &e.CreatorID,
		&e.IsReleased, &e.ReleaseTransactionHash, &e.ExpiresAt, &e.ExpirationNotifiedAt,
		&e.CreatedAt, &e.UpdatedAt)
}

// Create persists the escrow together with its parties and conditions in
// a single transaction.
func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow, parties []models.Party, conditions []models.Condition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO escrows (title, description, amount, asset, type, status, creator_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, e.Title, e.Description, e.Amount, e.Asset, e.Type, e.Status, e.CreatorID, e.ExpiresAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range parties {
		parties[i].EscrowID = e.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO escrow_parties (escrow_id, user_id, role)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, e.ID, parties[i].UserID, parties[i].Role).Scan(&parties[i].ID, &parties[i].CreatedAt)
		if err != nil {
			return err
		}
	}

	for i := range conditions {
		conditions[i].EscrowID = e.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO escrow_conditions (escrow_id, description, type)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, e.ID, conditions[i].Description, conditions[i].Type).Scan(&conditions[i].ID, &conditions[i].CreatedAt)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	e.Parties = parties
	e.Conditions = conditions
	return nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back
// on error. Mutating escrow operations go through here so the row lock
// taken by GetForUpdate serializes them per escrow.
func (r *EscrowRepo) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetForUpdate loads the escrow with its relations, taking a row-level
// lock that is held until the surrounding transaction ends.
func (r *EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := scanEscrow(tx.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows WHERE id = $1
		FOR UPDATE
	`, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, tx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := scanEscrow(r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE id = $1
	`, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: escrow %s", escrowerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, r.pool, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) loadRelations(ctx context.Context, q Querier, e *models.Escrow) error {
	rows, err := q.Query(ctx, `
		SELECT id, escrow_id, user_id, role, created_at
		FROM escrow_parties WHERE escrow_id = $1 ORDER BY created_at
	`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Party
		if err := rows.Scan(&p.ID, &p.EscrowID, &p.UserID, &p.Role, &p.CreatedAt); err != nil {
			return err
		}
		e.Parties = append(e.Parties, p)
	}
	rows.Close()

	condRows, err := q.Query(ctx, `
		SELECT id, escrow_id, description, type, is_met, met_at, met_by_user_id, created_at
		FROM escrow_conditions WHERE escrow_id = $1 ORDER BY created_at
	`, e.ID)
	if err != nil {
		return err
	}
	defer condRows.Close()
	for condRows.Next() {
		var c models.Condition
		if err := condRows.Scan(&c.ID, &c.EscrowID, &c.Description, &c.Type, &c.IsMet, &c.MetAt, &c.MetByUserID, &c.CreatedAt); err != nil {
			return err
		}
		e.Conditions = append(e.Conditions, c)
	}
	return condRows.Err()
}

func (r *EscrowRepo) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, status string) error {
	_, err := q.Exec(ctx, `UPDATE escrows SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

func (r *EscrowRepo) UpdateDetails(ctx context.Context, q Querier, id uuid.UUID, title *string, description *string, expiresAt *time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE escrows SET
			title = COALESCE($1, title),
			description = COALESCE($2, description),
			expires_at = COALESCE($3, expires_at),
			updated_at = now()
		WHERE id = $4
	`, title, description, expiresAt, id)
	return err
}

// MarkReleased commits the terminal release state. release_transaction_hash
// is set exactly once, together with is_released.
func (r *EscrowRepo) MarkReleased(ctx context.Context, q Querier, id uuid.UUID, txHash string) error {
	_, err := q.Exec(ctx, `
		UPDATE escrows SET status = $1, is_released = true, release_transaction_hash = $2, updated_at = now()
		WHERE id = $3 AND is_released = false
	`, models.EscrowStatusCompleted, txHash, id)
	return err
}

type EscrowFilter struct {
	UserID uuid.UUID // required: creator or party
	Status *string
	Type   *string
	Role   *string
	Search *string
	SortBy string // created_at / expires_at
	Asc    bool
	Limit  int
	Offset int
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, int, error) {
	base := `
		FROM escrows e
		WHERE (e.creator_id = $1 OR EXISTS (
			SELECT 1 FROM escrow_parties p WHERE p.escrow_id = e.id AND p.user_id = $1
	`
	args := []any{f.UserID}
	argIdx := 2

	if f.Role != nil {
		base += fmt.Sprintf(" AND p.role = $%d", argIdx)
		args = append(args, *f.Role)
		argIdx++
	}
	base += "))"

	if f.Status != nil {
		base += fmt.Sprintf(" AND e.status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Type != nil {
		base += fmt.Sprintf(" AND e.type = $%d", argIdx)
		args = append(args, *f.Type)
		argIdx++
	}
	if f.Search != nil {
		base += fmt.Sprintf(" AND (e.title ILIKE $%d OR e.description ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+*f.Search+"%")
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol := "e.created_at"
	if f.SortBy == "expires_at" {
		sortCol = "e.expires_at"
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT e.id, e.title, e.description, e.amount, e.asset, e.type, e.status, e.creator_id,
		e.is_released, e.release_transaction_hash, e.expires_at, e.expiration_notified_at, e.created_at, e.updated_at %s
		ORDER BY %s %s LIMIT $%d OFFSET $%d`, base, sortCol, dir, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := scanEscrow(rows, &e); err != nil {
			return nil, 0, err
		}
		escrows = append(escrows, e)
	}
	return escrows, total, rows.Err()
}

type OverviewFilter struct {
	Role     string // depositor / recipient / any
	Status   *string
	Token    *string
	From     *time.Time
	To       *time.Time
	SortBy   string // created_at / deadline
	Asc      bool
	Page     int
	PageSize int
}

// Overview returns the reporting projection for a user: total/released/
// remaining amounts with the recipient resolved from the party list.
func (r *EscrowRepo) Overview(ctx context.Context, userID uuid.UUID, f OverviewFilter) ([]models.EscrowOverviewRow, int, error) {
	base := `
		FROM escrows e
	`
	args := []any{userID, models.PartyRoleRecipient}
	argIdx := 3

	recipientExists := `EXISTS (
		SELECT 1 FROM escrow_parties pf
		WHERE pf.escrow_id = e.id AND pf.user_id = $1 AND pf.role = $2
	)`

	switch f.Role {
	case models.PartyRoleDepositor:
		base += " WHERE e.creator_id = $1"
	case models.PartyRoleRecipient:
		base += " WHERE " + recipientExists
	default:
		base += " WHERE (e.creator_id = $1 OR " + recipientExists + ")"
	}

	if f.Status != nil {
		if *f.Status == "expired" {
			base += fmt.Sprintf(" AND e.expires_at IS NOT NULL AND e.expires_at < now() AND e.status IN ($%d, $%d)", argIdx, argIdx+1)
			args = append(args, models.EscrowStatusPending, models.EscrowStatusActive)
			argIdx += 2
		} else {
			base += fmt.Sprintf(" AND e.status = $%d", argIdx)
			args = append(args, *f.Status)
			argIdx++
		}
	}
	if f.Token != nil {
		base += fmt.Sprintf(" AND e.asset = $%d", argIdx)
		args = append(args, *f.Token)
		argIdx++
	}
	if f.From != nil {
		base += fmt.Sprintf(" AND e.created_at >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		base += fmt.Sprintf(" AND e.created_at <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol := "e.created_at"
	if f.SortBy == "deadline" {
		sortCol = "e.expires_at"
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}

	pageSize := f.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.creator_id, e.asset, e.amount, e.status, e.expires_at, e.created_at, e.updated_at,
		       e.is_released OR e.status = '%s' AS released,
		       (SELECT rp.user_id FROM escrow_parties rp
		        WHERE rp.escrow_id = e.id AND rp.role = $2 LIMIT 1) AS recipient
		%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		models.EscrowStatusCompleted, base, sortCol, dir, argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.EscrowOverviewRow
	for rows.Next() {
		var row models.EscrowOverviewRow
		var released bool
		if err := rows.Scan(&row.EscrowID, &row.Depositor, &row.Token, &row.TotalAmount, &row.Status,
			&row.Deadline, &row.CreatedAt, &row.UpdatedAt, &released, &row.Recipient); err != nil {
			return nil, 0, err
		}
		if released {
			row.TotalReleased = row.TotalAmount
			row.RemainingAmount = decimalZero
		} else {
			row.TotalReleased = decimalZero
			row.RemainingAmount = row.TotalAmount
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

// GetExpiring returns pending/active escrows whose deadline has passed
// and which have not yet been notified.
func (r *EscrowRepo) GetExpiring(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE expires_at IS NOT NULL AND expires_at < $1
		  AND status IN ($2, $3)
		  AND expiration_notified_at IS NULL
		ORDER BY expires_at
		LIMIT $4
	`, now, models.EscrowStatusPending, models.EscrowStatusActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := scanEscrow(rows, &e); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

func (r *EscrowRepo) MarkExpirationNotified(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows SET expiration_notified_at = now()
		WHERE id = $1 AND expiration_notified_at IS NULL
	`, id)
	return err
}

// RecentlyUpdatedIDs feeds the scheduled consistency check batches.
func (r *EscrowRepo) RecentlyUpdatedIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM escrows WHERE updated_at >= $1 ORDER BY updated_at DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
