package repositories

import (
	"context"

	"github.com/StayLitCodes/Vaultix/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepo writes the append-only escrow event log. Rows are never
// updated or deleted.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Append(ctx context.Context, e models.EscrowEvent) error {
	return r.append(ctx, r.pool, e)
}

// AppendTx appends inside the caller's transaction so the event commits
// atomically with the state change it records.
func (r *EventRepo) AppendTx(ctx context.Context, q Querier, e models.EscrowEvent) error {
	return r.append(ctx, q, e)
}

func (r *EventRepo) append(ctx context.Context, q Querier, e models.EscrowEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO escrow_events (escrow_id, event_type, actor_id, data, ip_address)
		VALUES ($1, $2, $3, $4, $5)
	`, e.EscrowID, e.EventType, e.ActorID, e.Data, e.IPAddress)
	return err
}

func (r *EventRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.EscrowEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, event_type, actor_id, data, ip_address, created_at
		FROM escrow_events WHERE escrow_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, escrowID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.EscrowEvent
	for rows.Next() {
		var e models.EscrowEvent
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.EventType, &e.ActorID, &e.Data, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
