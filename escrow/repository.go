package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no escrow exists for the order.
var ErrNotFound = errors.New("escrow: not found")

// PGRepository owns the escrows table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed escrow repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const escrowColumns = `id, order_id, amount, commission, status::text, created_at, released_at`

// OpenTx inserts a held escrow for a freshly created order inside the
// caller's transaction.
func (r *PGRepository) OpenTx(ctx context.Context, tx pgx.Tx, orderID string, amount, commission float64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO escrows (order_id, amount, commission, status)
		VALUES ($1, $2, $3, 'held')
	`, orderID, amount, commission); err != nil {
		return fmt.Errorf("escrow: open: %w", err)
	}
	return nil
}

// GetByOrder fetches the escrow tied to one order.
func (r *PGRepository) GetByOrder(ctx context.Context, orderID string) (Escrow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE order_id = $1
	`, orderID)
	return scanEscrow(row)
}

// GetByOrderTx locks and fetches the escrow inside the caller's transaction.
func (r *PGRepository) GetByOrderTx(ctx context.Context, tx pgx.Tx, orderID string) (Escrow, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE order_id = $1
		FOR UPDATE
	`, orderID)
	return scanEscrow(row)
}

// MarkReleasedTx moves a held escrow to released.
func (r *PGRepository) MarkReleasedTx(ctx context.Context, tx pgx.Tx, orderID string, releasedAt time.Time) error {
	tag, err := r.markTx(ctx, tx, orderID, StatusReleased, releasedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RefundTx moves a held escrow to refunded. An escrow that already left
// held (a dispute refund can settle it before the order is cancelled) is
// left untouched, so cancellation stays runnable after a refund ruling.
func (r *PGRepository) RefundTx(ctx context.Context, tx pgx.Tx, orderID string, releasedAt time.Time) error {
	_, err := r.markTx(ctx, tx, orderID, StatusRefunded, releasedAt)
	return err
}

func (r *PGRepository) markTx(ctx context.Context, tx pgx.Tx, orderID string, to Status, releasedAt time.Time) (pgconn.CommandTag, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrows
		SET status = $2::escrow_status, released_at = $3
		WHERE order_id = $1 AND status = 'held'
	`, orderID, to, releasedAt)
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("escrow: mark %s: %w", to, err)
	}
	return tag, nil
}

// SelectEligible returns order ids whose held escrow is past the hold
// window: delivered before the cutoff, paid, and not disputed. Oldest
// deliveries come first so a short batch drains the backlog in order.
func (r *PGRepository) SelectEligible(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.order_id
		FROM escrows e
		JOIN orders o ON o.id = e.order_id
		WHERE e.status = 'held'
		  AND o.status = 'delivered'
		  AND o.payment_status = 'paid'
		  AND NOT o.has_dispute
		  AND o.delivered_at <= $1
		ORDER BY o.delivered_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow: select eligible: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("escrow: scan eligible: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate eligible: %w", err)
	}
	return ids, nil
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var e Escrow
	err := row.Scan(&e.ID, &e.OrderID, &e.Amount, &e.Commission, &e.Status, &e.CreatedAt, &e.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: scan: %w", err)
	}
	return e, nil
}
