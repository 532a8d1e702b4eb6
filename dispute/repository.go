package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrInvalidStatus signals an unknown or illegal target status.
	ErrInvalidStatus = errors.New("dispute: invalid status")
)

// PGRepository owns the disputes table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, order_id, raised_by, reason, description, status::text, resolution, created_at, updated_at`

// InsertTx creates an open dispute inside the caller's transaction.
func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, orderID, raisedBy, reason, description string) (Dispute, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO disputes (order_id, raised_by, reason, description, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING `+disputeColumns,
		orderID, raisedBy, reason, description)
	return scanDispute(row)
}

// GetByID fetches one dispute.
func (r *PGRepository) GetByID(ctx context.Context, disputeID string) (Dispute, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE id = $1
	`, disputeID)
	return scanDispute(row)
}

// ListByOrder returns all disputes of one order, newest first.
func (r *PGRepository) ListByOrder(ctx context.Context, orderID string) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE order_id = $1
		ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by order: %w", err)
	}
	defer rows.Close()

	var out []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// List returns all disputes, newest first.
func (r *PGRepository) List(ctx context.Context) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	var out []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// UpdateStatusTx moves the dispute to a new status inside the caller's
// transaction, recording the resolution text if any.
func (r *PGRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, disputeID string, status Status, resolution *string) (Dispute, error) {
	row := tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = $2::dispute_status, resolution = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+disputeColumns,
		disputeID, status, resolution)
	return scanDispute(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (Dispute, error) {
	var d Dispute
	err := row.Scan(&d.ID, &d.OrderID, &d.RaisedBy, &d.Reason, &d.Description,
		&d.Status, &d.Resolution, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: scan: %w", err)
	}
	return d, nil
}
