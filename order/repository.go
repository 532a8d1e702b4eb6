package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/assign"
	"marketflow/auth"
)

var (
	// ErrNotFound signals the requested order does not exist.
	ErrNotFound = errors.New("order: not found")
	// ErrForbidden signals the actor is not authorized for this order.
	ErrForbidden = errors.New("order: forbidden")
	// ErrInvalidTransition signals a status change outside the state machine.
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

// Repository handles order persistence.
type Repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Order, error)
	GetByID(ctx context.Context, orderID string) (Order, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, orderID string, from, to Status, deliveredAt *time.Time) (Order, error)
	CancelTx(ctx context.Context, tx pgx.Tx, orderID string, refundPayment bool) error
	List(ctx context.Context, actor Actor, filters Filters) ([]Order, int, error)
}

// InsertParams carries everything needed to persist a freshly assigned order.
type InsertParams struct {
	BuyerID     string
	SupplierID  string
	Items       []Item
	TotalAmount float64
	City        string
	Audit       assign.Audit
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed order repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `
	id, buyer_id, supplier_id, total_amount, status::text, payment_status::text,
	city, has_dispute, delivered_at, gateway_order_id, gateway_payment_id, paid_at,
	audit_same_city, audit_same_state, audit_distance_km, audit_total_cost,
	audit_buyer_city, audit_buyer_state, audit_supplier_city, audit_supplier_state,
	created_at, updated_at`

// InsertTx persists the order and its line items inside the caller's
// transaction.
func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Order, error) {
	const insertSQL = `
		INSERT INTO orders (
			buyer_id, supplier_id, total_amount, status, payment_status, city,
			audit_same_city, audit_same_state, audit_distance_km, audit_total_cost,
			audit_buyer_city, audit_buyer_state, audit_supplier_city, audit_supplier_state
		)
		VALUES ($1, $2, $3, 'assigned', 'pending', $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, insertSQL,
		params.BuyerID,
		params.SupplierID,
		params.TotalAmount,
		params.City,
		params.Audit.SameCity,
		params.Audit.SameState,
		params.Audit.DistanceKm,
		params.Audit.TotalCost,
		params.Audit.BuyerCity,
		params.Audit.BuyerState,
		params.Audit.SupplierCity,
		params.Audit.SupplierState,
	))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	for _, item := range params.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, o.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return Order{}, fmt.Errorf("order: insert item: %w", err)
		}
	}
	o.Items = params.Items

	return o, nil
}

// GetByID fetches one order with its items.
func (r *PGRepository) GetByID(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get by id: %w", err)
	}

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

// GetForUpdateTx fetches and row-locks one order inside the caller's
// transaction, items included.
func (r *PGRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get for update: %w", err)
	}

	const itemsSQL = `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := tx.Query(ctx, itemsSQL, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("order: load items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

// TransitionStatus applies a single-row status change guarded by the current
// status in the predicate, so a concurrent writer cannot double-apply it.
func (r *PGRepository) TransitionStatus(ctx context.Context, orderID string, from, to Status, deliveredAt *time.Time) (Order, error) {
	const updateSQL = `
		UPDATE orders
		SET status = $3::order_status, delivered_at = $4, updated_at = now()
		WHERE id = $1 AND status = $2::order_status
		RETURNING ` + orderColumns

	o, err := scanOrder(r.pool.QueryRow(ctx, updateSQL, orderID, from, to, deliveredAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrInvalidTransition
		}
		return Order{}, fmt.Errorf("order: transition status: %w", err)
	}

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

// CancelTx marks the order cancelled inside the caller's transaction,
// flipping a paid order's payment status to refunded.
func (r *PGRepository) CancelTx(ctx context.Context, tx pgx.Tx, orderID string, refundPayment bool) error {
	paymentCase := `payment_status`
	if refundPayment {
		paymentCase = `'refunded'::payment_status`
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled'::order_status, payment_status = `+paymentCase+`, updated_at = now()
		WHERE id = $1
	`, orderID)
	if err != nil {
		return fmt.Errorf("order: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatusTx updates only the payment status inside the caller's
// transaction. Used by settlement and dispute resolution.
func (r *PGRepository) SetPaymentStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2::payment_status, updated_at = now()
		WHERE id = $1
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("order: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisputeFlagTx flips the dispute marker that blocks settlement.
func (r *PGRepository) SetDisputeFlagTx(ctx context.Context, tx pgx.Tx, orderID string, flagged bool) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET has_dispute = $2, updated_at = now()
		WHERE id = $1
	`, orderID, flagged)
	if err != nil {
		return fmt.Errorf("order: set dispute flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetGatewayOrder stores the gateway order id created for a payment intent.
func (r *PGRepository) SetGatewayOrder(ctx context.Context, orderID, gatewayOrderID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET gateway_order_id = $2, updated_at = now()
		WHERE id = $1
	`, orderID, gatewayOrderID)
	if err != nil {
		return fmt.Errorf("order: set gateway order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaidTx records a verified capture inside the caller's transaction.
func (r *PGRepository) MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, gatewayPaymentID string, paidAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'paid'::payment_status, gateway_payment_id = $2, paid_at = $3, updated_at = now()
		WHERE id = $1
	`, orderID, gatewayPaymentID, paidAt)
	if err != nil {
		return fmt.Errorf("order: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of orders plus the unpaged total.
func (r *PGRepository) List(ctx context.Context, actor Actor, filters Filters) ([]Order, int, error) {
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	where := " WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch actor.Role {
	case auth.RoleBuyer:
		where += " AND buyer_id = " + arg(actor.ID)
	case auth.RoleSupplier:
		where += " AND supplier_id = " + arg(actor.ID)
	}
	if filters.Status != "" {
		where += " AND status = " + arg(filters.Status) + "::order_status"
	}
	if filters.PaymentStatus != "" {
		where += " AND payment_status = " + arg(filters.PaymentStatus) + "::payment_status"
	}
	if filters.City != "" {
		where += " AND city = " + arg(filters.City)
	}
	if filters.From != nil {
		where += " AND created_at >= " + arg(*filters.From)
	}
	if filters.To != nil {
		where += " AND created_at <= " + arg(*filters.To)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC LIMIT ` + arg(pageSize) + ` OFFSET ` + arg((page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("order: scan listed order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("order: iterate list: %w", err)
	}

	countArgs := args[:len(args)-2]
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("order: count list: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}

	return orders, total, nil
}

func (r *PGRepository) loadItems(ctx context.Context, orderID string) ([]Item, error) {
	const itemsSQL = `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, itemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: load items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	items := make([]Item, 0, 4)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("order: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate items: %w", err)
	}
	return items, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		audit assign.Audit
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SupplierID, &o.TotalAmount, &o.Status, &o.PaymentStatus,
		&o.City, &o.HasDispute, &o.DeliveredAt, &o.GatewayOrderID, &o.GatewayPaymentID, &o.PaidAt,
		&audit.SameCity, &audit.SameState, &audit.DistanceKm, &audit.TotalCost,
		&audit.BuyerCity, &audit.BuyerState, &audit.SupplierCity, &audit.SupplierState,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Audit = &audit
	return o, nil
}
