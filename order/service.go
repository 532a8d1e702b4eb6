package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"marketflow/assign"
	"marketflow/catalog"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Assigner selects the fulfilling supplier for a cart.
type Assigner interface {
	Assign(ctx context.Context, items []assign.ItemRequest, buyerLoc assign.BuyerLocation) (assign.Result, error)
}

// StockAdjuster mutates product stock inside a transaction.
type StockAdjuster interface {
	DecrementStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) (catalog.Product, error)
	IncrementStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) error
}

// EscrowOpener opens the escrow row tied to a new order inside the same
// transaction, and refunds it on cancellation. RefundTx leaves an escrow
// that already left held untouched, so cancelling after a dispute refund
// still restores stock.
type EscrowOpener interface {
	OpenTx(ctx context.Context, tx pgx.Tx, orderID string, amount, commission float64) error
	RefundTx(ctx context.Context, tx pgx.Tx, orderID string, releasedAt time.Time) error
}

// BuyerDirectory resolves a buyer's registered location.
type BuyerDirectory interface {
	LocationOf(ctx context.Context, userID string) (assign.BuyerLocation, error)
}

// Service coordinates the order lifecycle: transactional creation with
// stock reservation and escrow opening, the status state machine, and
// cancellation.
type Service struct {
	pool           TxBeginner
	repo           Repository
	stock          StockAdjuster
	escrow         EscrowOpener
	assigner       Assigner
	directory      BuyerDirectory
	commissionRate float64
	now            func() time.Time
	logger         *zap.Logger
}

// NewService wires the order lifecycle manager.
func NewService(
	pool TxBeginner,
	repo Repository,
	stock StockAdjuster,
	escrow EscrowOpener,
	assigner Assigner,
	directory BuyerDirectory,
	commissionRate float64,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:           pool,
		repo:           repo,
		stock:          stock,
		escrow:         escrow,
		assigner:       assigner,
		directory:      directory,
		commissionRate: commissionRate,
		now:            time.Now,
		logger:         logger,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Create runs assignment and then, inside one transaction, re-validates and
// reserves stock, persists the order with its pricing snapshot, and opens
// the escrow. Any failure aborts the whole unit: no order, no stock change,
// no escrow.
func (s *Service) Create(ctx context.Context, buyerID string, items []assign.ItemRequest, city string) (Order, error) {
	buyerLoc, err := s.directory.LocationOf(ctx, buyerID)
	if err != nil {
		return Order{}, fmt.Errorf("order: resolve buyer location: %w", err)
	}
	if buyerLoc.City == "" {
		buyerLoc.City = city
	}

	assignment, err := s.assigner.Assign(ctx, items, buyerLoc)
	if err != nil {
		return Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Assignment ran outside the transaction, so stock may have moved.
	// Every line is re-validated against the live row before decrementing
	// and the snapshot price is the re-read one.
	orderItems := make([]Item, 0, len(assignment.Items))
	var totalAmount float64
	for _, item := range assignment.Items {
		product, err := s.stock.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return Order{}, err
		}
		orderItems = append(orderItems, Item{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		totalAmount += product.Price * float64(item.Quantity)
	}

	orderCity := city
	if orderCity == "" {
		orderCity = buyerLoc.City
	}

	created, err := s.repo.InsertTx(ctx, tx, InsertParams{
		BuyerID:     buyerID,
		SupplierID:  assignment.SupplierID,
		Items:       orderItems,
		TotalAmount: totalAmount,
		City:        orderCity,
		Audit:       assignment.Audit,
	})
	if err != nil {
		return Order{}, err
	}

	commission := round2(totalAmount * s.commissionRate)
	if err := s.escrow.OpenTx(ctx, tx, created.ID, totalAmount, commission); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create tx: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("supplier_id", created.SupplierID),
		zap.Float64("total", totalAmount),
	)
	return created, nil
}

// UpdateStatus applies a supplier-driven delivery transition: assigned to
// dispatched, dispatched to delivered. Delivery stamps deliveredAt.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, actor Actor, next Status) (Order, error) {
	current, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	if !actor.OwnsAsSupplier(current) {
		return Order{}, ErrForbidden
	}
	if !canTransition(current.Status, next) {
		return Order{}, ErrInvalidTransition
	}

	var deliveredAt *time.Time
	if next == StatusDelivered {
		now := s.now()
		deliveredAt = &now
	}

	updated, err := s.repo.TransitionStatus(ctx, orderID, current.Status, next, deliveredAt)
	if err != nil {
		return Order{}, err
	}

	s.logger.Info("order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
	)
	return updated, nil
}

// Cancel aborts an assigned order: stock is restored line by line, a paid
// order's payment flips to refunded, and the escrow is refunded, all in one
// transaction. Dispatched and delivered orders cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor) (Order, error) {
	current, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.IsAdmin() && !actor.OwnsAsBuyer(current) {
		return Order{}, ErrForbidden
	}
	if current.Status != StatusAssigned {
		return Order{}, ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.repo.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if locked.Status != StatusAssigned {
		return Order{}, ErrInvalidTransition
	}

	for _, item := range locked.Items {
		if err := s.stock.IncrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return Order{}, err
		}
	}

	refundPayment := locked.PaymentStatus == PaymentPaid
	if err := s.repo.CancelTx(ctx, tx, orderID, refundPayment); err != nil {
		return Order{}, err
	}

	if err := s.escrow.RefundTx(ctx, tx, orderID, s.now()); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit cancel tx: %w", err)
	}

	s.logger.Info("order cancelled", zap.String("order_id", orderID))
	return s.repo.GetByID(ctx, orderID)
}

// Get returns one order, restricted to its parties and admins.
func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.CanView(o) {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// List returns a page of orders scoped to the actor.
func (s *Service) List(ctx context.Context, actor Actor, filters Filters) ([]Order, int, error) {
	return s.repo.List(ctx, actor, filters)
}
