package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"marketflow/order"
)

// ErrReasonRequired rejects disputes filed without a reason.
var ErrReasonRequired = errors.New("dispute: reason required")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the dispute persistence the service needs.
type Repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, orderID, raisedBy, reason, description string) (Dispute, error)
	GetByID(ctx context.Context, disputeID string) (Dispute, error)
	ListByOrder(ctx context.Context, orderID string) ([]Dispute, error)
	List(ctx context.Context) ([]Dispute, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, disputeID string, status Status, resolution *string) (Dispute, error)
}

// OrderStore is the slice of order persistence disputes touch.
type OrderStore interface {
	GetByID(ctx context.Context, orderID string) (order.Order, error)
	SetDisputeFlagTx(ctx context.Context, tx pgx.Tx, orderID string, flagged bool) error
	SetPaymentStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status order.PaymentStatus) error
}

// EscrowRefunder refunds a held escrow inside a transaction. An escrow
// that already left held is left untouched.
type EscrowRefunder interface {
	RefundTx(ctx context.Context, tx pgx.Tx, orderID string, releasedAt time.Time) error
}

// Service opens and resolves disputes. An open dispute sets the order's
// dispute flag, which blocks escrow settlement until an admin rules.
type Service struct {
	pool   TxBeginner
	repo   Repository
	orders OrderStore
	escrow EscrowRefunder
	now    func() time.Time
	logger *zap.Logger
}

// NewService wires the dispute service.
func NewService(pool TxBeginner, repo Repository, orders OrderStore, refunder EscrowRefunder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		escrow: refunder,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open files a dispute against an order. Only the order's parties or an
// admin may file. The dispute row and the order's flag land in one
// transaction.
func (s *Service) Open(ctx context.Context, orderID string, actor order.Actor, reason, description string) (Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return Dispute{}, ErrReasonRequired
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return Dispute{}, err
	}
	if !actor.CanView(o) {
		return Dispute{}, order.ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin open tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.InsertTx(ctx, tx, orderID, actor.ID, reason, description)
	if err != nil {
		return Dispute{}, err
	}
	if err := s.orders.SetDisputeFlagTx(ctx, tx, orderID, true); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit open tx: %w", err)
	}

	s.logger.Info("dispute opened",
		zap.String("dispute_id", d.ID),
		zap.String("order_id", orderID),
	)
	return d, nil
}

// Get returns one dispute, restricted to the order's parties and admins.
func (s *Service) Get(ctx context.Context, disputeID string, actor order.Actor) (Dispute, error) {
	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	o, err := s.orders.GetByID(ctx, d.OrderID)
	if err != nil {
		return Dispute{}, err
	}
	if !actor.CanView(o) {
		return Dispute{}, order.ErrForbidden
	}
	return d, nil
}

// Resolve moves a dispute to under_review, resolved, or rejected. Terminal
// statuses clear the order's dispute flag; the "refund" resolution also
// refunds the buyer and a still-held escrow, all in one transaction.
// Admin-only.
func (s *Service) Resolve(ctx context.Context, disputeID string, actor order.Actor, status Status, resolution string) (Dispute, error) {
	if !actor.IsAdmin() {
		return Dispute{}, order.ErrForbidden
	}
	if !validStatus(status) {
		return Dispute{}, ErrInvalidStatus
	}

	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if terminal(d.Status) {
		return Dispute{}, fmt.Errorf("%w: dispute already %s", ErrInvalidStatus, d.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var res *string
	if resolution != "" {
		res = &resolution
	}
	updated, err := s.repo.UpdateStatusTx(ctx, tx, disputeID, status, res)
	if err != nil {
		return Dispute{}, err
	}

	if terminal(status) {
		if err := s.orders.SetDisputeFlagTx(ctx, tx, d.OrderID, false); err != nil {
			return Dispute{}, err
		}
	}

	if status == StatusResolved && resolution == ResolutionRefund {
		if err := s.orders.SetPaymentStatusTx(ctx, tx, d.OrderID, order.PaymentRefunded); err != nil {
			return Dispute{}, err
		}
		if err := s.escrow.RefundTx(ctx, tx, d.OrderID, s.now()); err != nil {
			return Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve tx: %w", err)
	}

	s.logger.Info("dispute resolved",
		zap.String("dispute_id", disputeID),
		zap.String("status", string(status)),
		zap.String("resolution", resolution),
	)
	return updated, nil
}

// List returns every dispute. Admin-only.
func (s *Service) List(ctx context.Context, actor order.Actor) ([]Dispute, error) {
	if !actor.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return s.repo.List(ctx)
}

// ListByOrder returns an order's disputes, restricted to its parties and
// admins.
func (s *Service) ListByOrder(ctx context.Context, orderID string, actor order.Actor) ([]Dispute, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(o) {
		return nil, order.ErrForbidden
	}
	return s.repo.ListByOrder(ctx, orderID)
}
