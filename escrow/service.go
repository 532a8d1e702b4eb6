package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"marketflow/order"
)

var (
	// ErrOrderNotDelivered blocks settlement before delivery.
	ErrOrderNotDelivered = errors.New("escrow: order not delivered")
	// ErrOrderNotPaid blocks settlement of unpaid orders.
	ErrOrderNotPaid = errors.New("escrow: order not paid")
	// ErrDisputeBlocksRelease blocks settlement while a dispute is open.
	ErrDisputeBlocksRelease = errors.New("escrow: open dispute blocks release")
	// ErrAlreadyProcessed signals the escrow already left the held state.
	ErrAlreadyProcessed = errors.New("escrow: already processed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the escrow persistence the service needs.
type Repository interface {
	GetByOrder(ctx context.Context, orderID string) (Escrow, error)
	GetByOrderTx(ctx context.Context, tx pgx.Tx, orderID string) (Escrow, error)
	MarkReleasedTx(ctx context.Context, tx pgx.Tx, orderID string, releasedAt time.Time) error
	SelectEligible(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// OrderStore is the slice of order persistence settlement touches.
type OrderStore interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
	SetPaymentStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status order.PaymentStatus) error
}

// Service settles held escrows once their order is delivered, paid, and
// undisputed.
type Service struct {
	pool   TxBeginner
	repo   Repository
	orders OrderStore
	now    func() time.Time
	logger *zap.Logger
}

// NewService wires the settlement service.
func NewService(pool TxBeginner, repo Repository, orders OrderStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the escrow of one order.
func (s *Service) Get(ctx context.Context, orderID string) (Escrow, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

// Release settles one order's escrow in its own transaction and returns
// the released escrow. Payout to the supplier is amount minus commission.
func (s *Service) Release(ctx context.Context, orderID string) (Escrow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	released, err := s.ReleaseInTx(ctx, tx, orderID)
	if err != nil {
		return Escrow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, fmt.Errorf("escrow: commit release tx: %w", err)
	}

	s.logger.Info("escrow released",
		zap.String("order_id", orderID),
		zap.Float64("payout", released.Payout()),
	)
	return released, nil
}

// ReleaseInTx runs the settlement checks and writes inside the caller's
// transaction. The checks run in a fixed order: the order must exist, carry
// no dispute, be delivered, be paid, and its escrow must still be held.
func (s *Service) ReleaseInTx(ctx context.Context, tx pgx.Tx, orderID string) (Escrow, error) {
	o, err := s.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return Escrow{}, err
	}
	if o.HasDispute {
		return Escrow{}, ErrDisputeBlocksRelease
	}
	if o.Status != order.StatusDelivered {
		return Escrow{}, ErrOrderNotDelivered
	}
	// A released payment means the funds already moved; the escrow check
	// below reports that as ErrAlreadyProcessed.
	if o.PaymentStatus != order.PaymentPaid && o.PaymentStatus != order.PaymentReleased {
		return Escrow{}, ErrOrderNotPaid
	}

	esc, err := s.repo.GetByOrderTx(ctx, tx, orderID)
	if err != nil {
		return Escrow{}, err
	}
	if esc.Status != StatusHeld {
		return Escrow{}, ErrAlreadyProcessed
	}

	releasedAt := s.now()
	if err := s.repo.MarkReleasedTx(ctx, tx, orderID, releasedAt); err != nil {
		return Escrow{}, err
	}
	if err := s.orders.SetPaymentStatusTx(ctx, tx, orderID, order.PaymentReleased); err != nil {
		return Escrow{}, err
	}

	esc.Status = StatusReleased
	esc.ReleasedAt = &releasedAt
	return esc, nil
}

// AutoReleaseEligible sweeps held escrows whose orders were delivered more
// than holdHours ago. Each release runs in its own transaction so a single
// bad order cannot stall the batch.
func (s *Service) AutoReleaseEligible(ctx context.Context, holdHours int, batchSize int) (SweepResult, error) {
	cutoff := s.now().Add(-time.Duration(holdHours) * time.Hour)

	ids, err := s.repo.SelectEligible(ctx, cutoff, batchSize)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Scanned: len(ids)}
	for _, id := range ids {
		if _, err := s.Release(ctx, id); err != nil {
			result.Failed = append(result.Failed, SweepFailure{OrderID: id, Reason: err.Error()})
			s.logger.Warn("auto release failed",
				zap.String("order_id", id),
				zap.Error(err),
			)
			continue
		}
		result.Released++
	}
	return result, nil
}
