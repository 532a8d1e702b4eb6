package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"marketflow/order"
)

var (
	// ErrInvalidSignature rejects a capture whose HMAC does not match.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrAlreadyPaid rejects double payment of an order.
	ErrAlreadyPaid = errors.New("payment: order already paid")
	// ErrIntentMismatch rejects a capture against a different gateway order.
	ErrIntentMismatch = errors.New("payment: gateway order mismatch")
	// ErrUnsupportedStatus rejects webhook statuses other than paid.
	ErrUnsupportedStatus = errors.New("payment: unsupported status")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore is the slice of order persistence payments touch.
type OrderStore interface {
	GetByID(ctx context.Context, orderID string) (order.Order, error)
	SetGatewayOrder(ctx context.Context, orderID, gatewayOrderID string) error
	MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, gatewayPaymentID string, paidAt time.Time) error
	SetPaymentStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status order.PaymentStatus) error
}

// Intent is what the buyer's client needs to start a checkout.
type Intent struct {
	OrderID        string
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	KeyID          string
}

// Service creates payment intents and verifies captured payments against
// the gateway signature scheme.
type Service struct {
	pool      TxBeginner
	orders    OrderStore
	gateway   Gateway
	keyID     string
	keySecret string
	currency  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewService wires the payment service.
func NewService(pool TxBeginner, orders OrderStore, gateway Gateway, keyID, keySecret, currency string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:      pool,
		orders:    orders,
		gateway:   gateway,
		keyID:     keyID,
		keySecret: keySecret,
		currency:  currency,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateIntent opens a gateway order for the buyer's unpaid order. The
// gateway works in minor currency units, so the amount is rounded to whole
// paise before it leaves the system.
func (s *Service) CreateIntent(ctx context.Context, orderID, buyerID string) (Intent, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return Intent{}, err
	}
	if o.BuyerID != buyerID {
		return Intent{}, order.ErrForbidden
	}
	if o.PaymentStatus == order.PaymentPaid || o.PaymentStatus == order.PaymentReleased {
		return Intent{}, ErrAlreadyPaid
	}

	amountMinor := int64(math.Round(o.TotalAmount * 100))
	gw, err := s.gateway.CreateOrder(ctx, amountMinor, s.currency, "order_"+orderID)
	if err != nil {
		return Intent{}, err
	}

	if err := s.orders.SetGatewayOrder(ctx, orderID, gw.ID); err != nil {
		return Intent{}, err
	}

	s.logger.Info("payment intent created",
		zap.String("order_id", orderID),
		zap.String("gateway_order_id", gw.ID),
		zap.Int64("amount_minor", amountMinor),
	)
	return Intent{
		OrderID:        orderID,
		GatewayOrderID: gw.ID,
		AmountMinor:    amountMinor,
		Currency:       s.currency,
		KeyID:          s.keyID,
	}, nil
}

// VerifyAndCapture checks the gateway signature over the order and payment
// ids and, only on a constant-time match, marks the order paid. A failed
// check writes nothing.
func (s *Service) VerifyAndCapture(ctx context.Context, orderID, buyerID, gatewayOrderID, gatewayPaymentID, signature string) (order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.BuyerID != buyerID {
		return order.Order{}, order.ErrForbidden
	}
	if o.PaymentStatus == order.PaymentPaid || o.PaymentStatus == order.PaymentReleased {
		return order.Order{}, ErrAlreadyPaid
	}
	if o.GatewayOrderID == nil || *o.GatewayOrderID != gatewayOrderID {
		return order.Order{}, ErrIntentMismatch
	}

	expected := sign(s.keySecret, gatewayOrderID, gatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return order.Order{}, ErrInvalidSignature
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("payment: begin capture tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.orders.MarkPaidTx(ctx, tx, orderID, gatewayPaymentID, s.now()); err != nil {
		return order.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("payment: commit capture tx: %w", err)
	}

	s.logger.Info("payment captured",
		zap.String("order_id", orderID),
		zap.String("gateway_payment_id", gatewayPaymentID),
	)
	return s.orders.GetByID(ctx, orderID)
}

// HandleWebhook marks an order paid from a gateway notification. The hook
// carries no signature, so the route exposing it must stay admin-only.
func (s *Service) HandleWebhook(ctx context.Context, orderID, status string) (order.Order, error) {
	if status != "paid" {
		return order.Order{}, ErrUnsupportedStatus
	}

	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return order.Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("payment: begin webhook tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.orders.SetPaymentStatusTx(ctx, tx, orderID, order.PaymentPaid); err != nil {
		return order.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("payment: commit webhook tx: %w", err)
	}

	s.logger.Info("payment webhook applied", zap.String("order_id", orderID))
	return s.orders.GetByID(ctx, orderID)
}

// sign computes the hex HMAC-SHA256 the gateway sends back after checkout.
func sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
