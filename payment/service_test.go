package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketflow/order"
)

const testSecret = "test-secret"

func fixedClock() func() time.Time {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func strPtr(s string) *string { return &s }

func TestSign_KnownVector(t *testing.T) {
	got := sign(testSecret, "gw_order_1", "gw_pay_1")
	want := "aeef0acd9deae052509cef45e2de09349d00677eabbfbfa656c6014ecdedd4e2"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCreateIntent_RoundsToMinorUnits(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {ID: "order-1", BuyerID: "buyer-1", TotalAmount: 249.99, PaymentStatus: order.PaymentPending},
	}}
	gw := &fakeGateway{order: GatewayOrder{ID: "gw_order_1", Status: "created"}}
	svc := NewService(&fakePool{}, orders, gw, "key-id", testSecret, "INR", nil)

	intent, err := svc.CreateIntent(context.Background(), "order-1", "buyer-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if intent.AmountMinor != 24999 {
		t.Errorf("expected 24999 minor units, got %d", intent.AmountMinor)
	}
	if intent.Currency != "INR" || intent.KeyID != "key-id" {
		t.Errorf("unexpected intent %+v", intent)
	}
	if gw.gotReceipt != "order_order-1" {
		t.Errorf("expected receipt order_order-1, got %s", gw.gotReceipt)
	}
	if orders.gatewayOrders["order-1"] != "gw_order_1" {
		t.Errorf("expected stored gateway order id, got %v", orders.gatewayOrders)
	}
}

func TestCreateIntent_Guards(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {ID: "order-1", BuyerID: "buyer-1", PaymentStatus: order.PaymentPaid},
	}}
	svc := NewService(&fakePool{}, orders, &fakeGateway{}, "key-id", testSecret, "INR", nil)

	_, err := svc.CreateIntent(context.Background(), "order-1", "buyer-2")
	if !errors.Is(err, order.ErrForbidden) {
		t.Errorf("expected ErrForbidden for foreign buyer, got %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), "order-1", "buyer-1")
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid, got %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), "missing", "buyer-1")
	if !errors.Is(err, order.ErrNotFound) {
		t.Errorf("expected order.ErrNotFound, got %v", err)
	}
}

func TestVerifyAndCapture_Succeeds(t *testing.T) {
	pool := &fakePool{}
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {
			ID: "order-1", BuyerID: "buyer-1",
			PaymentStatus:  order.PaymentPending,
			GatewayOrderID: strPtr("gw_order_1"),
		},
	}}
	svc := NewService(pool, orders, &fakeGateway{}, "key-id", testSecret, "INR", nil).WithClock(fixedClock())

	signature := sign(testSecret, "gw_order_1", "gw_pay_1")
	o, err := svc.VerifyAndCapture(context.Background(), "order-1", "buyer-1", "gw_order_1", "gw_pay_1", signature)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.PaymentStatus != order.PaymentPaid {
		t.Errorf("expected paid, got %s", o.PaymentStatus)
	}
	if o.GatewayPaymentID == nil || *o.GatewayPaymentID != "gw_pay_1" {
		t.Errorf("expected stored payment id, got %v", o.GatewayPaymentID)
	}
	if o.PaidAt == nil || !o.PaidAt.Equal(fixedClock()()) {
		t.Errorf("expected paidAt stamp, got %v", o.PaidAt)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestVerifyAndCapture_TamperedSignatureWritesNothing(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {
			ID: "order-1", BuyerID: "buyer-1",
			PaymentStatus:  order.PaymentPending,
			GatewayOrderID: strPtr("gw_order_1"),
		},
	}}
	svc := NewService(&fakePool{}, orders, &fakeGateway{}, "key-id", testSecret, "INR", nil)

	_, err := svc.VerifyAndCapture(context.Background(), "order-1", "buyer-1", "gw_order_1", "gw_pay_1", "deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(orders.paid) != 0 {
		t.Errorf("expected no writes, got %v", orders.paid)
	}
	if got := orders.orders["order-1"].PaymentStatus; got != order.PaymentPending {
		t.Errorf("expected payment still pending, got %s", got)
	}
}

func TestVerifyAndCapture_IntentMismatch(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {
			ID: "order-1", BuyerID: "buyer-1",
			PaymentStatus:  order.PaymentPending,
			GatewayOrderID: strPtr("gw_order_1"),
		},
		"order-2": {ID: "order-2", BuyerID: "buyer-1", PaymentStatus: order.PaymentPending},
	}}
	svc := NewService(&fakePool{}, orders, &fakeGateway{}, "key-id", testSecret, "INR", nil)

	signature := sign(testSecret, "gw_order_other", "gw_pay_1")
	_, err := svc.VerifyAndCapture(context.Background(), "order-1", "buyer-1", "gw_order_other", "gw_pay_1", signature)
	if !errors.Is(err, ErrIntentMismatch) {
		t.Errorf("expected ErrIntentMismatch, got %v", err)
	}

	// No intent was ever created for order-2.
	signature = sign(testSecret, "gw_order_2", "gw_pay_1")
	_, err = svc.VerifyAndCapture(context.Background(), "order-2", "buyer-1", "gw_order_2", "gw_pay_1", signature)
	if !errors.Is(err, ErrIntentMismatch) {
		t.Errorf("expected ErrIntentMismatch without stored intent, got %v", err)
	}
}

func TestHandleWebhook(t *testing.T) {
	orders := &fakeOrders{orders: map[string]order.Order{
		"order-1": {ID: "order-1", PaymentStatus: order.PaymentPending},
	}}
	svc := NewService(&fakePool{}, orders, &fakeGateway{}, "key-id", testSecret, "INR", nil)

	_, err := svc.HandleWebhook(context.Background(), "order-1", "failed")
	if !errors.Is(err, ErrUnsupportedStatus) {
		t.Errorf("expected ErrUnsupportedStatus, got %v", err)
	}

	o, err := svc.HandleWebhook(context.Background(), "order-1", "paid")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.PaymentStatus != order.PaymentPaid {
		t.Errorf("expected paid, got %s", o.PaymentStatus)
	}
}

func TestRazorpayClient_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key-id" || pass != testSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/orders" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"id":"gw_order_1","amount":24999,"currency":"INR","receipt":"order_order-1","status":"created"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	client := NewRazorpayClient("key-id", testSecret, srv.URL)
	gw, err := client.CreateOrder(context.Background(), 24999, "INR", "order_order-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gw.ID != "gw_order_1" || gw.AmountMinor != 24999 {
		t.Errorf("unexpected gateway order %+v", gw)
	}
}

func TestRazorpayClient_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewRazorpayClient("key-id", testSecret, srv.URL)
	_, err := client.CreateOrder(context.Background(), 100, "INR", "r")
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}

type fakeGateway struct {
	order      GatewayOrder
	err        error
	gotReceipt string
}

func (f *fakeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error) {
	f.gotReceipt = receipt
	if f.err != nil {
		return GatewayOrder{}, f.err
	}
	o := f.order
	o.AmountMinor = amountMinor
	o.Currency = currency
	o.Receipt = receipt
	return o, nil
}

type fakeOrders struct {
	orders        map[string]order.Order
	gatewayOrders map[string]string
	paid          map[string]string
}

func (f *fakeOrders) GetByID(ctx context.Context, orderID string) (order.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) SetGatewayOrder(ctx context.Context, orderID, gatewayOrderID string) error {
	if f.gatewayOrders == nil {
		f.gatewayOrders = map[string]string{}
	}
	f.gatewayOrders[orderID] = gatewayOrderID
	o := f.orders[orderID]
	o.GatewayOrderID = &gatewayOrderID
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, gatewayPaymentID string, paidAt time.Time) error {
	if f.paid == nil {
		f.paid = map[string]string{}
	}
	f.paid[orderID] = gatewayPaymentID
	o := f.orders[orderID]
	o.PaymentStatus = order.PaymentPaid
	o.GatewayPaymentID = &gatewayPaymentID
	o.PaidAt = &paidAt
	f.orders[orderID] = o
	return nil
}

func (f *fakeOrders) SetPaymentStatusTx(ctx context.Context, tx pgx.Tx, orderID string, status order.PaymentStatus) error {
	o := f.orders[orderID]
	o.PaymentStatus = status
	f.orders[orderID] = o
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
