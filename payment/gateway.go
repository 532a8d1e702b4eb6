package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrGateway wraps transport or gateway-side failures.
var ErrGateway = errors.New("payment: gateway error")

// GatewayOrder is the gateway-side order a client pays against.
type GatewayOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// Gateway creates payment orders on the external processor.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error)
}

// RazorpayClient talks to the Razorpay orders API with basic auth.
type RazorpayClient struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayClient builds a gateway client. baseURL has no trailing slash.
func NewRazorpayClient(keyID, keySecret, baseURL string) *RazorpayClient {
	return &RazorpayClient{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient overrides the HTTP client for tests.
func (c *RazorpayClient) WithHTTPClient(client *http.Client) *RazorpayClient {
	c.client = client
	return c
}

// CreateOrder registers a new order with the gateway in minor currency
// units.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (GatewayOrder, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("payment: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("payment: build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GatewayOrder{}, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	var gw GatewayOrder
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	if gw.ID == "" {
		return GatewayOrder{}, fmt.Errorf("%w: empty order id", ErrGateway)
	}
	return gw, nil
}
