package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketflow/assign"
	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/order"
	"marketflow/payment"
)

// uuidParam validates a path id before it reaches a UUID column; anything
// else is indistinguishable from a missing row.
func uuidParam(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return "", false
	}
	return id, true
}

type authHandler struct {
	svc *auth.Service
}

func (h *authHandler) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	user, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userView(*user))
}

func (h *authHandler) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user":  userView(result.User),
	})
}

func userView(u auth.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"role":      u.Role,
		"city":      u.City,
		"state":     u.State,
	}
}

type orderHandler struct {
	orders   *order.Service
	payments *payment.Service
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	City string `json:"city"`
}

func (h *orderHandler) create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	items := make([]assign.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, assign.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	actor := actorFrom(c)
	o, err := h.orders.Create(c.Request.Context(), actor.ID, items, req.City)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderView(o))
}

func (h *orderHandler) get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *orderHandler) list(c *gin.Context) {
	filters := order.Filters{
		Status:        order.Status(c.Query("status")),
		PaymentStatus: order.PaymentStatus(c.Query("payment_status")),
		City:          c.Query("city"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filters.PageSize = limit
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = 10
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	if from, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		filters.From = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		filters.To = &to
	}

	orders, total, err := h.orders.List(c.Request.Context(), actorFrom(c), filters)
	if err != nil {
		respondError(c, err)
		return
	}

	totalPages := (total + filters.PageSize - 1) / filters.PageSize

	views := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView(o))
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":      views,
		"page":        filters.Page,
		"limit":       filters.PageSize,
		"total":       total,
		"total_pages": totalPages,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *orderHandler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), id, actorFrom(c), order.Status(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *orderHandler) cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Cancel(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *orderHandler) createPaymentIntent(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	intent, err := h.payments.CreateIntent(c.Request.Context(), id, actorFrom(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id":         intent.OrderID,
		"gateway_order_id": intent.GatewayOrderID,
		"amount":           intent.AmountMinor,
		"currency":         intent.Currency,
		"key_id":           intent.KeyID,
	})
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (h *orderHandler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.payments.VerifyAndCapture(c.Request.Context(), id, actorFrom(c).ID,
		req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

type webhookRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (h *orderHandler) paymentWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	o, err := h.payments.HandleWebhook(c.Request.Context(), req.OrderID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func orderView(o order.Order) gin.H {
	items := make([]gin.H, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, gin.H{
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice,
		})
	}
	view := gin.H{
		"id":             o.ID,
		"buyer_id":       o.BuyerID,
		"supplier_id":    o.SupplierID,
		"items":          items,
		"total_amount":   o.TotalAmount,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"city":           o.City,
		"has_dispute":    o.HasDispute,
		"delivered_at":   o.DeliveredAt,
		"paid_at":        o.PaidAt,
		"created_at":     o.CreatedAt,
	}
	if o.Audit != nil {
		view["assignment"] = gin.H{
			"same_city":      o.Audit.SameCity,
			"same_state":     o.Audit.SameState,
			"distance_km":    o.Audit.DistanceKm,
			"total_cost":     o.Audit.TotalCost,
			"buyer_city":     o.Audit.BuyerCity,
			"buyer_state":    o.Audit.BuyerState,
			"supplier_city":  o.Audit.SupplierCity,
			"supplier_state": o.Audit.SupplierState,
		}
	}
	return view
}

type escrowHandler struct {
	svc *escrow.Service
}

func (h *escrowHandler) release(c *gin.Context) {
	orderID, ok := uuidParam(c, "orderId")
	if !ok {
		return
	}
	released, err := h.svc.Release(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":    released.OrderID,
		"amount":      released.Amount,
		"commission":  released.Commission,
		"payout":      released.Payout(),
		"status":      released.Status,
		"released_at": released.ReleasedAt,
	})
}

type disputeHandler struct {
	svc *dispute.Service
}

type createDisputeRequest struct {
	OrderID     string `json:"order_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (h *disputeHandler) create(c *gin.Context) {
	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	d, err := h.svc.Open(c.Request.Context(), req.OrderID, actorFrom(c), req.Reason, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, disputeView(d))
}

func (h *disputeHandler) list(c *gin.Context) {
	disputes, err := h.svc.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]gin.H, 0, len(disputes))
	for _, d := range disputes {
		views = append(views, disputeView(d))
	}
	c.JSON(http.StatusOK, gin.H{"disputes": views})
}

type resolveDisputeRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

func (h *disputeHandler) resolve(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Resolve(c.Request.Context(), id, actorFrom(c), dispute.Status(req.Status), req.Resolution)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputeView(d))
}

func disputeView(d dispute.Dispute) gin.H {
	return gin.H{
		"id":          d.ID,
		"order_id":    d.OrderID,
		"raised_by":   d.RaisedBy,
		"reason":      d.Reason,
		"description": d.Description,
		"status":      d.Status,
		"resolution":  d.Resolution,
		"created_at":  d.CreatedAt,
	}
}
