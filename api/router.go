package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/order"
	"marketflow/payment"
)

// Services bundles everything the router exposes.
type Services struct {
	Auth     *auth.Service
	Orders   *order.Service
	Escrow   *escrow.Service
	Disputes *dispute.Service
	Payments *payment.Service
}

// NewRouter assembles the HTTP surface: public auth routes, then
// JWT-guarded order, escrow, and dispute routes with role checks matching
// each operation's authorization rules.
func NewRouter(svcs Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ah := &authHandler{svc: svcs.Auth}
	oh := &orderHandler{orders: svcs.Orders, payments: svcs.Payments}
	eh := &escrowHandler{svc: svcs.Escrow}
	dh := &disputeHandler{svc: svcs.Disputes}

	v1 := r.Group("/api")

	v1.POST("/auth/register", ah.register)
	v1.POST("/auth/login", ah.login)

	authed := v1.Group("", Authenticate(svcs.Auth))

	orders := authed.Group("/orders")
	orders.GET("", oh.list)
	orders.POST("", RequireRoles(auth.RoleBuyer), oh.create)
	orders.GET("/:id", oh.get)
	orders.PATCH("/:id/status", RequireRoles(auth.RoleSupplier), oh.updateStatus)
	orders.PATCH("/:id/cancel", RequireRoles(auth.RoleBuyer, auth.RoleAdmin), oh.cancel)
	orders.POST("/:id/payment/order", RequireRoles(auth.RoleBuyer), oh.createPaymentIntent)
	orders.POST("/:id/payment/verify", RequireRoles(auth.RoleBuyer), oh.verifyPayment)

	// The webhook body is unsigned, so the route is not open to the world.
	authed.POST("/payments/webhook", RequireRoles(auth.RoleAdmin), oh.paymentWebhook)

	authed.POST("/escrow/:orderId/release", RequireRoles(auth.RoleAdmin), eh.release)

	disputes := authed.Group("/disputes")
	disputes.GET("", RequireRoles(auth.RoleAdmin), dh.list)
	disputes.POST("", dh.create)
	disputes.PATCH("/:id/resolve", RequireRoles(auth.RoleAdmin), dh.resolve)

	return r
}
