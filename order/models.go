package order

import (
	"time"

	"marketflow/assign"
	"marketflow/auth"
)

// Status is the order delivery lifecycle.
//
// StatusPlaced is a legal enum value that no current flow produces: creation
// assigns a supplier immediately and starts at StatusAssigned. It is kept so
// stored data and the database enum stay compatible with a possible
// pre-confirmation step; do not add transitions through it without a product
// decision.
type Status string

const (
	StatusPlaced     Status = "placed"
	StatusAssigned   Status = "assigned"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks money state independently of delivery state.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// validTransitions is the full delivery state machine. Cancellation is not
// listed here because it has its own authorization and side effects; see
// Service.Cancel.
var validTransitions = map[Status][]Status{
	StatusAssigned:   {StatusDispatched},
	StatusDispatched: {StatusDelivered},
	StatusDelivered:  {},
}

func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is one ordered line with the unit price frozen at order time.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

// Order represents one buyer to supplier transaction.
type Order struct {
	ID               string
	BuyerID          string
	SupplierID       string
	Items            []Item
	TotalAmount      float64
	Status           Status
	PaymentStatus    PaymentStatus
	City             string
	HasDispute       bool
	DeliveredAt      *time.Time
	GatewayOrderID   *string
	GatewayPaymentID *string
	PaidAt           *time.Time
	Audit            *assign.Audit
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Actor identifies who is attempting an operation.
type Actor struct {
	ID   string
	Role auth.Role
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == auth.RoleAdmin
}

// OwnsAsBuyer reports whether the actor is the buying side of the order.
func (a Actor) OwnsAsBuyer(o Order) bool {
	return a.Role == auth.RoleBuyer && a.ID == o.BuyerID
}

// OwnsAsSupplier reports whether the actor is the supplying side of the order.
func (a Actor) OwnsAsSupplier(o Order) bool {
	return a.Role == auth.RoleSupplier && a.ID == o.SupplierID
}

// CanView reports whether the actor may read the order at all.
func (a Actor) CanView(o Order) bool {
	return a.IsAdmin() || a.ID == o.BuyerID || a.ID == o.SupplierID
}

// Filters narrows order listings. Buyers and suppliers are scoped to their
// own orders regardless of these values; admin listings are unscoped.
type Filters struct {
	Status        Status
	PaymentStatus PaymentStatus
	City          string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}
