package dispute

import "time"

// Status tracks a dispute through review.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
)

func validStatus(s Status) bool {
	switch s {
	case StatusUnderReview, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// terminal reports whether the dispute no longer blocks settlement.
func terminal(s Status) bool {
	return s == StatusResolved || s == StatusRejected
}

// ResolutionRefund is the resolution value that refunds the buyer.
const ResolutionRefund = "refund"

// Dispute is a buyer or supplier complaint that freezes escrow release
// until an admin rules on it.
type Dispute struct {
	ID          string
	OrderID     string
	RaisedBy    string
	Reason      string
	Description string
	Status      Status
	Resolution  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
