package escrow

import "time"

// Status tracks where the buyer's money sits.
type Status string

const (
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// Escrow holds the funds of exactly one order until settlement.
type Escrow struct {
	ID         string
	OrderID    string
	Amount     float64
	Commission float64
	Status     Status
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// Payout is what the supplier receives on release.
func (e Escrow) Payout() float64 {
	return e.Amount - e.Commission
}

// SweepResult summarizes one auto-release pass.
type SweepResult struct {
	Scanned  int
	Released int
	Failed   []SweepFailure
}

// SweepFailure records why one order could not be released without
// aborting the rest of the sweep.
type SweepFailure struct {
	OrderID string
	Reason  string
}
