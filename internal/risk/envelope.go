package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// Status is a live position's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

// StopAdjustment is one entry in an envelope's stop-change history.
type StopAdjustment struct {
	Timestamp time.Time
	OldStop   decimal.Decimal
	NewStop   decimal.Decimal
	Reason    string
}

// Envelope is the mutable runtime record of a live position's order
// lifecycle. The plan it references is read-only after creation; the
// envelope owns the order ids and the append-only adjustment history.
// Envelopes are never deleted; the terminal state is StatusClosed.
type Envelope struct {
	Plan          *types.PositionPlan
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	Status        Status
	CorrelationID string
	Adjustments   []StopAdjustment
	CreatedAt     time.Time
}

// CurrentStop returns the live stop price: the latest adjustment if any,
// otherwise the plan's original stop.
func (e *Envelope) CurrentStop() decimal.Decimal {
	if n := len(e.Adjustments); n > 0 {
		return e.Adjustments[n-1].NewStop
	}
	return e.Plan.StopPrice
}

// Closed reports whether the position has reached its terminal state.
func (e *Envelope) Closed() bool {
	return e.Status == StatusClosed
}
