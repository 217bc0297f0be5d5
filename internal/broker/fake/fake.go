// Package fake provides scriptable in-memory implementations of the broker
// ports for tests and the demo binary.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker"
	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// Call records one gateway invocation for assertions.
type Call struct {
	Method   string
	OrderID  string
	Symbol   string
	Side     types.OrderSide
	Quantity int64
	Price    decimal.Decimal
}

// Gateway is a scriptable OrderGateway. Failures are queued per side with
// FailPlacements; statuses are set per order id with SetStatus. All calls
// are recorded.
type Gateway struct {
	mu sync.Mutex

	nextID        int
	calls         []Call
	failures      map[types.OrderSide]int
	failRetryable bool
	cancelErr     error
	statuses      map[string]*broker.OrderStatusReport
	orders        map[string]*broker.OrderEnvelope
}

// NewGateway creates an empty fake gateway.
func NewGateway() *Gateway {
	return &Gateway{
		failures:      make(map[types.OrderSide]int),
		failRetryable: true,
		statuses:      make(map[string]*broker.OrderStatusReport),
		orders:        make(map[string]*broker.OrderEnvelope),
	}
}

// FailPlacements scripts the next n placements on the given side to fail.
func (g *Gateway) FailPlacements(side types.OrderSide, n int, retryable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[side] = n
	g.failRetryable = retryable
}

// FailCancels scripts cancel calls to fail with err.
func (g *Gateway) FailCancels(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelErr = err
}

// SetStatus scripts the status report returned for an order id.
func (g *Gateway) SetStatus(orderID string, state types.OrderState, filledQty int64, avgPrice decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderID] = &broker.OrderStatusReport{
		OrderID:        orderID,
		State:          state,
		FilledQuantity: filledQty,
		AvgFillPrice:   avgPrice,
	}
}

// PlaceLimitOrder implements broker.OrderGateway.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity int64, price decimal.Decimal) (*broker.OrderEnvelope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{
		Method:   "PlaceLimitOrder",
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
	})

	if g.failures[side] > 0 {
		g.failures[side]--
		return nil, riskerrors.NewPlacementError(symbol, string(side), price,
			"broker rejected order submission", fmt.Errorf("simulated broker failure"), g.failRetryable)
	}

	g.nextID++
	order := &broker.OrderEnvelope{
		OrderID:   fmt.Sprintf("order-%d", g.nextID),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		State:     types.OrderStateOpen,
		CreatedAt: time.Now().UTC(),
	}
	g.orders[order.OrderID] = order
	g.statuses[order.OrderID] = &broker.OrderStatusReport{
		OrderID: order.OrderID,
		State:   types.OrderStateOpen,
	}
	return order, nil
}

// CancelOrder implements broker.OrderGateway.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{Method: "CancelOrder", OrderID: orderID})
	if g.cancelErr != nil {
		return g.cancelErr
	}
	if st, ok := g.statuses[orderID]; ok {
		st.State = types.OrderStateCancelled
	}
	return nil
}

// GetOrderStatus implements broker.OrderGateway.
func (g *Gateway) GetOrderStatus(ctx context.Context, orderID string) (*broker.OrderStatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{Method: "GetOrderStatus", OrderID: orderID})
	st, ok := g.statuses[orderID]
	if !ok {
		return nil, riskerrors.NewStatusError(orderID, "order not found", nil)
	}
	report := *st
	return &report, nil
}

// Calls returns a copy of the recorded calls.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CancelCallsFor counts cancel calls recorded for an order id.
func (g *Gateway) CancelCallsFor(orderID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Method == "CancelOrder" && c.OrderID == orderID {
			n++
		}
	}
	return n
}

// AccountProvider is a fake broker.AccountProvider recording invalidations.
type AccountProvider struct {
	mu            sync.Mutex
	invalidations []broker.CacheKey
}

// NewAccountProvider creates an empty fake account provider.
func NewAccountProvider() *AccountProvider {
	return &AccountProvider{}
}

// InvalidateCache implements broker.AccountProvider.
func (a *AccountProvider) InvalidateCache(key broker.CacheKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidations = append(a.invalidations, key)
}

// Invalidations returns a copy of the recorded cache invalidations.
func (a *AccountProvider) Invalidations() []broker.CacheKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]broker.CacheKey, len(a.invalidations))
	copy(out, a.invalidations)
	return out
}
