package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// OrderEnvelope is the broker's acknowledgement of a submitted order.
type OrderEnvelope struct {
	OrderID   string
	Symbol    string
	Side      types.OrderSide
	Quantity  int64
	Price     decimal.Decimal
	State     types.OrderState
	CreatedAt time.Time
}

// OrderStatusReport is a point-in-time order status snapshot.
type OrderStatusReport struct {
	OrderID        string
	State          types.OrderState
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
}

// OrderGateway is the order-submission port. Submission failures surface as
// *errors.PlacementError; transient ones are marked retryable and drive the
// retry policy and circuit breaker.
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity int64, price decimal.Decimal) (*OrderEnvelope, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusReport, error)
}

// CacheKey identifies an account-data cache to invalidate.
type CacheKey string

const (
	CacheKeyBuyingPower CacheKey = "buying_power"
	CacheKeyPositions   CacheKey = "positions"
)

// AccountProvider is the account-data port. The engine only needs cache
// invalidation after cancellations and closures.
type AccountProvider interface {
	InvalidateCache(key CacheKey)
}
