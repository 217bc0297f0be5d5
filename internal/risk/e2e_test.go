package risk_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/audit"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker/fake"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/config"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/monitor"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/risk"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// lifecycleBars builds a window whose confirmed swing low sits at 248.00.
func lifecycleBars() []types.PriceBar {
	lows := []string{"249.40", "248.90", "248.00", "248.70", "249.30", "249.90", "250.05", "250.15"}
	start := time.Now().Add(-time.Duration(len(lows)) * 5 * time.Minute)
	bars := make([]types.PriceBar, len(lows))
	for i, l := range lows {
		low := decimal.RequireFromString(l)
		bars[i] = types.PriceBar{
			Symbol:    "TSLA",
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      low.Add(decimal.RequireFromString("0.40")),
			High:      low.Add(decimal.RequireFromString("1.20")),
			Low:       low,
			Close:     low.Add(decimal.RequireFromString("0.60")),
			Volume:    decimal.NewFromInt(25000),
		}
	}
	return bars
}

// TestPositionLifecycle walks a position from bar window to closure: plan
// against the detected swing low, place all three orders, move the stop to
// breakeven at the halfway mark, then close out on the target fill.
func TestPositionLifecycle(t *testing.T) {
	ctx := context.Background()
	gateway := fake.NewGateway()
	accounts := fake.NewAccountProvider()

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.NewWriter(auditPath)
	require.NoError(t, err)
	defer auditLog.Close()

	m := risk.NewManager(config.Default(), gateway, accounts, auditLog, nil)

	// Plan: $100k balance at 1% risk, swing stop 248.00 under a 250.30
	// entry, 2:1 reward target.
	plan, correlationID, err := m.CalculatePositionWithStop(ctx, risk.CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: decimal.RequireFromString("250.30"),
		TargetRR:   decimal.NewFromInt(2),
		Balance:    decimal.NewFromInt(100000),
		Bars:       lifecycleBars(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	assert.Equal(t, int64(434), plan.Quantity)
	assert.True(t, plan.RiskAmount.Equal(decimal.NewFromInt(1000)), "risk amount %s", plan.RiskAmount)
	assert.True(t, plan.StopPrice.Equal(decimal.RequireFromString("248.00")))
	assert.True(t, plan.TargetPrice.Equal(decimal.RequireFromString("254.90")))
	assert.Equal(t, types.StopSourceDetected, plan.StopSource)
	assert.InDelta(t, 2.0, plan.RewardRatio, 0.01)

	// Place: entry plus protective stop/target pair.
	env, err := m.PlaceTradeWithRiskManagement(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, risk.StatusPending, env.Status)
	initialStopID := env.StopOrderID

	// Price reaches halfway to target: stop moves to breakeven.
	adjusted, err := m.AdjustStopIfNeeded(ctx, env, decimal.RequireFromString("252.60"), nil)
	require.NoError(t, err)
	require.True(t, adjusted)
	assert.True(t, env.CurrentStop().Equal(decimal.RequireFromString("250.30")))
	assert.NotEqual(t, initialStopID, env.StopOrderID)
	assert.Equal(t, 1, gateway.CancelCallsFor(initialStopID))

	// Target fills: monitor cancels the stop and closes the position.
	gateway.SetStatus(env.TargetOrderID, types.OrderStateFilled, 434, decimal.RequireFromString("254.90"))
	mon := monitor.New(gateway, accounts, auditLog, nil)
	closed, err := mon.PollAndHandleFills(ctx, env)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, risk.StatusClosed, env.Status)
	assert.Equal(t, 1, gateway.CancelCallsFor(env.StopOrderID))

	assert.Equal(t, []broker.CacheKey{broker.CacheKeyBuyingPower, broker.CacheKeyPositions}, accounts.Invalidations())

	// Audit trail spans the whole lifecycle in order.
	records, err := audit.ReadAll(auditPath)
	require.NoError(t, err)
	var actions []string
	for _, r := range records {
		actions = append(actions, r["action"])
	}
	assert.Equal(t, []string{"position_plan_created", "orders_placed", "stop_adjusted", "target_hit"}, actions)

	// Placement, adjustment, and closure share the envelope's correlation
	// id; the plan line carries its own.
	for _, r := range records[1:] {
		assert.Equal(t, env.CorrelationID, r["correlation_id"])
	}
	assert.Equal(t, correlationID, records[0]["correlation_id"])
}

// TestPositionLifecycle_FallbackStop verifies the lifecycle still works when
// no swing low confirms and the percentage fallback stop is used.
func TestPositionLifecycle_FallbackStop(t *testing.T) {
	ctx := context.Background()
	gateway := fake.NewGateway()
	accounts := fake.NewAccountProvider()
	m := risk.NewManager(config.Default(), gateway, accounts, nil, nil)

	// Strictly rising lows: no candidate swing anywhere.
	lows := []string{"248.00", "248.50", "249.00", "249.50", "250.00", "250.20"}
	start := time.Now().Add(-time.Duration(len(lows)) * time.Minute)
	bars := make([]types.PriceBar, len(lows))
	for i, l := range lows {
		low := decimal.RequireFromString(l)
		bars[i] = types.PriceBar{
			Symbol:    "TSLA",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      low.Add(decimal.RequireFromString("0.30")),
			High:      low.Add(decimal.RequireFromString("0.90")),
			Low:       low,
			Close:     low.Add(decimal.RequireFromString("0.50")),
			Volume:    decimal.NewFromInt(5000),
		}
	}

	plan, _, err := m.CalculatePositionWithStop(ctx, risk.CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: decimal.RequireFromString("250.30"),
		TargetRR:   decimal.NewFromInt(2),
		Balance:    decimal.NewFromInt(100000),
		Bars:       bars,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StopSourceDefault, plan.StopSource)

	// Default 2% fallback: 250.30 * 0.98 = 245.294.
	assert.True(t, plan.StopPrice.Equal(decimal.RequireFromString("245.294")), "stop %s", plan.StopPrice)

	env, err := m.PlaceTradeWithRiskManagement(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, risk.StatusPending, env.Status)
}
