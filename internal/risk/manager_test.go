package risk

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
	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fastRetry() broker.RetryPolicy {
	return broker.RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func testPlan() *types.PositionPlan {
	return &types.PositionPlan{
		Symbol:       "TSLA",
		EntryPrice:   dec("250.30"),
		StopPrice:    dec("248.00"),
		TargetPrice:  dec("254.90"),
		Quantity:     434,
		RiskAmount:   dec("1000"),
		RewardAmount: dec("1996.40"),
		RewardRatio:  1.9964,
		StopSource:   types.StopSourceDetected,
		CreatedAt:    time.Now().UTC(),
	}
}

func newTestManager(t *testing.T, gateway broker.OrderGateway, accounts broker.AccountProvider) *Manager {
	t.Helper()
	m := NewManager(config.Default(), gateway, accounts, nil, nil)
	m.SetRetryPolicy(fastRetry())
	return m
}

// TestPlaceTrade_Success verifies the happy path: entry then stop then
// target, envelope populated, pending status.
func TestPlaceTrade_Success(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, env.Status)
	assert.NotEmpty(t, env.CorrelationID)
	assert.NotEmpty(t, env.EntryOrderID)
	assert.NotEmpty(t, env.StopOrderID)
	assert.NotEmpty(t, env.TargetOrderID)
	assert.Empty(t, env.Adjustments)

	calls := gateway.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, types.OrderSideBuy, calls[0].Side)
	assert.Equal(t, types.OrderSideSell, calls[1].Side)
	assert.True(t, calls[1].Price.Equal(dec("248.00")))
	assert.Equal(t, types.OrderSideSell, calls[2].Side)
	assert.True(t, calls[2].Price.Equal(dec("254.90")))
}

// TestPlaceTrade_EntryFailurePropagates verifies an entry failure surfaces
// directly with nothing to compensate.
func TestPlaceTrade_EntryFailurePropagates(t *testing.T) {
	gateway := fake.NewGateway()
	gateway.FailPlacements(types.OrderSideBuy, 1, false)
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)

	for _, c := range gateway.Calls() {
		assert.NotEqual(t, "CancelOrder", c.Method)
	}
}

// TestPlaceTrade_StopFailureCancelsEntry verifies the entry-cancel
// guarantee: a stop-placement failure after retries results in exactly one
// cancel for the entry order id.
func TestPlaceTrade_StopFailureCancelsEntry(t *testing.T) {
	gateway := fake.NewGateway()
	gateway.FailPlacements(types.OrderSideSell, 10, true)
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.False(t, riskerrors.IsPlanning(err))

	var sells, buys int
	for _, c := range gateway.Calls() {
		switch {
		case c.Method == "PlaceLimitOrder" && c.Side == types.OrderSideBuy:
			buys++
		case c.Method == "PlaceLimitOrder" && c.Side == types.OrderSideSell:
			sells++
		}
	}
	assert.Equal(t, 1, buys)
	assert.Equal(t, 3, sells, "stop leg retried to the attempt budget")

	// order-1 is the entry, the only successful placement.
	assert.Equal(t, 1, gateway.CancelCallsFor("order-1"))
}

// TestPlaceTrade_NonRetryableStopFailure verifies non-retryable broker
// rejections skip the retry loop.
func TestPlaceTrade_NonRetryableStopFailure(t *testing.T) {
	gateway := fake.NewGateway()
	gateway.FailPlacements(types.OrderSideSell, 10, false)
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)

	sells := 0
	for _, c := range gateway.Calls() {
		if c.Method == "PlaceLimitOrder" && c.Side == types.OrderSideSell {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
	assert.Equal(t, 1, gateway.CancelCallsFor("order-1"))
}

// sellFailAfter lets the first n sells through, then fails the rest. Used
// to fail the target leg while the stop leg succeeds.
type sellFailAfter struct {
	*fake.Gateway
	allow int
	sells int
}

func (g *sellFailAfter) PlaceLimitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity int64, price decimal.Decimal) (*broker.OrderEnvelope, error) {
	if side == types.OrderSideSell {
		g.sells++
		if g.sells > g.allow {
			return nil, riskerrors.NewPlacementError(symbol, string(side), price, "broker unavailable", nil, false)
		}
	}
	return g.Gateway.PlaceLimitOrder(ctx, symbol, side, quantity, price)
}

// TestPlaceTrade_TargetFailureCancelsBothLegs verifies a target-leg failure
// cancels both the entry and the already-placed stop.
func TestPlaceTrade_TargetFailureCancelsBothLegs(t *testing.T) {
	inner := fake.NewGateway()
	gateway := &sellFailAfter{Gateway: inner, allow: 1}
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)

	assert.Equal(t, 1, inner.CancelCallsFor("order-1"), "entry cancelled")
	assert.Equal(t, 1, inner.CancelCallsFor("order-2"), "stop cancelled")
}

// TestPlaceTrade_CancelFailureDoesNotMaskError verifies a failing
// compensating cancel never hides the placement error.
func TestPlaceTrade_CancelFailureDoesNotMaskError(t *testing.T) {
	gateway := fake.NewGateway()
	gateway.FailPlacements(types.OrderSideSell, 10, false)
	gateway.FailCancels(riskerrors.NewStatusError("order-1", "cancel rejected", nil))
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)

	var pe *riskerrors.PlacementError
	assert.ErrorAs(t, err, &pe)
}

// TestPlaceTrade_CircuitBreakerEscalation verifies three consecutive
// placement failures after 97 successes trip the breaker: the third failure
// surfaces as a circuit-breaker error, and later placements are refused
// outright.
func TestPlaceTrade_CircuitBreakerEscalation(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	for i := 0; i < 97; i++ {
		m.Breaker().Record(true)
	}

	gateway.FailPlacements(types.OrderSideSell, 1000, false)

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.False(t, riskerrors.IsCircuitBreaker(err), "98 attempts: window not full yet")

	_, err = m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.False(t, riskerrors.IsCircuitBreaker(err), "99 attempts: window not full yet")

	_, err = m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.True(t, riskerrors.IsCircuitBreaker(err), "3%% over 100 attempts must escalate")

	// Once tripped, placement is refused before any order goes out.
	before := len(gateway.Calls())
	_, err = m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.True(t, riskerrors.IsCircuitBreaker(err))
	assert.Len(t, gateway.Calls(), before)
}

// TestPlaceTrade_TwoPercentDoesNotEscalate verifies 2 failures in 100
// attempts stays below the trip threshold.
func TestPlaceTrade_TwoPercentDoesNotEscalate(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	for i := 0; i < 98; i++ {
		m.Breaker().Record(true)
	}
	gateway.FailPlacements(types.OrderSideSell, 1000, false)

	_, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	_, err = m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.Error(t, err)
	assert.False(t, riskerrors.IsCircuitBreaker(err))
	assert.False(t, m.Breaker().Tripped())
}

func swingBars(symbol string) []types.PriceBar {
	lows := []string{"249.10", "248.80", "248.00", "248.60", "249.20", "249.80", "250.00", "250.10"}
	start := time.Now().Add(-time.Duration(len(lows)) * time.Minute)
	bars := make([]types.PriceBar, len(lows))
	for i, l := range lows {
		low := dec(l)
		bars[i] = types.PriceBar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      low.Add(dec("0.50")),
			High:      low.Add(dec("1.50")),
			Low:       low,
			Close:     low.Add(dec("0.75")),
			Volume:    decimal.NewFromInt(10000),
		}
	}
	return bars
}

// TestCalculatePositionWithStop verifies the pullback-to-plan flow and the
// audit line it writes.
func TestCalculatePositionWithStop(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.NewWriter(auditPath)
	require.NoError(t, err)
	defer auditLog.Close()

	m := NewManager(config.Default(), fake.NewGateway(), fake.NewAccountProvider(), auditLog, nil)

	plan, correlationID, err := m.CalculatePositionWithStop(context.Background(), CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: dec("250.30"),
		TargetRR:   decimal.NewFromInt(2),
		Balance:    dec("100000"),
		Bars:       swingBars("TSLA"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	assert.True(t, plan.StopPrice.Equal(dec("248.00")), "swing low used as stop, got %s", plan.StopPrice)
	assert.Equal(t, types.StopSourceDetected, plan.StopSource)
	assert.Equal(t, int64(434), plan.Quantity)
	assert.True(t, plan.TargetPrice.Equal(dec("254.90")))

	records, err := audit.ReadAll(auditPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "position_plan_created", records[0]["action"])
	assert.Equal(t, correlationID, records[0]["correlation_id"])
	assert.Equal(t, "248.00", records[0]["stop_price"])
}

// flatBars builds n identical fresh bars with a constant 1.50 true range.
func flatBars(n int) []types.PriceBar {
	start := time.Now().Add(-time.Duration(n) * time.Minute)
	bars := make([]types.PriceBar, n)
	for i := range bars {
		bars[i] = types.PriceBar{
			Symbol:    "TSLA",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      dec("250.00"),
			High:      dec("250.80"),
			Low:       dec("249.30"),
			Close:     dec("250.10"),
			Volume:    decimal.NewFromInt(10000),
		}
	}
	return bars
}

// TestCalculatePositionWithATRStop verifies the volatility-based stop path:
// a constant 1.50 true range at a 2x multiplier puts the stop 3.00 under
// entry, and the plan is tagged with the ATR source.
func TestCalculatePositionWithATRStop(t *testing.T) {
	m := NewManager(config.Default(), fake.NewGateway(), fake.NewAccountProvider(), nil, nil)

	plan, correlationID, err := m.CalculatePositionWithATRStop(context.Background(), CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: dec("250.30"),
		TargetRR:   decimal.NewFromInt(2),
		Balance:    dec("100000"),
		Bars:       flatBars(20),
	})
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	assert.True(t, plan.StopPrice.Equal(dec("247.30")), "stop %s", plan.StopPrice)
	assert.Equal(t, types.StopSourceATR, plan.StopSource)
	// risk/share 3.00 against a $1000 budget
	assert.Equal(t, int64(333), plan.Quantity)
	assert.True(t, plan.TargetPrice.Equal(dec("256.30")))
}

// TestCalculatePositionWithATRStop_StaleBarsRejected verifies freshness
// validation runs before any ATR math.
func TestCalculatePositionWithATRStop_StaleBarsRejected(t *testing.T) {
	m := NewManager(config.Default(), fake.NewGateway(), fake.NewAccountProvider(), nil, nil)

	bars := flatBars(20)
	for i := range bars {
		bars[i].Timestamp = bars[i].Timestamp.Add(-2 * time.Hour)
	}

	_, _, err := m.CalculatePositionWithATRStop(context.Background(), CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: dec("250.30"),
		TargetRR:   decimal.NewFromInt(2),
		Balance:    dec("100000"),
		Bars:       bars,
	})
	require.Error(t, err)
	kind, ok := riskerrors.PlanningKindOf(err)
	require.True(t, ok)
	assert.Equal(t, riskerrors.KindStaleData, kind)
}

// TestCalculatePositionWithStop_RejectionAudited verifies rejected plans
// stay traceable by correlation id.
func TestCalculatePositionWithStop_RejectionAudited(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.NewWriter(auditPath)
	require.NoError(t, err)
	defer auditLog.Close()

	m := NewManager(config.Default(), fake.NewGateway(), fake.NewAccountProvider(), auditLog, nil)

	// Ratio below minimum: rejected before sizing.
	_, correlationID, err := m.CalculatePositionWithStop(context.Background(), CalculateRequest{
		Symbol:     "TSLA",
		EntryPrice: dec("250.30"),
		TargetRR:   dec("1.5"),
		Balance:    dec("100000"),
		Bars:       swingBars("TSLA"),
	})
	require.Error(t, err)
	assert.True(t, riskerrors.IsPlanning(err))

	records, readErr := audit.ReadAll(auditPath)
	require.NoError(t, readErr)
	require.Len(t, records, 1)
	assert.Equal(t, "position_plan_rejected", records[0]["action"])
	assert.Equal(t, correlationID, records[0]["correlation_id"])
}

// TestAdjustStopIfNeeded_Breakeven verifies the stop replacement flow: old
// stop cancelled, new order id swapped in, adjustment recorded.
func TestAdjustStopIfNeeded_Breakeven(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)
	oldStopID := env.StopOrderID

	adjusted, err := m.AdjustStopIfNeeded(context.Background(), env, dec("252.60"), nil)
	require.NoError(t, err)
	require.True(t, adjusted)

	assert.NotEqual(t, oldStopID, env.StopOrderID)
	assert.Equal(t, 1, gateway.CancelCallsFor(oldStopID))
	require.Len(t, env.Adjustments, 1)
	assert.True(t, env.Adjustments[0].OldStop.Equal(dec("248.00")))
	assert.True(t, env.Adjustments[0].NewStop.Equal(dec("250.30")))
	assert.True(t, env.CurrentStop().Equal(dec("250.30")))

	// Same price again: breakeven already applied, no second replacement.
	adjusted, err = m.AdjustStopIfNeeded(context.Background(), env, dec("252.60"), nil)
	require.NoError(t, err)
	assert.False(t, adjusted)
}

// TestAdjustStopIfNeeded_ReplacementFailureRestoresStop verifies the
// compensation path: when the replacement stop cannot be placed after the
// old one was cancelled, the original stop is re-placed so the position
// keeps a protective leg.
func TestAdjustStopIfNeeded_ReplacementFailureRestoresStop(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)
	oldStopID := env.StopOrderID

	// Fail only the replacement attempt; the restore placement goes through.
	gateway.FailPlacements(types.OrderSideSell, 1, false)

	adjusted, err := m.AdjustStopIfNeeded(context.Background(), env, dec("252.60"), nil)
	require.Error(t, err)
	assert.False(t, adjusted)

	var pe *riskerrors.PlacementError
	assert.ErrorAs(t, err, &pe)

	assert.Equal(t, 1, gateway.CancelCallsFor(oldStopID))
	assert.NotEqual(t, oldStopID, env.StopOrderID, "envelope must reference the restored order")
	assert.Empty(t, env.Adjustments)
	assert.True(t, env.CurrentStop().Equal(dec("248.00")), "stop level unchanged after restore")

	calls := gateway.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "PlaceLimitOrder", last.Method)
	assert.True(t, last.Price.Equal(dec("248.00")), "restore re-placed at the original stop, got %s", last.Price)
}

// TestAdjustStopIfNeeded_RestoreFailureAudited verifies the worst case is
// recorded: replacement and restore both fail, leaving no live stop leg.
func TestAdjustStopIfNeeded_RestoreFailureAudited(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.NewWriter(auditPath)
	require.NoError(t, err)
	defer auditLog.Close()

	inner := fake.NewGateway()
	gateway := &sellFailAfter{Gateway: inner, allow: 2}
	m := NewManager(config.Default(), gateway, fake.NewAccountProvider(), auditLog, nil)
	m.SetRetryPolicy(fastRetry())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)
	oldStopID := env.StopOrderID

	adjusted, err := m.AdjustStopIfNeeded(context.Background(), env, dec("252.60"), nil)
	require.Error(t, err)
	assert.False(t, adjusted)

	records, readErr := audit.ReadAll(auditPath)
	require.NoError(t, readErr)
	last := records[len(records)-1]
	assert.Equal(t, "stop_adjustment_failed", last["action"])
	assert.Equal(t, "false", last["protection_restored"])
	assert.Equal(t, oldStopID, last["stop_order_id"])
}

// TestAdjustStopIfNeeded_NoProgressNoOp verifies no adjustment below the
// progress threshold.
func TestAdjustStopIfNeeded_NoProgressNoOp(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)

	adjusted, err := m.AdjustStopIfNeeded(context.Background(), env, dec("251.00"), nil)
	require.NoError(t, err)
	assert.False(t, adjusted)
	assert.Empty(t, env.Adjustments)
}

// TestAdjustStopIfNeeded_ClosedEnvelopeNoOp verifies closed positions are
// never adjusted.
func TestAdjustStopIfNeeded_ClosedEnvelopeNoOp(t *testing.T) {
	gateway := fake.NewGateway()
	m := newTestManager(t, gateway, fake.NewAccountProvider())

	env, err := m.PlaceTradeWithRiskManagement(context.Background(), testPlan())
	require.NoError(t, err)
	env.Status = StatusClosed

	adjusted, err := m.AdjustStopIfNeeded(context.Background(), env, dec("254.00"), nil)
	require.NoError(t, err)
	assert.False(t, adjusted)
}
