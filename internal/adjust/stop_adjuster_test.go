package adjust

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/config"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func longPlan() *types.PositionPlan {
	return &types.PositionPlan{
		Symbol:      "TSLA",
		EntryPrice:  dec("250.30"),
		StopPrice:   dec("248.00"),
		TargetPrice: dec("254.90"),
		Quantity:    434,
		StopSource:  types.StopSourceDetected,
	}
}

// TestCalculateAdjustment_BreakevenAtThreshold verifies progress of exactly
// 50% triggers the breakeven move.
func TestCalculateAdjustment_BreakevenAtThreshold(t *testing.T) {
	cfg := config.Default()

	// (252.60 - 250.30) / (254.90 - 250.30) = 0.5 exactly
	adj, ok := New().CalculateAdjustment(dec("252.60"), longPlan(), cfg, nil)

	require.True(t, ok)
	assert.True(t, adj.NewStop.Equal(dec("250.30")), "got %s", adj.NewStop)
	assert.Contains(t, adj.Reason, "breakeven")
	assert.Contains(t, adj.Reason, "50%")
}

// TestCalculateAdjustment_BelowThresholdNoOp verifies 49% progress does not
// trigger.
func TestCalculateAdjustment_BelowThresholdNoOp(t *testing.T) {
	cfg := config.Default()

	// progress = 0.49: 250.30 + 4.60*0.49 = 252.554
	_, ok := New().CalculateAdjustment(dec("252.554"), longPlan(), cfg, nil)
	assert.False(t, ok)
}

// TestCalculateAdjustment_TrailingDisabled verifies the breakeven rule is
// gated on configuration.
func TestCalculateAdjustment_TrailingDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.TrailingEnabled = false

	_, ok := New().CalculateAdjustment(dec("254.00"), longPlan(), cfg, nil)
	assert.False(t, ok)
}

func atrPlan() *types.PositionPlan {
	// Implied initial ATR = (100 - 97) / 2.0 = 1.50
	return &types.PositionPlan{
		Symbol:      "SPY",
		EntryPrice:  dec("100"),
		StopPrice:   dec("97"),
		TargetPrice: dec("106"),
		Quantity:    100,
		StopSource:  types.StopSourceATR,
	}
}

// TestCalculateAdjustment_ATRRecalc verifies an ATR drift at or beyond the
// threshold re-bases the stop on current volatility.
func TestCalculateAdjustment_ATRRecalc(t *testing.T) {
	cfg := config.Default()
	cfg.ATREnabled = true
	cfg.ATRMultiplier = 2.0
	cfg.ATRRecalcThreshold = 0.2

	// |1.80 - 1.50| / 1.50 = 0.2, exactly at the threshold
	currentATR := dec("1.80")
	adj, ok := New().CalculateAdjustment(dec("101"), atrPlan(), cfg, &currentATR)

	require.True(t, ok)
	// 101 - 1.80*2 = 97.40
	assert.True(t, adj.NewStop.Equal(dec("97.40")), "got %s", adj.NewStop)
	assert.Contains(t, adj.Reason, "1.5")
	assert.Contains(t, adj.Reason, "1.8")
}

// TestCalculateAdjustment_ATRDriftBelowThreshold verifies small drift falls
// through to the breakeven rule.
func TestCalculateAdjustment_ATRDriftBelowThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.ATREnabled = true
	cfg.ATRMultiplier = 2.0

	// drift 10% < 20%: ATR rule skipped; price below breakeven progress too.
	currentATR := dec("1.65")
	_, ok := New().CalculateAdjustment(dec("101"), atrPlan(), cfg, &currentATR)
	assert.False(t, ok)
}

// TestCalculateAdjustment_ATRRequiresATRSource verifies the ATR rule only
// applies to ATR-sourced plans.
func TestCalculateAdjustment_ATRRequiresATRSource(t *testing.T) {
	cfg := config.Default()
	cfg.ATREnabled = true

	plan := atrPlan()
	plan.StopSource = types.StopSourceDetected

	currentATR := dec("3.00")
	_, ok := New().CalculateAdjustment(dec("101"), plan, cfg, &currentATR)
	assert.False(t, ok)
}

// TestCalculateAdjustment_ATRWinsOverBreakeven verifies rule precedence:
// when both rules would fire, only the ATR recalculation applies.
func TestCalculateAdjustment_ATRWinsOverBreakeven(t *testing.T) {
	cfg := config.Default()
	cfg.ATREnabled = true
	cfg.ATRMultiplier = 2.0

	// Price at 103: progress (103-100)/6 = 0.5, breakeven would fire.
	currentATR := dec("1.00")
	adj, ok := New().CalculateAdjustment(dec("103"), atrPlan(), cfg, &currentATR)

	require.True(t, ok)
	// ATR rule result: 103 - 1.00*2 = 101, not the entry price.
	assert.True(t, adj.NewStop.Equal(dec("101")), "got %s", adj.NewStop)
}
