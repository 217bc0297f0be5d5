package adjust

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/config"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// Adjustment rule names, used as the metric label for applied adjustments.
const (
	RuleATRRecalc = "atr_recalc"
	RuleBreakeven = "breakeven"
)

// Adjustment is a proposed stop replacement. Rule is the stable rule name;
// Reason is the human-readable audit line.
type Adjustment struct {
	NewStop decimal.Decimal
	Rule    string
	Reason  string
}

// Adjuster decides whether a live position's stop should move. Rules are
// evaluated first-match-wins; a stop only ever widens protection, it never
// tightens below the original risk.
type Adjuster struct{}

// New creates a stop adjuster.
func New() *Adjuster {
	return &Adjuster{}
}

// CalculateAdjustment evaluates the adjustment rules in order:
//  1. ATR recalculation, for ATR-sourced plans when the current ATR has
//     drifted past the recalc threshold from the plan's implied initial ATR.
//  2. Breakeven trailing, once price progress toward the target reaches the
//     configured threshold.
//
// Returns (nil, false) when no rule matches.
func (a *Adjuster) CalculateAdjustment(currentPrice decimal.Decimal, plan *types.PositionPlan, cfg *config.Config, currentATR *decimal.Decimal) (*Adjustment, bool) {
	if adj := a.atrRecalc(currentPrice, plan, cfg, currentATR); adj != nil {
		return adj, true
	}
	if adj := a.breakeven(currentPrice, plan, cfg); adj != nil {
		return adj, true
	}
	return nil, false
}

func (a *Adjuster) atrRecalc(currentPrice decimal.Decimal, plan *types.PositionPlan, cfg *config.Config, currentATR *decimal.Decimal) *Adjustment {
	if currentATR == nil || !cfg.ATREnabled || plan.StopSource != types.StopSourceATR {
		return nil
	}
	multiplier := decimal.NewFromFloat(cfg.ATRMultiplier)
	if !multiplier.IsPositive() {
		return nil
	}

	initialATR := plan.EntryPrice.Sub(plan.StopPrice).Div(multiplier)
	if !initialATR.IsPositive() {
		return nil
	}

	drift := currentATR.Sub(initialATR).Abs().Div(initialATR)
	threshold := decimal.NewFromFloat(cfg.ATRRecalcThreshold)
	if drift.LessThan(threshold) {
		return nil
	}

	newStop := currentPrice.Sub(currentATR.Mul(multiplier)).Round(2)
	return &Adjustment{
		NewStop: newStop,
		Rule:    RuleATRRecalc,
		Reason: fmt.Sprintf("stop recalculated from ATR change: initial ATR %s, current ATR %s",
			initialATR.Round(2), currentATR.Round(2)),
	}
}

func (a *Adjuster) breakeven(currentPrice decimal.Decimal, plan *types.PositionPlan, cfg *config.Config) *Adjustment {
	if !cfg.TrailingEnabled {
		return nil
	}
	span := plan.TargetPrice.Sub(plan.EntryPrice)
	if !span.IsPositive() {
		return nil
	}

	progress := currentPrice.Sub(plan.EntryPrice).Div(span)
	threshold := decimal.NewFromFloat(cfg.TrailingBreakevenThreshold)
	if progress.LessThan(threshold) {
		return nil
	}

	return &Adjustment{
		NewStop: plan.EntryPrice,
		Rule:    RuleBreakeven,
		Reason: fmt.Sprintf("moved to breakeven - price reached %s%% of target",
			threshold.Mul(decimal.NewFromInt(100)).String()),
	}
}
