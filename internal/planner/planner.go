package planner

import (
	"time"

	"github.com/shopspring/decimal"

	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// Stop-distance gate. A distance of exactly 0.5% is accepted as a special
// case; the (0.5, 0.7) band is rejected as too tight, and anything beyond
// 10% is rejected as too wide. Note the ATR engine keeps its own
// independently configured bounds.
var (
	stopDistanceExact = decimal.RequireFromString("0.5")
	stopDistanceMin   = decimal.RequireFromString("0.7")
	stopDistanceMax   = decimal.RequireFromString("10.0")

	oneHundred = decimal.NewFromInt(100)
)

// PlanRequest carries the inputs for a position plan calculation.
type PlanRequest struct {
	Symbol         string
	EntryPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	TargetRR       decimal.Decimal
	AccountBalance decimal.Decimal
	RiskPct        decimal.Decimal
	MinRiskReward  decimal.Decimal
	StopSource     types.StopSource
	PullbackPrice  *decimal.Decimal
	ATRData        *types.ATRStopData
}

// Planner computes risk-based position plans. Pure calculation, no I/O.
type Planner struct{}

// New creates a position planner.
func New() *Planner {
	return &Planner{}
}

// CalculatePlan validates the request and derives share quantity, dollar
// risk, target price and realized reward ratio. Validation is fail-fast:
// ratio first, then stop direction, then stop distance.
func (p *Planner) CalculatePlan(req PlanRequest) (*types.PositionPlan, error) {
	minRR := req.MinRiskReward
	if minRR.IsZero() {
		minRR = decimal.NewFromInt(2)
	}

	if req.TargetRR.LessThan(minRR) {
		return nil, riskerrors.NewRiskRewardTooLow(req.TargetRR, minRR)
	}
	if req.StopPrice.GreaterThanOrEqual(req.EntryPrice) {
		return nil, riskerrors.NewStopDirection(req.StopPrice, req.EntryPrice)
	}
	if err := validateStopDistance(req.EntryPrice, req.StopPrice); err != nil {
		return nil, err
	}

	riskPerShare := req.EntryPrice.Sub(req.StopPrice)
	riskAmount := req.AccountBalance.Mul(req.RiskPct).Div(oneHundred)

	// Integer truncation, never rounding up: the share count must not push
	// realized risk past the budget.
	quantity := riskAmount.Div(riskPerShare).Floor().IntPart()
	if quantity < 0 {
		quantity = 0
	}

	targetPrice := req.EntryPrice.Add(riskPerShare.Mul(req.TargetRR))
	rewardAmount := decimal.NewFromInt(quantity).Mul(targetPrice.Sub(req.EntryPrice))

	rewardRatio := 0.0
	if !riskAmount.IsZero() {
		rewardRatio, _ = rewardAmount.Div(riskAmount).Float64()
	}

	source := req.StopSource
	if source == "" {
		source = types.StopSourceManual
	}
	if req.ATRData != nil {
		source = types.StopSourceATR
	}

	return &types.PositionPlan{
		Symbol:        req.Symbol,
		EntryPrice:    req.EntryPrice,
		StopPrice:     req.StopPrice,
		TargetPrice:   targetPrice,
		Quantity:      quantity,
		RiskAmount:    riskAmount,
		RewardAmount:  rewardAmount,
		RewardRatio:   rewardRatio,
		StopSource:    source,
		PullbackPrice: req.PullbackPrice,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// validateStopDistance applies the distance gate on
// pct = (entry - stop) / entry * 100.
func validateStopDistance(entry, stop decimal.Decimal) error {
	if entry.IsZero() {
		return riskerrors.NewInvalidPriceData("", 0, "entry price is zero")
	}
	pct := entry.Sub(stop).Div(entry).Mul(oneHundred)

	if pct.Equal(stopDistanceExact) {
		return nil
	}
	if pct.LessThan(stopDistanceMin) {
		return riskerrors.NewStopDistance(pct, stopDistanceMin,
			"stop distance "+pct.StringFixed(4)+"% too tight, minimum "+stopDistanceMin.String()+"% (or exactly "+stopDistanceExact.String()+"%)")
	}
	if pct.GreaterThan(stopDistanceMax) {
		return riskerrors.NewStopDistance(pct, stopDistanceMax,
			"stop distance "+pct.StringFixed(4)+"% too wide, maximum "+stopDistanceMax.String()+"%")
	}
	return nil
}
