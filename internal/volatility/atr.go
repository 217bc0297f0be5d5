package volatility

import (
	"time"

	"github.com/shopspring/decimal"

	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// ATR stop distance bounds. These are deliberately separate from the
// planner's gate: no 0.5% carve-out here.
var (
	atrStopMinPct = decimal.RequireFromString("0.7")
	atrStopMaxPct = decimal.RequireFromString("10.0")

	oneHundred = decimal.NewFromInt(100)
)

// DefaultPeriod is the standard ATR lookback in bars.
const DefaultPeriod = 14

// Engine computes Average True Range over bar windows using Wilder's
// smoothing and derives ATR-multiple stop prices.
type Engine struct{}

// NewEngine creates an ATR engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Calculate returns the Wilder-smoothed ATR for the bar window, quantized to
// two decimals. The smoothing is exponential, not a simple moving average:
// after seeding with the mean of the first period true ranges, each step is
// ((prev * (period-1)) + TR) / period.
func (e *Engine) Calculate(bars []types.PriceBar, period int) (decimal.Decimal, error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	if len(bars) < period {
		return decimal.Zero, riskerrors.NewInsufficientData(len(bars), period)
	}
	for i, bar := range bars {
		if bar.Low.IsNegative() {
			return decimal.Zero, riskerrors.NewInvalidPriceData(bar.Symbol, i, "negative low price")
		}
	}

	trueRanges := make([]decimal.Decimal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trueRanges = append(trueRanges, trueRange(bars[i], bars[i-1].Close))
	}
	if len(trueRanges) < period {
		return decimal.Zero, riskerrors.NewInsufficientData(len(trueRanges), period)
	}

	periodDec := decimal.NewFromInt(int64(period))

	sum := decimal.Zero
	for _, tr := range trueRanges[:period] {
		sum = sum.Add(tr)
	}
	atr := sum.Div(periodDec)

	prevWeight := decimal.NewFromInt(int64(period - 1))
	for _, tr := range trueRanges[period:] {
		atr = atr.Mul(prevWeight).Add(tr).Div(periodDec)
	}

	atr = atr.Round(2)
	if !atr.IsPositive() {
		return decimal.Zero, riskerrors.NewInvalidATR(atr)
	}
	return atr, nil
}

// ValidateBars checks freshness and timestamp ordering before an ATR pass.
func (e *Engine) ValidateBars(bars []types.PriceBar, maxAge time.Duration) error {
	if len(bars) == 0 {
		return riskerrors.NewInsufficientData(0, 1)
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}

	latest := bars[len(bars)-1]
	age := time.Since(latest.Timestamp)
	if age > maxAge {
		return riskerrors.NewStaleData(
			decimal.NewFromFloat(age.Minutes()).Round(2),
			decimal.NewFromFloat(maxAge.Minutes()),
		)
	}

	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return riskerrors.NewInvalidPriceData(bars[i].Symbol, i, "timestamps not strictly increasing")
		}
	}
	return nil
}

// CalculateATRStop derives an ATR-multiple stop from the entry price,
// quantized to $0.01. Long stops sit below entry, short stops above.
func (e *Engine) CalculateATRStop(entry, atr decimal.Decimal, multiplier float64, positionType types.PositionType, period int) (*types.ATRStopData, error) {
	if !atr.IsPositive() {
		return nil, riskerrors.NewInvalidATR(atr)
	}
	if period <= 0 {
		period = DefaultPeriod
	}

	offset := atr.Mul(decimal.NewFromFloat(multiplier))

	var stop decimal.Decimal
	if positionType == types.PositionTypeShort {
		stop = entry.Add(offset)
	} else {
		stop = entry.Sub(offset)
	}
	stop = stop.Round(2)

	distancePct := offset.Div(entry).Mul(oneHundred)
	if distancePct.LessThan(atrStopMinPct) {
		return nil, riskerrors.NewStopDistance(distancePct, atrStopMinPct,
			"ATR stop distance "+distancePct.StringFixed(4)+"% too tight, minimum "+atrStopMinPct.String()+"%")
	}
	if distancePct.GreaterThan(atrStopMaxPct) {
		return nil, riskerrors.NewStopDistance(distancePct, atrStopMaxPct,
			"ATR stop distance "+distancePct.StringFixed(4)+"% too wide, maximum "+atrStopMaxPct.String()+"%")
	}

	return &types.ATRStopData{
		StopPrice:  stop,
		ATRValue:   atr,
		Multiplier: multiplier,
		Period:     period,
		Source:     types.StopSourceATR,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(bar types.PriceBar, prevClose decimal.Decimal) decimal.Decimal {
	hc := bar.High.Sub(prevClose).Abs()
	lc := bar.Low.Sub(prevClose).Abs()
	return decimal.Max(bar.Range(), hc, lc)
}
