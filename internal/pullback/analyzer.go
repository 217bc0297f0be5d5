package pullback

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// minConfirmationCandles is how many strictly higher lows must follow a
// candidate before it counts as a confirmed swing low.
const minConfirmationCandles = 2

var oneHundred = decimal.NewFromInt(100)

// Analyzer scans bar windows for confirmed swing lows to use as natural
// stop-loss levels, falling back to a percentage stop when none exists.
type Analyzer struct{}

// New creates a pullback analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze scans the most recent lookback bars (oldest to newest) and returns
// the first confirmed swing low. A candidate at index i must satisfy
// low[i] <= low[i-1] and low[i] < low[i+1]; it is confirmed once at least
// two subsequent bars print strictly higher lows, counting forward until a
// lower-or-equal low breaks the streak. With no confirmed swing the stop
// falls back to entry * (1 - defaultStopPct/100).
func (a *Analyzer) Analyze(bars []types.PriceBar, entryPrice, defaultStopPct decimal.Decimal, lookback int) *types.PullbackData {
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	window := len(bars)

	for i := 1; i <= window-3; i++ {
		if bars[i].Low.GreaterThan(bars[i-1].Low) {
			continue
		}
		if !bars[i].Low.LessThan(bars[i+1].Low) {
			continue
		}

		confirmations := 0
		for j := i + 1; j < window; j++ {
			if !bars[j].Low.GreaterThan(bars[i].Low) {
				break
			}
			confirmations++
		}
		if confirmations < minConfirmationCandles {
			continue
		}

		return &types.PullbackData{
			PullbackPrice:       bars[i].Low,
			PullbackTimestamp:   bars[i].Timestamp,
			ConfirmationCandles: confirmations,
			LookbackWindow:      window,
			FallbackUsed:        false,
		}
	}

	fallback := entryPrice.Mul(decimal.NewFromInt(1).Sub(defaultStopPct.Div(oneHundred)))
	return &types.PullbackData{
		PullbackPrice:       fallback,
		PullbackTimestamp:   time.Now().UTC(),
		ConfirmationCandles: 0,
		LookbackWindow:      window,
		FallbackUsed:        true,
	}
}
