package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is a single OHLCV bar. Sequences passed to the ATR and pullback
// engines are ordered oldest to newest with strictly increasing timestamps.
type PriceBar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// NewPriceBar builds a bar and enforces high >= low at construction.
func NewPriceBar(symbol string, ts time.Time, open, high, low, close, volume decimal.Decimal) (PriceBar, error) {
	if high.LessThan(low) {
		return PriceBar{}, fmt.Errorf("invalid bar for %s at %s: high %s below low %s",
			symbol, ts.UTC().Format(time.RFC3339), high, low)
	}
	return PriceBar{
		Symbol:    symbol,
		Timestamp: ts.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, nil
}

// Range returns high minus low.
func (b PriceBar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// OrderSide is the direction of an order leg.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderState is the broker-reported lifecycle state of an order.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStateFilled    OrderState = "filled"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateRejected  OrderState = "rejected"
)

// PositionType distinguishes long from short for stop derivation.
type PositionType string

const (
	PositionTypeLong  PositionType = "long"
	PositionTypeShort PositionType = "short"
)

// StopSource records where a plan's stop price came from, for audit.
type StopSource string

const (
	StopSourceManual   StopSource = "manual"
	StopSourceDetected StopSource = "detected"
	StopSourceDefault  StopSource = "default"
	StopSourceATR      StopSource = "atr"
)
