package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionPlan is an immutable snapshot of a planned trade. Plans are created
// once by the planner and never mutated; stop adjustments live on the risk
// envelope, not here.
type PositionPlan struct {
	Symbol        string
	EntryPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	TargetPrice   decimal.Decimal
	Quantity      int64
	RiskAmount    decimal.Decimal
	RewardAmount  decimal.Decimal
	RewardRatio   float64
	StopSource    StopSource
	PullbackPrice *decimal.Decimal
	CreatedAt     time.Time
}

// ATRStopData is the output of a volatility-based stop calculation.
// Immutable; a fresh value is produced whenever ATR changes.
type ATRStopData struct {
	StopPrice  decimal.Decimal
	ATRValue   decimal.Decimal
	Multiplier float64
	Period     int
	Source     StopSource
	Timestamp  time.Time
}

// PullbackData is the output of a swing-low analysis pass.
type PullbackData struct {
	PullbackPrice       decimal.Decimal
	PullbackTimestamp   time.Time
	ConfirmationCandles int
	LookbackWindow      int
	FallbackUsed        bool
}
