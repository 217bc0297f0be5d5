package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PlanningKind tags the specific validation rule a planning input violated.
// Callers branch on the kind, never on message text.
type PlanningKind string

const (
	KindRiskRewardTooLow PlanningKind = "RISK_REWARD_TOO_LOW"
	KindStopDirection    PlanningKind = "STOP_DIRECTION"
	KindStopDistance     PlanningKind = "STOP_DISTANCE"
	KindInsufficientData PlanningKind = "INSUFFICIENT_DATA"
	KindInvalidPriceData PlanningKind = "INVALID_PRICE_DATA"
	KindStaleData        PlanningKind = "STALE_DATA"
	KindInvalidATR       PlanningKind = "INVALID_ATR"
)

// PlanningError is a non-retriable input validation failure. It carries the
// offending value and the violated bound as structured fields so callers can
// report both without parsing the message.
type PlanningError struct {
	Kind    PlanningKind
	Field   string
	Value   decimal.Decimal
	Bound   decimal.Decimal
	Message string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("[PLANNING:%s] %s (value=%s, bound=%s)", e.Kind, e.Message, e.Value, e.Bound)
}

// NewRiskRewardTooLow reports a target ratio below the configured minimum.
func NewRiskRewardTooLow(target, min decimal.Decimal) *PlanningError {
	return &PlanningError{
		Kind:    KindRiskRewardTooLow,
		Field:   "target_rr",
		Value:   target,
		Bound:   min,
		Message: fmt.Sprintf("risk/reward ratio %s below minimum %s", target, min),
	}
}

// NewStopDirection reports a stop at or above the entry price (long-only).
func NewStopDirection(stop, entry decimal.Decimal) *PlanningError {
	return &PlanningError{
		Kind:    KindStopDirection,
		Field:   "stop_price",
		Value:   stop,
		Bound:   entry,
		Message: fmt.Sprintf("stop price %s must be below entry price %s", stop, entry),
	}
}

// NewStopDistance reports a stop distance percentage outside the accepted band.
func NewStopDistance(pct, bound decimal.Decimal, message string) *PlanningError {
	return &PlanningError{
		Kind:    KindStopDistance,
		Field:   "stop_distance_pct",
		Value:   pct,
		Bound:   bound,
		Message: message,
	}
}

// NewInsufficientData reports too few bars for an indicator window.
func NewInsufficientData(have, need int) *PlanningError {
	return &PlanningError{
		Kind:    KindInsufficientData,
		Field:   "bars",
		Value:   decimal.NewFromInt(int64(have)),
		Bound:   decimal.NewFromInt(int64(need)),
		Message: fmt.Sprintf("insufficient price data: have %d bars, need %d", have, need),
	}
}

// NewInvalidPriceData reports a malformed bar sequence.
func NewInvalidPriceData(symbol string, index int, message string) *PlanningError {
	return &PlanningError{
		Kind:    KindInvalidPriceData,
		Field:   "bars",
		Value:   decimal.NewFromInt(int64(index)),
		Message: fmt.Sprintf("invalid price data for %s at bar %d: %s", symbol, index, message),
	}
}

// NewStaleData reports market data older than the freshness window.
func NewStaleData(ageMinutes, maxAgeMinutes decimal.Decimal) *PlanningError {
	return &PlanningError{
		Kind:    KindStaleData,
		Field:   "bar_age_minutes",
		Value:   ageMinutes,
		Bound:   maxAgeMinutes,
		Message: fmt.Sprintf("price data is %s minutes old, max allowed %s", ageMinutes, maxAgeMinutes),
	}
}

// NewInvalidATR reports a non-positive ATR result.
func NewInvalidATR(atr decimal.Decimal) *PlanningError {
	return &PlanningError{
		Kind:    KindInvalidATR,
		Field:   "atr",
		Value:   atr,
		Message: fmt.Sprintf("calculated ATR %s is not positive", atr),
	}
}

// PlacementError is a broker order-submission failure. Transient failures
// (timeouts, 5xx-equivalents) are marked retryable and drive the retry policy.
type PlacementError struct {
	Symbol     string
	Side       string
	Price      decimal.Decimal
	Message    string
	Underlying error
	Retryable  bool
}

func (e *PlacementError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[PLACEMENT] %s for %s at %s: %v", e.Message, e.Symbol, e.Price, e.Underlying)
	}
	return fmt.Sprintf("[PLACEMENT] %s for %s at %s", e.Message, e.Symbol, e.Price)
}

func (e *PlacementError) Unwrap() error { return e.Underlying }

// NewPlacementError wraps a broker submission failure.
func NewPlacementError(symbol, side string, price decimal.Decimal, message string, underlying error, retryable bool) *PlacementError {
	return &PlacementError{
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// StatusError is an order-status lookup failure. Surfaced immediately; the
// monitor does not retry these on its own.
type StatusError struct {
	OrderID    string
	Message    string
	Underlying error
}

func (e *StatusError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[STATUS] %s for order %s: %v", e.Message, e.OrderID, e.Underlying)
	}
	return fmt.Sprintf("[STATUS] %s for order %s", e.Message, e.OrderID)
}

func (e *StatusError) Unwrap() error { return e.Underlying }

// NewStatusError wraps an order-status lookup failure.
func NewStatusError(orderID, message string, underlying error) *StatusError {
	return &StatusError{OrderID: orderID, Message: message, Underlying: underlying}
}

// CircuitBreakerError signals a sustained placement failure rate. Automated
// placement must halt until the breaker is manually reset.
type CircuitBreakerError struct {
	Window      int
	Attempts    int
	Failures    int
	FailureRate float64
	Threshold   float64
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("[CIRCUIT_BREAKER] placement halted: %d failures in last %d attempts (%.2f%% > %.2f%%)",
		e.Failures, e.Window, e.FailureRate*100, e.Threshold*100)
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var pe *PlacementError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsPlanning reports whether err is an input validation failure.
func IsPlanning(err error) bool {
	var pe *PlanningError
	return stderrors.As(err, &pe)
}

// IsCircuitBreaker reports whether err is a tripped-breaker condition.
func IsCircuitBreaker(err error) bool {
	var cbe *CircuitBreakerError
	return stderrors.As(err, &cbe)
}

// PlanningKindOf extracts the planning kind from err, if any.
func PlanningKindOf(err error) (PlanningKind, bool) {
	var pe *PlanningError
	if stderrors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
