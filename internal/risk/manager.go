package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/adjust"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/audit"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/config"
	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/logger"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/monitoring"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/planner"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/pullback"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/safety"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/volatility"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// Manager orchestrates the risk-managed position lifecycle: plan, place the
// entry with its protective stop/target pair, adjust stops as price moves.
//
// A Manager's counters and breaker are per-instance. Placement calls against
// one instance must not run concurrently without external locking; the audit
// writer is the only internally locked shared resource.
type Manager struct {
	cfg      *config.Config
	gateway  broker.OrderGateway
	accounts broker.AccountProvider
	auditLog *audit.Writer
	log      *logger.Logger

	planner   *planner.Planner
	pullbacks *pullback.Analyzer
	adjuster  *adjust.Adjuster
	atr       *volatility.Engine

	retry   broker.RetryPolicy
	breaker *safety.CircuitBreaker
}

// NewManager wires a risk manager. The logger is optional; pass nil to skip
// operational logging.
func NewManager(cfg *config.Config, gateway broker.OrderGateway, accounts broker.AccountProvider, auditLog *audit.Writer, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		gateway:   gateway,
		accounts:  accounts,
		auditLog:  auditLog,
		log:       log,
		planner:   planner.New(),
		pullbacks: pullback.New(),
		adjuster:  adjust.New(),
		atr:       volatility.NewEngine(),
		retry:     broker.DefaultRetryPolicy(),
		breaker:   safety.NewCircuitBreaker("stop-placement", safety.DefaultBreakerConfig()),
	}
}

// SetRetryPolicy overrides the placement retry schedule.
func (m *Manager) SetRetryPolicy(policy broker.RetryPolicy) {
	m.retry = policy
}

// Breaker exposes the placement circuit breaker for monitoring and manual
// reset.
func (m *Manager) Breaker() *safety.CircuitBreaker {
	return m.breaker
}

// CalculateRequest carries the inputs for a plan-with-stop calculation.
type CalculateRequest struct {
	Symbol     string
	EntryPrice decimal.Decimal
	TargetRR   decimal.Decimal
	Balance    decimal.Decimal
	Bars       []types.PriceBar
	Strategy   string
}

// CalculatePositionWithStop derives a stop from the bar window (confirmed
// swing low, or the percentage fallback), sizes the position, and writes one
// audit line. The returned correlation id ties the plan to its audit trail;
// rejected plans are audited under the same id before the error surfaces.
func (m *Manager) CalculatePositionWithStop(ctx context.Context, req CalculateRequest) (*types.PositionPlan, string, error) {
	cfg := m.cfg.ForStrategy(req.Strategy)
	correlationID := uuid.NewString()

	pb := m.pullbacks.Analyze(req.Bars, req.EntryPrice, decimal.NewFromFloat(cfg.DefaultStopPct), cfg.PullbackLookback)

	source := types.StopSourceDetected
	if pb.FallbackUsed {
		source = types.StopSourceDefault
	}

	plan, err := m.planner.CalculatePlan(planner.PlanRequest{
		Symbol:         req.Symbol,
		EntryPrice:     req.EntryPrice,
		StopPrice:      pb.PullbackPrice,
		TargetRR:       req.TargetRR,
		AccountBalance: req.Balance,
		RiskPct:        decimal.NewFromFloat(cfg.AccountRiskPct),
		MinRiskReward:  decimal.NewFromFloat(cfg.MinRiskReward),
		StopSource:     source,
		PullbackPrice:  &pb.PullbackPrice,
	})
	if err != nil {
		m.audit(audit.Event{
			Action:        "position_plan_rejected",
			CorrelationID: correlationID,
			Symbol:        req.Symbol,
			Details: map[string]string{
				"entry_price": req.EntryPrice.String(),
				"stop_price":  pb.PullbackPrice.String(),
				"error":       err.Error(),
			},
		})
		return nil, correlationID, err
	}

	m.logPositionPlan(correlationID, plan, pb)
	monitoring.RecordPlan(plan.Symbol, string(plan.StopSource), plan.RiskAmount.InexactFloat64())
	return plan, correlationID, nil
}

// CalculatePositionWithATRStop derives the stop from an ATR multiple below
// the entry instead of a detected swing low. Bars are validated for
// freshness and ordering first; the resulting plan carries the ATR stop
// source so later adjustments can re-base on current volatility.
func (m *Manager) CalculatePositionWithATRStop(ctx context.Context, req CalculateRequest) (*types.PositionPlan, string, error) {
	cfg := m.cfg.ForStrategy(req.Strategy)
	correlationID := uuid.NewString()

	stopData, err := m.deriveATRStop(req, cfg)
	if err != nil {
		m.audit(audit.Event{
			Action:        "position_plan_rejected",
			CorrelationID: correlationID,
			Symbol:        req.Symbol,
			Details: map[string]string{
				"entry_price": req.EntryPrice.String(),
				"stop_source": string(types.StopSourceATR),
				"error":       err.Error(),
			},
		})
		return nil, correlationID, err
	}

	plan, err := m.planner.CalculatePlan(planner.PlanRequest{
		Symbol:         req.Symbol,
		EntryPrice:     req.EntryPrice,
		StopPrice:      stopData.StopPrice,
		TargetRR:       req.TargetRR,
		AccountBalance: req.Balance,
		RiskPct:        decimal.NewFromFloat(cfg.AccountRiskPct),
		MinRiskReward:  decimal.NewFromFloat(cfg.MinRiskReward),
		StopSource:     types.StopSourceATR,
		ATRData:        stopData,
	})
	if err != nil {
		m.audit(audit.Event{
			Action:        "position_plan_rejected",
			CorrelationID: correlationID,
			Symbol:        req.Symbol,
			Details: map[string]string{
				"entry_price": req.EntryPrice.String(),
				"stop_price":  stopData.StopPrice.String(),
				"atr":         stopData.ATRValue.String(),
				"error":       err.Error(),
			},
		})
		return nil, correlationID, err
	}

	m.logPositionPlan(correlationID, plan, nil)
	monitoring.RecordPlan(plan.Symbol, string(plan.StopSource), plan.RiskAmount.InexactFloat64())
	return plan, correlationID, nil
}

func (m *Manager) deriveATRStop(req CalculateRequest, cfg *config.Config) (*types.ATRStopData, error) {
	if err := m.atr.ValidateBars(req.Bars, cfg.MaxBarAge); err != nil {
		return nil, err
	}
	atr, err := m.atr.Calculate(req.Bars, cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	return m.atr.CalculateATRStop(req.EntryPrice, atr, cfg.ATRMultiplier, types.PositionTypeLong, cfg.ATRPeriod)
}

func (m *Manager) logPositionPlan(correlationID string, plan *types.PositionPlan, pb *types.PullbackData) {
	details := map[string]string{
		"entry_price":   plan.EntryPrice.String(),
		"stop_price":    plan.StopPrice.String(),
		"target_price":  plan.TargetPrice.String(),
		"quantity":      decimal.NewFromInt(plan.Quantity).String(),
		"risk_amount":   plan.RiskAmount.String(),
		"reward_amount": plan.RewardAmount.String(),
		"stop_source":   string(plan.StopSource),
	}
	if pb != nil {
		details["pullback_fallback"] = map[bool]string{true: "true", false: "false"}[pb.FallbackUsed]
	}
	m.audit(audit.Event{
		Action:        "position_plan_created",
		CorrelationID: correlationID,
		Symbol:        plan.Symbol,
		Details:       details,
	})
	if m.log != nil {
		m.log.Trade("Plan created: %s entry=%s stop=%s target=%s qty=%d risk=%s",
			plan.Symbol, plan.EntryPrice, plan.StopPrice, plan.TargetPrice, plan.Quantity, plan.RiskAmount)
	}
}

// PlaceTradeWithRiskManagement submits the entry order, then the protective
// stop and target legs. Stop/target submission goes through the retry
// policy; if either leg cannot be placed the entry is cancelled before the
// error surfaces, so callers never observe an unprotected position. A
// sustained placement failure rate escalates to a circuit-breaker error.
func (m *Manager) PlaceTradeWithRiskManagement(ctx context.Context, plan *types.PositionPlan) (*Envelope, error) {
	if m.breaker.Tripped() {
		return nil, m.breakerError()
	}

	correlationID := uuid.NewString()

	entry, err := m.gateway.PlaceLimitOrder(ctx, plan.Symbol, types.OrderSideBuy, plan.Quantity, plan.EntryPrice)
	if err != nil {
		// Nothing to compensate yet.
		m.audit(audit.Event{
			Action:        "entry_placement_failed",
			CorrelationID: correlationID,
			Symbol:        plan.Symbol,
			Details: map[string]string{
				"entry_price": plan.EntryPrice.String(),
				"error":       err.Error(),
			},
		})
		return nil, err
	}

	stopOrder, err := m.placeProtectiveLeg(ctx, plan, plan.StopPrice, "stop-loss")
	if err != nil {
		return nil, m.failPlacement(ctx, plan, correlationID, entry.OrderID, "", "stop-loss", plan.StopPrice, err)
	}

	targetOrder, err := m.placeProtectiveLeg(ctx, plan, plan.TargetPrice, "target")
	if err != nil {
		return nil, m.failPlacement(ctx, plan, correlationID, entry.OrderID, stopOrder.OrderID, "target", plan.TargetPrice, err)
	}

	m.breaker.Record(true)
	monitoring.SetBreakerTripped(m.breaker.Tripped())
	monitoring.SetBreakerFailureRate(m.breaker.FailureRate())
	monitoring.RecordPlacement(plan.Symbol, "success")
	monitoring.RecordPositionOpened()

	env := &Envelope{
		Plan:          plan,
		EntryOrderID:  entry.OrderID,
		StopOrderID:   stopOrder.OrderID,
		TargetOrderID: targetOrder.OrderID,
		Status:        StatusPending,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}

	m.audit(audit.Event{
		Action:        "orders_placed",
		CorrelationID: correlationID,
		Symbol:        plan.Symbol,
		Details: map[string]string{
			"entry_order_id":  env.EntryOrderID,
			"stop_order_id":   env.StopOrderID,
			"target_order_id": env.TargetOrderID,
			"entry_price":     plan.EntryPrice.String(),
			"stop_price":      plan.StopPrice.String(),
			"target_price":    plan.TargetPrice.String(),
			"quantity":        decimal.NewFromInt(plan.Quantity).String(),
		},
	})
	if m.log != nil {
		m.log.Trade("Orders placed for %s: entry=%s stop=%s target=%s",
			plan.Symbol, env.EntryOrderID, env.StopOrderID, env.TargetOrderID)
	}
	return env, nil
}

func (m *Manager) placeProtectiveLeg(ctx context.Context, plan *types.PositionPlan, price decimal.Decimal, leg string) (*broker.OrderEnvelope, error) {
	var order *broker.OrderEnvelope
	err := m.retry.Do(ctx, func() error {
		var placeErr error
		order, placeErr = m.gateway.PlaceLimitOrder(ctx, plan.Symbol, types.OrderSideSell, plan.Quantity, price)
		return placeErr
	})
	if err != nil {
		return nil, riskerrors.NewPlacementError(plan.Symbol, string(types.OrderSideSell), price,
			"failed to place "+leg+" order", err, false)
	}
	return order, nil
}

// failPlacement runs the compensating cancellations, records the failure
// against the breaker, audits the outcome, and picks the error to surface.
// The compensating cancel always runs; its own failure is logged but never
// masks the placement error.
func (m *Manager) failPlacement(ctx context.Context, plan *types.PositionPlan, correlationID, entryOrderID, stopOrderID, leg string, price decimal.Decimal, placementErr error) error {
	m.breaker.Record(false)
	monitoring.SetBreakerTripped(m.breaker.Tripped())
	monitoring.SetBreakerFailureRate(m.breaker.FailureRate())
	monitoring.RecordPlacement(plan.Symbol, "failure")

	if err := m.gateway.CancelOrder(ctx, entryOrderID); err != nil {
		m.audit(audit.Event{
			Action:        "entry_cancel_failed",
			CorrelationID: correlationID,
			Symbol:        plan.Symbol,
			Details: map[string]string{
				"entry_order_id": entryOrderID,
				"error":          err.Error(),
			},
		})
		if m.log != nil {
			m.log.LogError("compensating entry cancel failed", err)
		}
	}
	if stopOrderID != "" {
		if err := m.gateway.CancelOrder(ctx, stopOrderID); err != nil {
			m.audit(audit.Event{
				Action:        "stop_cancel_failed",
				CorrelationID: correlationID,
				Symbol:        plan.Symbol,
				Details: map[string]string{
					"stop_order_id": stopOrderID,
					"error":         err.Error(),
				},
			})
		}
	}

	m.audit(audit.Event{
		Action:        "placement_failed",
		CorrelationID: correlationID,
		Symbol:        plan.Symbol,
		Details: map[string]string{
			"leg":            leg,
			"price":          price.String(),
			"entry_order_id": entryOrderID,
			"error":          placementErr.Error(),
		},
	})

	if m.breaker.Tripped() {
		return m.breakerError()
	}
	return placementErr
}

func (m *Manager) breakerError() *riskerrors.CircuitBreakerError {
	stats := m.breaker.Stats()
	return &riskerrors.CircuitBreakerError{
		Window:      stats.WindowSize,
		Attempts:    stats.TotalAttempts,
		Failures:    stats.WindowFailures,
		FailureRate: stats.FailureRate,
		Threshold:   0.02,
	}
}

// AdjustStopIfNeeded evaluates the stop-adjustment rules against the current
// price (and current ATR, if available) and, when a rule fires, replaces the
// live stop order. The envelope's stop order id is swapped in place and the
// change appended to its adjustment history.
func (m *Manager) AdjustStopIfNeeded(ctx context.Context, env *Envelope, currentPrice decimal.Decimal, currentATR *decimal.Decimal) (bool, error) {
	if env.Closed() {
		return false, nil
	}

	adj, ok := m.adjuster.CalculateAdjustment(currentPrice, env.Plan, m.cfg, currentATR)
	if !ok {
		return false, nil
	}

	oldStop := env.CurrentStop()
	if adj.NewStop.Equal(oldStop) {
		return false, nil
	}

	if err := m.gateway.CancelOrder(ctx, env.StopOrderID); err != nil {
		m.audit(audit.Event{
			Action:        "stop_adjustment_failed",
			CorrelationID: env.CorrelationID,
			Symbol:        env.Plan.Symbol,
			Details: map[string]string{
				"stop_order_id": env.StopOrderID,
				"reason":        adj.Reason,
				"error":         err.Error(),
			},
		})
		return false, err
	}

	var newOrder *broker.OrderEnvelope
	err := m.retry.Do(ctx, func() error {
		var placeErr error
		newOrder, placeErr = m.gateway.PlaceLimitOrder(ctx, env.Plan.Symbol, types.OrderSideSell, env.Plan.Quantity, adj.NewStop)
		return placeErr
	})
	if err != nil {
		wrapped := riskerrors.NewPlacementError(env.Plan.Symbol, string(types.OrderSideSell), adj.NewStop,
			"failed to place replacement stop order", err, false)
		// The old stop is already cancelled; re-place it so the position
		// does not sit without a protective leg.
		restored := m.restoreStop(ctx, env, oldStop)
		m.audit(audit.Event{
			Action:        "stop_adjustment_failed",
			CorrelationID: env.CorrelationID,
			Symbol:        env.Plan.Symbol,
			Details: map[string]string{
				"old_stop":            oldStop.String(),
				"new_stop":            adj.NewStop.String(),
				"reason":              adj.Reason,
				"protection_restored": map[bool]string{true: "true", false: "false"}[restored],
				"stop_order_id":       env.StopOrderID,
				"error":               wrapped.Error(),
			},
		})
		return false, wrapped
	}

	env.StopOrderID = newOrder.OrderID
	env.Adjustments = append(env.Adjustments, StopAdjustment{
		Timestamp: time.Now().UTC(),
		OldStop:   oldStop,
		NewStop:   adj.NewStop,
		Reason:    adj.Reason,
	})

	m.audit(audit.Event{
		Action:        "stop_adjusted",
		CorrelationID: env.CorrelationID,
		Symbol:        env.Plan.Symbol,
		Details: map[string]string{
			"old_stop":      oldStop.String(),
			"new_stop":      adj.NewStop.String(),
			"stop_order_id": newOrder.OrderID,
			"reason":        adj.Reason,
		},
	})
	monitoring.RecordStopAdjustment(env.Plan.Symbol, adj.Rule)
	if m.log != nil {
		m.log.Trade("Stop adjusted for %s: %s -> %s (%s)", env.Plan.Symbol, oldStop, adj.NewStop, adj.Reason)
	}
	return true, nil
}

// restoreStop re-places the original stop after a failed replacement and
// swaps the fresh order id into the envelope. Returns whether protection was
// restored; a false return means the position has no live stop leg and needs
// manual intervention.
func (m *Manager) restoreStop(ctx context.Context, env *Envelope, oldStop decimal.Decimal) bool {
	var order *broker.OrderEnvelope
	err := m.retry.Do(ctx, func() error {
		var placeErr error
		order, placeErr = m.gateway.PlaceLimitOrder(ctx, env.Plan.Symbol, types.OrderSideSell, env.Plan.Quantity, oldStop)
		return placeErr
	})
	if err != nil {
		if m.log != nil {
			m.log.LogError("failed to restore stop protection", err)
		}
		return false
	}
	env.StopOrderID = order.OrderID
	return true
}

func (m *Manager) audit(ev audit.Event) {
	if m.auditLog == nil {
		return
	}
	if err := m.auditLog.Append(ev); err != nil && m.log != nil {
		m.log.LogError("audit append failed", err)
	}
}
