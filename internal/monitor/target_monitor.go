package monitor

import (
	"context"
	stderrors "errors"

	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/audit"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker"
	riskerrors "github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/errors"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/logger"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/monitoring"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/risk"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

// TargetMonitor polls the stop and target legs of open positions and closes
// out the sibling leg when either fills. The target leg is always checked
// first: if both legs somehow report filled in the same poll, the profitable
// exit wins the tie.
type TargetMonitor struct {
	gateway  broker.OrderGateway
	accounts broker.AccountProvider
	auditLog *audit.Writer
	log      *logger.Logger
}

// New creates a target monitor. The logger is optional.
func New(gateway broker.OrderGateway, accounts broker.AccountProvider, auditLog *audit.Writer, log *logger.Logger) *TargetMonitor {
	return &TargetMonitor{
		gateway:  gateway,
		accounts: accounts,
		auditLog: auditLog,
		log:      log,
	}
}

// PollAndHandleFills checks both legs once and returns true if the position
// closed. Exactly one cancellation is issued per closure. Status lookup
// failures surface immediately; retrying is the caller's call.
func (t *TargetMonitor) PollAndHandleFills(ctx context.Context, env *risk.Envelope) (bool, error) {
	if env.Closed() {
		return true, nil
	}

	targetStatus, err := t.gateway.GetOrderStatus(ctx, env.TargetOrderID)
	if err != nil {
		return false, statusError(env.TargetOrderID, err)
	}
	if targetStatus.State == types.OrderStateFilled {
		t.closePosition(ctx, env, "target_hit", env.StopOrderID, targetStatus)
		return true, nil
	}

	stopStatus, err := t.gateway.GetOrderStatus(ctx, env.StopOrderID)
	if err != nil {
		return false, statusError(env.StopOrderID, err)
	}
	if stopStatus.State == types.OrderStateFilled {
		t.closePosition(ctx, env, "stop_hit", env.TargetOrderID, stopStatus)
		return true, nil
	}

	return false, nil
}

// closePosition cancels the surviving sibling leg, records the fill, and
// invalidates the account caches.
func (t *TargetMonitor) closePosition(ctx context.Context, env *risk.Envelope, action, siblingOrderID string, fill *broker.OrderStatusReport) {
	if err := t.gateway.CancelOrder(ctx, siblingOrderID); err != nil {
		if t.log != nil {
			t.log.LogError("sibling leg cancel failed", err)
		}
		t.appendAudit(audit.Event{
			Action:        "sibling_cancel_failed",
			CorrelationID: env.CorrelationID,
			Symbol:        env.Plan.Symbol,
			Details: map[string]string{
				"order_id": siblingOrderID,
				"error":    err.Error(),
			},
		})
	}

	env.Status = risk.StatusClosed

	t.appendAudit(audit.Event{
		Action:        action,
		CorrelationID: env.CorrelationID,
		Symbol:        env.Plan.Symbol,
		Details: map[string]string{
			"filled_order_id":    fill.OrderID,
			"cancelled_order_id": siblingOrderID,
			"fill_price":         fill.AvgFillPrice.String(),
			"filled_quantity":    decimal.NewFromInt(fill.FilledQuantity).String(),
		},
	})

	t.accounts.InvalidateCache(broker.CacheKeyBuyingPower)
	t.accounts.InvalidateCache(broker.CacheKeyPositions)

	exit := "target"
	if action == "stop_hit" {
		exit = "stop"
	}
	monitoring.RecordPositionClosed(env.Plan.Symbol, exit)

	if t.log != nil {
		t.log.Trade("Position closed for %s: %s at %s (qty %d)",
			env.Plan.Symbol, action, fill.AvgFillPrice, fill.FilledQuantity)
	}
}

func (t *TargetMonitor) appendAudit(ev audit.Event) {
	if t.auditLog == nil {
		return
	}
	if err := t.auditLog.Append(ev); err != nil && t.log != nil {
		t.log.LogError("audit append failed", err)
	}
}

func statusError(orderID string, err error) error {
	var se *riskerrors.StatusError
	if stderrors.As(err, &se) {
		return err
	}
	return riskerrors.NewStatusError(orderID, "order status lookup failed", err)
}
