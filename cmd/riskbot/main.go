package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/audit"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/broker/fake"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/config"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/logger"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/monitor"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/monitoring"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/internal/risk"
	"github.com/marcusgoll/robinhood-algo-trading-bot-sub002/pkg/types"
)

func main() {
	var (
		symbol      = flag.String("symbol", "AAPL", "Ticker symbol to run the demo lifecycle against")
		envFile     = flag.String("env", ".env", "Environment file path (default: .env)")
		configFile  = flag.String("config", "", "JSON configuration file (optional, overrides env)")
		auditPath   = flag.String("audit", "", "Audit log path (overrides configured path)")
		metricsAddr = flag.String("metrics-addr", "", "Address for the Prometheus metrics endpoint (e.g. :9090)")
	)
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Risk Engine Demo Starting...")

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *auditPath != "" {
		cfg.AuditLogPath = *auditPath
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", monitoring.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
		fmt.Printf("📊 Metrics available at http://%s/metrics\n", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n🛑 Shutting down...")
		cancel()
	}()

	if err := runLifecycle(ctx, cfg, *symbol); err != nil {
		log.Fatalf("Lifecycle failed: %v", err)
	}
}

// runLifecycle walks one full position lifecycle against the fake broker:
// pullback analysis, plan, placement, a breakeven adjustment, target fill.
func runLifecycle(ctx context.Context, cfg *config.Config, symbol string) error {
	auditLog, err := audit.NewWriter(cfg.AuditLogPath)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	opLog, err := logger.NewLogger(symbol)
	if err != nil {
		return err
	}
	defer opLog.Close()

	gateway := fake.NewGateway()
	accounts := fake.NewAccountProvider()
	manager := risk.NewManager(cfg, gateway, accounts, auditLog, opLog)
	fills := monitor.New(gateway, accounts, auditLog, opLog)

	entry := decimal.RequireFromString("250.30")
	bars := demoBars(symbol)

	plan, correlationID, err := manager.CalculatePositionWithStop(ctx, risk.CalculateRequest{
		Symbol:     symbol,
		EntryPrice: entry,
		TargetRR:   decimal.NewFromInt(2),
		Balance:    decimal.NewFromInt(100000),
		Bars:       bars,
	})
	if err != nil {
		return err
	}
	printPlan(plan, correlationID)

	env, err := manager.PlaceTradeWithRiskManagement(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Orders placed: entry=%s stop=%s target=%s\n",
		env.EntryOrderID, env.StopOrderID, env.TargetOrderID)

	// Price reaches halfway to target: breakeven rule fires.
	halfway := plan.EntryPrice.Add(plan.TargetPrice.Sub(plan.EntryPrice).Div(decimal.NewFromInt(2)))
	adjusted, err := manager.AdjustStopIfNeeded(ctx, env, halfway, nil)
	if err != nil {
		return err
	}
	if adjusted {
		fmt.Printf("🔧 Stop adjusted to %s (%s)\n", env.CurrentStop(), env.Adjustments[len(env.Adjustments)-1].Reason)
	}

	// Target fills; the monitor cancels the stop and reports closure.
	gateway.SetStatus(env.TargetOrderID, types.OrderStateFilled, plan.Quantity, plan.TargetPrice)
	closed, err := fills.PollAndHandleFills(ctx, env)
	if err != nil {
		return err
	}
	if closed {
		fmt.Printf("🎯 Position closed at target %s\n", plan.TargetPrice)
	}

	printClosureRecord(auditLog.Path())
	fmt.Printf("📝 Audit trail written to %s\n", auditLog.Path())
	fmt.Printf("🗒️  Operational log written to %s\n", opLog.GetLogPath())
	return nil
}

// printClosureRecord renders the final audit line field by field.
func printClosureRecord(path string) {
	records, err := audit.ReadAll(path)
	if err != nil || len(records) == 0 {
		return
	}
	last := records[len(records)-1]
	fmt.Println("📒 Closure record:")
	for _, k := range audit.SortedKeys(last) {
		fmt.Printf("   %s: %s\n", k, last[k])
	}
}

func printPlan(plan *types.PositionPlan, correlationID string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Position Plan (%s)", plan.Symbol)
	t.AppendRows([]table.Row{
		{"Entry", "$" + plan.EntryPrice.StringFixed(2)},
		{"Stop", "$" + plan.StopPrice.StringFixed(2)},
		{"Target", "$" + plan.TargetPrice.StringFixed(2)},
		{"Quantity", plan.Quantity},
		{"Risk", "$" + plan.RiskAmount.StringFixed(2)},
		{"Reward", "$" + plan.RewardAmount.StringFixed(2)},
		{"R:R", fmt.Sprintf("%.2f", plan.RewardRatio)},
		{"Stop Source", string(plan.StopSource)},
		{"Correlation", correlationID},
	})
	t.Render()
}

// demoBars builds a window with a confirmed swing low at 248.00 below the
// entry price.
func demoBars(symbol string) []types.PriceBar {
	lows := []string{"249.10", "248.80", "248.00", "248.60", "249.20", "249.80", "250.00", "250.10"}
	bars := make([]types.PriceBar, 0, len(lows))
	start := time.Now().Add(-time.Duration(len(lows)) * time.Minute)
	for i, lowStr := range lows {
		low := decimal.RequireFromString(lowStr)
		high := low.Add(decimal.RequireFromString("1.50"))
		bar, err := types.NewPriceBar(symbol, start.Add(time.Duration(i)*time.Minute),
			low.Add(decimal.RequireFromString("0.50")), high, low, low.Add(decimal.RequireFromString("0.75")),
			decimal.NewFromInt(10000))
		if err != nil {
			log.Fatalf("bad demo bar: %v", err)
		}
		bars = append(bars, bar)
	}
	return bars
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return fmt.Errorf("env file %s does not exist", envFile)
	}
	return godotenv.Load(envFile)
}
