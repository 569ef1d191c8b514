// Command execengine runs the Order Execution Core: risk validation,
// broker routing, the FIX-style order state machine, persistence, and
// startup/delta reconciliation, exposed over gRPC. Wiring follows the
// teacher's cmd/bot/main.go shape — load config, build components, start,
// wait for SIGINT/SIGTERM.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"github.com/ccheney/cream-trading-backbone/internal/broker"
	"github.com/ccheney/cream-trading-backbone/internal/config"
	"github.com/ccheney/cream-trading-backbone/internal/execapi"
	"github.com/ccheney/cream-trading-backbone/internal/orders"
	"github.com/ccheney/cream-trading-backbone/internal/persistence"
	"github.com/ccheney/cream-trading-backbone/internal/ratelimit"
	"github.com/ccheney/cream-trading-backbone/internal/reconcile"
	"github.com/ccheney/cream-trading-backbone/internal/recovery"
	"github.com/ccheney/cream-trading-backbone/pkg/rpcwire"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func main() {
	cfgPath := "configs/execengine.yaml"
	if p := os.Getenv("EXECENGINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadExecEngine(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	env := types.Paper
	if cfg.Environment == "live" {
		env = types.Live
	}

	store, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		logger.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	limiter := ratelimit.NewTokenBucket(cfg.Broker.RateLimit, time.Minute)
	transport := broker.NewRestTransport(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret, limiter)
	brokerAdapter := broker.NewAdapter(env, transport)

	machine := orders.NewMachine(orders.TimeoutPolicy{
		Window:    cfg.Risk.PartialFillTimeout,
		ActionFor: func(types.Purpose) orders.TimeoutAction { return orders.CancelRemainder },
	})
	machine.OnTransition(func(o *types.Order, event orders.Event) {
		bg := context.Background()
		if err := store.AppendEvent(bg, o.OrderID, o.LastSeq, string(event.Kind), event); err != nil {
			logger.Error("append event on transition", "order_id", o.OrderID, "error", err)
		}
		if err := store.SaveOrderSnapshot(bg, o.Snapshot()); err != nil {
			logger.Error("persist snapshot on transition", "order_id", o.OrderID, "error", err)
		}
	})

	orchestrator := recovery.New(store, brokerAdapter, machine)
	orchestrator.ReconcilePolicy = reconcile.Policy{
		ProtectionWindow:   cfg.Reconcile.ProtectionWindow,
		MaxOrderAge:        cfg.Reconcile.MaxOrderAge,
		AutoResolveOrphans: cfg.Reconcile.AutoResolveOrphans,
		PriceTolerancePct:  decimal.NewFromFloat(cfg.Reconcile.PriceTolerancePct),
	}
	switch cfg.Reconcile.CriticalAction {
	case "LogAndContinue":
		orchestrator.CriticalPolicy = func(types.ReconciliationReport) types.CriticalAction { return types.CriticalLogAndContinue }
	case "Alert":
		orchestrator.CriticalPolicy = func(types.ReconciliationReport) types.CriticalAction { return types.CriticalAlert }
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	report, err := orchestrator.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Error("recovery halted, refusing to start", "error", err)
		os.Exit(1)
	}
	logger.Info("recovery complete", "orphans", len(report.Orphans), "discrepancies", len(report.Discrepancies))

	policy := types.RiskPolicy{
		ID:     "default",
		Active: true,
		Limits: types.ExposureLimits{
			MaxUnitsPerInstrument:     decimal.NewFromFloat(cfg.Risk.MaxUnitsPerInstrument),
			MaxNotionalPerInstrument:  decimal.NewFromFloat(cfg.Risk.MaxNotionalPerInstrument),
			MaxPctEquityPerInstrument: decimal.NewFromFloat(cfg.Risk.MaxPctEquityPerInstrument),
			MaxGrossExposure:          decimal.NewFromFloat(cfg.Risk.MaxGrossExposure),
			MaxNetExposure:            decimal.NewFromFloat(cfg.Risk.MaxNetExposure),
			MaxConcentration:          decimal.NewFromFloat(cfg.Risk.MaxConcentration),
			MaxDelta:                  decimal.NewFromFloat(cfg.Risk.MaxDelta),
			MaxGamma:                  decimal.NewFromFloat(cfg.Risk.MaxGamma),
			MaxVega:                   decimal.NewFromFloat(cfg.Risk.MaxVega),
			MaxTheta:                  decimal.NewFromFloat(cfg.Risk.MaxTheta),
			MinBuyingPowerPct:         decimal.NewFromFloat(cfg.Risk.MinBuyingPowerPct),
			SizingSanityMultiple:      decimal.NewFromFloat(cfg.Risk.SizingSanityMultiple),
		},
	}

	ctxProvider := &liveRiskContext{broker: brokerAdapter, logger: logger}

	svc := execapi.New(policy, ctxProvider, machine, brokerAdapter, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runDeltaReconcileLoop(ctx, orchestrator, logger)

	grpcServer := grpc.NewServer(grpc.ForceCodec(rpcwire.JSONCodec{}))
	grpcServer.RegisterService(&rpcwire.ExecutionServiceDesc, svc)

	lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
	if err != nil {
		logger.Error("failed to bind grpc listener", "error", err, "addr", cfg.GRPC.ListenAddr)
		os.Exit(1)
	}
	go func() {
		logger.Info("execution engine listening", "addr", cfg.GRPC.ListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	grpcServer.GracefulStop()
	cancel()
}

// liveRiskContext supplies the risk validator's RiskContext from the
// broker's own view of positions and buying power; cmd/execengine has no
// separate accounting layer, so it asks the broker directly, accepting
// the extra round trip per decision batch.
type liveRiskContext struct {
	broker *broker.Adapter
	logger *slog.Logger

	mu sync.Mutex
}

func (l *liveRiskContext) RiskContext() types.RiskContext {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	positions, err := l.broker.ListPositions(ctx)
	if err != nil {
		l.logger.Error("fetch positions for risk context", "error", err)
		return types.RiskContext{}
	}
	bySymbol := make(map[types.Symbol]types.PositionSnapshot, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	return types.RiskContext{Positions: bySymbol}
}

// runDeltaReconcileLoop repeats the broker-snapshot comparison on an
// interval, covering the spec's "on schedule" reconciliation trigger and
// a post-reconnect resync without restarting the whole orchestrator.
func runDeltaReconcileLoop(ctx context.Context, o *recovery.Orchestrator, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := o.DeltaReconcile(ctx)
			if err != nil {
				logger.Error("delta reconcile halted", "error", err)
				continue
			}
			if len(report.Orphans) > 0 || len(report.Discrepancies) > 0 {
				logger.Warn("delta reconcile findings", "orphans", len(report.Orphans), "discrepancies", len(report.Discrepancies))
			}
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
