// Command streamproxy runs the Market-Data Multiplexer: one upstream
// WebSocket session per feed, fanned out to downstream gRPC subscribers
// through the Proxy Service. Wiring follows the teacher's cmd/bot/main.go
// shape — load config, build components, start, wait for SIGINT/SIGTERM.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"google.golang.org/grpc"

	"github.com/ccheney/cream-trading-backbone/internal/codec"
	"github.com/ccheney/cream-trading-backbone/internal/config"
	"github.com/ccheney/cream-trading-backbone/internal/hub"
	"github.com/ccheney/cream-trading-backbone/internal/proxy"
	"github.com/ccheney/cream-trading-backbone/internal/registry"
	"github.com/ccheney/cream-trading-backbone/internal/session"
	"github.com/ccheney/cream-trading-backbone/internal/vendorauth"
	"github.com/ccheney/cream-trading-backbone/pkg/rpcwire"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func main() {
	cfgPath := "configs/streamproxy.yaml"
	if p := os.Getenv("STREAMPROXY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadStreamProxy(cfgPath)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := vendorauth.Credentials{Key: cfg.Vendor.APIKey, Secret: cfg.Vendor.APISecret}
	reg := registry.New()
	h := hub.New(cfg.Hub.ChannelCapacity)
	svc := proxy.New(reg, h)

	sessions := map[types.Feed]*session.Session{
		types.FeedStock:        session.New(types.FeedStock, cfg.Vendor.StockWSURL, codec.NewJSONCodec(types.FeedStock), creds),
		types.FeedOption:       session.New(types.FeedOption, cfg.Vendor.OptionWSURL, codec.NewMsgpackCodec(), creds),
		types.FeedOrderUpdates: session.New(types.FeedOrderUpdates, cfg.Vendor.OrdersWSURL, codec.NewJSONCodec(types.FeedOrderUpdates), creds),
	}
	for feed, sess := range sessions {
		svc.Upstreams[feed] = sess
		svc.Statuses[feed] = sess
		go sess.Start(ctx)
		go pumpEvents(ctx, sess, h, logger)
	}

	grpcServer := grpc.NewServer(grpc.ForceCodec(rpcwire.JSONCodec{}))
	grpcServer.RegisterService(&rpcwire.MarketDataServiceDesc, svc)

	lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
	if err != nil {
		logger.Error("failed to bind grpc listener", "error", err, "addr", cfg.GRPC.ListenAddr)
		os.Exit(1)
	}
	go func() {
		logger.Info("stream proxy listening", "addr", cfg.GRPC.ListenAddr)
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

// pumpEvents bridges one session's outbound channel into the shared hub,
// the wiring step that turns "vendor WS → session → codec" into
// "→ hub channels" per the spec's multiplexer data flow.
func pumpEvents(ctx context.Context, sess *session.Session, h *hub.Hub, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sess.Events():
			switch evt.Kind {
			case session.EvMarketEvent:
				h.Publish(evt.Event.Kind, evt.Event)
			case session.EvReconnecting:
				logger.Warn("session reconnecting", "feed", sess.Feed, "attempt", evt.Attempt)
			case session.EvDisconnected:
				logger.Warn("session disconnected", "feed", sess.Feed, "reason", evt.Reason)
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
