// Command marketsync launches the exchange sync engine runtime.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonlabs/marketsync/config"
	"github.com/halcyonlabs/marketsync/internal/adapters/coinbase"
	"github.com/halcyonlabs/marketsync/internal/observability"
	"github.com/halcyonlabs/marketsync/internal/schema"
	"github.com/halcyonlabs/marketsync/lib/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	metricsReportInterval    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to a marketsync YAML configuration file")
	flag.Parse()

	logger := log.New(os.Stderr, "marketsync ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewZerologLogger(os.Stderr, parseLogLevel(cfg.LogLevel)))
	logger.Printf("configuration initialised: env=%s, symbols=%d", cfg.Environment, len(cfg.Venue.Symbols))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	providers, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewBridge(providers.MeterProvider))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	client, err := coinbase.NewClient(hostCallbacks(), clientOptions(cfg)...)
	if err != nil {
		logger.Fatalf("initialise client: %v", err)
	}
	if err := client.Start(ctx); err != nil {
		logger.Fatalf("start client: %v", err)
	}
	defer client.Close()

	client.Subscribe(cfg.Venue.Symbols...)
	logger.Printf("subscribed: %v", cfg.Venue.Symbols)

	reportMetrics(ctx, client)
	logger.Printf("shutting down")
}

func clientOptions(cfg config.Settings) []coinbase.Option {
	return []coinbase.Option{
		coinbase.WithCredentials(cfg.Venue.Credentials.APIKey, cfg.Venue.Credentials.APISecret),
		coinbase.WithEndpoints(cfg.Venue.RESTBaseURL, cfg.Venue.WebsocketURL),
		coinbase.WithUserAckTimeout(cfg.Venue.UserAckTimeout),
		coinbase.WithHeartbeatTimeout(cfg.Venue.HeartbeatTimeout),
		coinbase.WithSymbolOverrides(cfg.Venue.SymbolOverrides),
		coinbase.WithQuoteAliases(cfg.Venue.QuoteAliases),
	}
}

func hostCallbacks() schema.Callbacks {
	return schema.Callbacks{
		OnQuote: func(q schema.Quote) {
			observability.Log().Info("quote",
				observability.F("symbol", q.Symbol),
				observability.F("bid", q.Bid.String()),
				observability.F("bid_size", q.BidSize.String()),
				observability.F("ask", q.Ask.String()),
				observability.F("ask_size", q.AskSize.String()))
		},
		OnTrade: func(t schema.Trade) {
			observability.Log().Info("trade",
				observability.F("symbol", t.Symbol),
				observability.F("price", t.Price.String()),
				observability.F("size", t.Size.String()),
				observability.F("side", string(t.Side)))
		},
		OnOrderEvent: func(e schema.OrderEvent) {
			observability.Log().Info("order",
				observability.F("local_id", e.LocalID),
				observability.F("status", string(e.Status)),
				observability.F("fill_delta", e.FillDelta.String()))
		},
		OnWarning: func(code schema.WarningCode, message string) {
			observability.Log().Warn(message, observability.F("code", string(code)))
		},
	}
}

// reportMetrics periodically exports the feed counters as gauges until the
// context ends.
func reportMetrics(ctx context.Context, client *coinbase.Client) {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := client.Metrics()
			for channel, frames := range snapshot.FramesProcessed {
				observability.Telemetry().SetGauge("marketsync_frames_processed",
					float64(frames), map[string]string{"channel": channel})
			}
			observability.Telemetry().SetGauge("marketsync_resubscriptions",
				float64(snapshot.Resubscriptions), nil)
			observability.Log().Debug("feed metrics",
				observability.F("state", client.State().String()),
				observability.F("warnings", snapshot.Warnings))
		}
	}
}

func parseLogLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(raw)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
