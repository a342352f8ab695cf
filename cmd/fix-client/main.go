package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/client"
	"github.com/jeromegit/bbg-emsx-simulator/internal/config"
	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/logging"
	"github.com/jeromegit/bbg-emsx-simulator/internal/scenario"
	"github.com/jeromegit/bbg-emsx-simulator/internal/store"
)

func main() {
	reserveOrderID := flag.String("reserve-order-id", "", "send a reserve request for this order id")
	reserveShares := flag.Int64("reserve-shares", 100, "shares to reserve with -reserve-order-id")
	fillOrderID := flag.String("fill-order-id", "", "report ack, fill and done-for-day for this order id")
	fillShares := flag.Int64("fill-shares", client.FillRemaining, "shares to fill with -fill-order-id (0 skips the fill, -1 fills the remainder)")
	flag.Parse()

	// Load configuration
	cfg := config.LoadConfig("fix-client")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting fix-client",
		zap.String("fix_config", cfg.FIXConfigPath),
		zap.Int64("client_uuid", cfg.ClientID),
		zap.String("scenario", cfg.ScenarioPath),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	correlation := store.NewCorrelationStore(logger)
	app := client.New(cfg.ClientID, cfg.InboundQueueSize, correlation, fixmsg.SessionSender{}, logger)

	// A scenario script takes over the poll loop when configured.
	var engine *scenario.Engine
	if cfg.ScenarioPath != "" {
		sc, err := scenario.Load(cfg.ScenarioPath)
		if err != nil {
			logger.Fatal("failed to load scenario", zap.Error(err))
		}
		engine = scenario.NewEngine(sc, app, nil, logger)
	}

	// Start the wire session initiator
	settingsFile, err := os.Open(cfg.FIXConfigPath)
	if err != nil {
		logger.Fatal("failed to open FIX config", zap.Error(err))
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		logger.Fatal("failed to parse FIX config", zap.Error(err))
	}

	logFactory, err := quickfix.NewFileLogFactory(settings)
	if err != nil {
		logger.Fatal("failed to create FIX log factory", zap.Error(err))
	}
	initiator, err := quickfix.NewInitiator(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		logger.Fatal("failed to create initiator", zap.Error(err))
	}
	if err := initiator.Start(); err != nil {
		logger.Fatal("failed to start initiator", zap.Error(err))
	}
	logger.Info("FIX initiator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if engine != nil {
				engine.Step()
				continue
			}
			app.Drain()
			if *reserveOrderID != "" {
				if err := app.SendReserveRequest(*reserveOrderID, *reserveShares); err != nil {
					logger.Warn("reserve request failed", zap.String("order_id", *reserveOrderID), zap.Error(err))
				}
			}
			if *fillOrderID != "" {
				reports := []struct {
					shares int64
					kind   client.ReportKind
				}{
					{0, client.ReportAck},
					{*fillShares, client.ReportFill},
					{0, client.ReportDoneForDay},
				}
				for _, r := range reports {
					if err := app.SendExecutionReport(*fillOrderID, r.shares, r.kind); err != nil {
						logger.Warn("execution report failed", zap.String("order_id", *fillOrderID), zap.Error(err))
					}
				}
			}
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			initiator.Stop()
			logger.Info("fix-client stopped")
			return
		}
	}
}
