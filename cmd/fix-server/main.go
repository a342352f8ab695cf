package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/config"
	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
	"github.com/jeromegit/bbg-emsx-simulator/internal/logging"
	"github.com/jeromegit/bbg-emsx-simulator/internal/server"
	"github.com/jeromegit/bbg-emsx-simulator/internal/store"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("fix-server")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting fix-server",
		zap.String("fix_config", cfg.FIXConfigPath),
		zap.String("ledger_path", cfg.LedgerPath),
		zap.String("change_file", cfg.ChangeFilePath),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("reject_symbol_prefix", cfg.RejectSymbolPrefix),
	)

	// Open the order ledger
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		logger.Fatal("failed to open ledger", zap.Error(err))
	}
	defer led.Close()

	ctx := context.Background()
	if err := led.SeedIfEmpty(ctx, demoOrders(cfg.ClientID)); err != nil {
		logger.Fatal("failed to seed ledger", zap.Error(err))
	}

	// Wire the server role
	correlation := store.NewCorrelationStore(logger)
	watcher := ledger.NewChangeWatcher(cfg.ChangeFilePath, logger)
	admission := server.DefaultAdmission(cfg.RejectSymbolPrefix)
	app := server.New(correlation, led, watcher, admission, fixmsg.SessionSender{}, logger)

	// Start the wire session acceptor
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
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		logger.Fatal("failed to create acceptor", zap.Error(err))
	}
	if err := acceptor.Start(); err != nil {
		logger.Fatal("failed to start acceptor", zap.Error(err))
	}
	logger.Info("FIX acceptor started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.CheckForOrderChanges(ctx)
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			acceptor.Stop()
			logger.Info("fix-server stopped")
			return
		}
	}
}

// demoOrders seeds a fresh ledger with a spread of orders for the default
// client, including one reject-fixture symbol.
func demoOrders(clientID int64) []ledger.OrderSnapshot {
	return []ledger.OrderSnapshot{
		{OrderID: 100, IsActive: true, ClientID: clientID, Symbol: "LUV", Side: ledger.SideBuy, Shares: 1000, Price: decimal.RequireFromString("42.50")},
		{OrderID: 110, IsActive: true, ClientID: clientID, Symbol: "CAKE", Side: ledger.SideSell, Shares: 500, Price: decimal.RequireFromString("31.25")},
		{OrderID: 120, IsActive: true, ClientID: clientID, Symbol: "HOG", Side: ledger.SideShort, Shares: 2500, Price: decimal.RequireFromString("18.00")},
		{OrderID: 130, IsActive: true, ClientID: clientID, Symbol: "ZVZZT", Side: ledger.SideBuy, Shares: 750, Price: decimal.RequireFromString("10.10")},
		{OrderID: 140, IsActive: false, ClientID: clientID, Symbol: "PLAY", Side: ledger.SideBuy, Shares: 300, Price: decimal.RequireFromString("55.75")},
	}
}
