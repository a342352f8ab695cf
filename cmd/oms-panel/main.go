package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/config"
	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
	"github.com/jeromegit/bbg-emsx-simulator/internal/logging"
	"github.com/jeromegit/bbg-emsx-simulator/internal/panel"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("oms-panel")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting oms-panel",
		zap.String("addr", cfg.HTTPAddr()),
		zap.String("ledger_path", cfg.LedgerPath),
		zap.String("change_file", cfg.ChangeFilePath),
	)

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		logger.Fatal("failed to open ledger", zap.Error(err))
	}
	defer led.Close()

	handler := panel.NewHandler(led, cfg.ChangeFilePath, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("HTTP server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("HTTP server failed", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("oms-panel stopped")
}
