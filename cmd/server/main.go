package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ordercore/internal/config"
	"ordercore/internal/engine"
	"ordercore/internal/httpapi"
	"ordercore/internal/ledger"
	"ordercore/internal/metrics"
	"ordercore/internal/obslog"
	"ordercore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := obslog.New("ordercore", cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting ordercore")

	db, err := store.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database connection established")

	metricsCollector := metrics.NewCollector()

	var ledgerPort engine.LedgerPort
	if cfg.ChainEnabled {
		chainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		chain, err := ledger.NewChainLedgerAdapter(chainCtx, cfg.ChainRPCURL, cfg.ChainContractAddr, cfg.ChainSenderKeyHex, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to initialize chain ledger adapter", zap.Error(err))
		}
		ledgerPort = ledger.NewCircuitBreakingLedger(cfg.ChainBreakerName, chain, logger)
		logger.Info("chain ledger enabled", zap.String("rpc", cfg.ChainRPCURL))
	} else {
		ledgerPort = ledger.NoopLedger{}
		logger.Info("chain ledger disabled, using no-op ledger")
	}
	ledgerPort = ledger.NewObservingLedger(ledgerPort, metricsCollector.ObserveLedgerFailure)

	matchingEngine := engine.NewMatchingEngine(logger, ledgerPort)

	logger.Info("recovering open orders from store")
	recovery := engine.NewRecovery(logger)
	recoveryCtx, recoveryCancel := context.WithTimeout(context.Background(), 60*time.Second)
	restored, err := recovery.RebuildFromStore(recoveryCtx, matchingEngine, db)
	recoveryCancel()
	if err != nil {
		logger.Fatal("failed to rebuild order books from store", zap.Error(err))
	}
	metricsCollector.SetRecoveryRestored(restored)

	apiServer := &httpapi.Server{
		Store:              db,
		Engine:             matchingEngine,
		Metrics:            metricsCollector,
		Logger:             logger,
		DefaultTradesLimit: cfg.DefaultTradesLimit,
		OrderBookDepth:     cfg.OrderBookDepth,
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("server gracefully stopped")
	}
}
