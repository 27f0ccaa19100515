// Escrowd — a two-party wager escrow service settled by on-chain price
// oracles.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires subsystems, waits for SIGINT/SIGTERM
//	engine/              — lifecycle state machine: create/take/cancel/close/settle under one mutex
//	registry/            — durable bet records, fee accruals and audit events (SQLite)
//	oracle/              — price resolution: Chainlink-style feeds and Uniswap v3 TWAP pools
//	settle/              — pure winner evaluation and fee-adjusted payout arithmetic
//	custody/             — REST client moving collateral in and out of escrow
//	upkeep/              — background loop closing overdue bets in bounded batches
//	api/                 — HTTP endpoints for the lifecycle plus a WebSocket event stream
//
// How a bet settles:
//
//	A maker escrows a stake against a price prediction; a taker matches it.
//	Once the deadline passes, anyone may close the bet: the oracle price is
//	read fresh and compared against the maker's line. Settlement then pays
//	the winner the pot minus the protocol fee, exactly once.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"

	"betvault/internal/api"
	"betvault/internal/config"
	"betvault/internal/custody"
	"betvault/internal/engine"
	"betvault/internal/oracle"
	"betvault/internal/registry"
	"betvault/internal/upkeep"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ESCROW_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Durable bet registry
	reg, err := registry.Open(cfg.Store.Path, cfg.Service.FeeBps)
	if err != nil {
		logger.Error("failed to open registry", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer reg.Close()

	// Oracle adapters share one RPC connection
	ec, err := ethclient.Dial(cfg.Oracle.RPCURL)
	if err != nil {
		logger.Error("failed to dial rpc", "error", err, "url", cfg.Oracle.RPCURL)
		os.Exit(1)
	}
	defer ec.Close()

	feed, err := oracle.NewFeedClient(ec)
	if err != nil {
		logger.Error("failed to build feed client", "error", err)
		os.Exit(1)
	}
	quoter, err := oracle.NewPoolQuoter(ec, cfg.Oracle.PoolFactory)
	if err != nil {
		logger.Error("failed to build pool quoter", "error", err)
		os.Exit(1)
	}
	resolver := oracle.NewResolver(feed, quoter, cfg.Oracle.TwapWindow)

	transferor := custody.NewClient(cfg.Custody, logger)

	eng := engine.New(cfg.Service, reg, transferor, resolver, logger)

	// Background close of overdue bets
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler := upkeep.New(reg, eng, cfg.Upkeep, logger)
	go scheduler.Run(ctx)

	// HTTP/WebSocket API if enabled
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
		logger.Info("api started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	logger.Info("escrow service started",
		"owner", cfg.Service.Owner,
		"fee_bps", reg.FeeBps(),
		"min_duration", cfg.Service.MinDuration,
		"upkeep_interval", cfg.Upkeep.Interval,
		"bets", reg.LastID(),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the API first so no new operations arrive mid-shutdown
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
	cancel()
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
