package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/api"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/blockchain"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/circuitbreaker"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/config"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/contracts"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/executor"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/health"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/orchestrator"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/store"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/verifier"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Intent repository: Postgres when a DSN is configured, in-memory otherwise
	var repo store.Repository
	var dbHealthFn func(context.Context) error
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		repo = pg
		dbHealthFn = pg.Ping
		stdLogger.Info("Using Postgres intent store")
	} else {
		repo = store.NewMemoryStore()
		stdLogger.Notice("DATABASE_URL not set, intents will not survive a restart")
	}

	// Target chain connection and settlement wallet
	chain := blockchain.NewChainConfig(
		cfg.TargetChain.Name,
		cfg.TargetChain.ChainID,
		cfg.TargetChain.RPCURL,
		cfg.TargetChain.TokenAddress,
		cfg.TargetChain.GasMultiplier,
	)
	if err := chain.Connect(cfg.PrivateKey); err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.TargetChain.Name, err)
	}

	token, err := contracts.NewERC20(common.HexToAddress(cfg.TargetChain.TokenAddress), chain.Client)
	if err != nil {
		log.Fatalf("Failed to bind token contract: %v", err)
	}

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
	)

	exec := executor.New(chain, token, cfg.TargetChain.TokenSymbol, cfg.ConfirmationTimeout, stdLogger)
	proofVerifier := verifier.New(cfg.VerifierURL, stdLogger)

	orch := orchestrator.New(repo, proofVerifier, exec, breaker, orchestrator.Config{
		PayerChain:        cfg.PayerChain,
		TargetChain:       cfg.TargetChain.Name,
		IntentTTL:         cfg.IntentTTL,
		Workers:           cfg.WorkerCount,
		MaxRetries:        cfg.MaxRetries,
		ReconcileInterval: cfg.ReconcileInterval,
		StuckThreshold:    cfg.StuckThreshold,
	}, stdLogger)
	orch.Start(ctx)

	// Health and metrics server
	healthServer := health.NewServer(cfg.MetricsPort, chain, token, breaker, dbHealthFn)
	go healthServer.Start()

	apiServer := api.NewServer(cfg.APIPort, orch, stdLogger)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			stdLogger.Error("API shutdown error: %v", err)
		}
	}()

	stdLogger.Info("Settler started (payer chain: %s, target chain: %s)", cfg.PayerChain, cfg.TargetChain.Name)
	if err := apiServer.Start(); err != nil {
		stdLogger.Notice("API server stopped: %v", err)
	}
}
