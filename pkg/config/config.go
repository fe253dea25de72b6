package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/chains"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
)

// Config holds the configuration for the settler service
type Config struct {
	VerifierURL string
	PayerChain  string

	TargetChain TargetChainConfig
	PrivateKey  string

	IntentTTL           time.Duration
	ConfirmationTimeout time.Duration
	WorkerCount         int
	MaxRetries          int
	ReconcileInterval   time.Duration
	StuckThreshold      time.Duration

	APIPort     string
	MetricsPort string
	DatabaseURL string

	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// TargetChainConfig holds the configuration for the chain the settler transfers on
type TargetChainConfig struct {
	Name          string
	ChainID       int64
	RPCURL        string
	TokenAddress  string
	TokenSymbol   string
	GasMultiplier float64
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	verifierURL, err := GetEnvVerifierURL()
	if err != nil {
		return nil, err
	}

	payerChain, err := GetEnvPayerChain()
	if err != nil {
		return nil, err
	}

	targetChain, err := GetEnvTargetChain()
	if err != nil {
		return nil, err
	}

	intentTTL, err := GetEnvIntentTTL()
	if err != nil {
		return nil, err
	}

	confirmationTimeout, err := GetEnvConfirmationTimeout()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	reconcileInterval, err := GetEnvReconcileInterval()
	if err != nil {
		return nil, err
	}

	stuckThreshold, err := GetEnvStuckThreshold()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		VerifierURL:         verifierURL,
		PayerChain:          payerChain,
		TargetChain:         targetChain,
		PrivateKey:          os.Getenv("PRIVATE_KEY"),
		IntentTTL:           intentTTL,
		ConfirmationTimeout: confirmationTimeout,
		WorkerCount:         workerCount,
		MaxRetries:          maxRetries,
		ReconcileInterval:   reconcileInterval,
		StuckThreshold:      stuckThreshold,
		APIPort:             GetEnvOrDefault("API_PORT", DefaultAPIPort),
		MetricsPort:         GetEnvOrDefault("METRICS_PORT", DefaultMetricsPort),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.VerifierURL == "" {
		return fmt.Errorf("VERIFIER_URL environment variable is required")
	}
	if cfg.TargetChain.TokenAddress == "" {
		return fmt.Errorf("TOKEN_ADDRESS environment variable is required")
	}
	if !chains.IsKnown(cfg.TargetChain.Name) {
		return fmt.Errorf("unknown target chain: %s", cfg.TargetChain.Name)
	}
	if !chains.IsKnown(cfg.PayerChain) {
		return fmt.Errorf("unknown payer chain: %s", cfg.PayerChain)
	}
	if cfg.PayerChain == cfg.TargetChain.Name {
		return fmt.Errorf("payer and target chain must differ")
	}
	// The reconciler must never intervene while a confirmation wait can
	// still be in flight
	if cfg.StuckThreshold <= cfg.ConfirmationTimeout {
		return fmt.Errorf("STUCK_THRESHOLD (%v) must be greater than CONFIRMATION_TIMEOUT (%v)",
			cfg.StuckThreshold, cfg.ConfirmationTimeout)
	}
	return nil
}
