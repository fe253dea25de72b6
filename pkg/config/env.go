package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/chains"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
)

const (
	// DefaultPayerChain is the chain the payer settles the source leg on
	DefaultPayerChain = "solana"

	// DefaultTargetChain is the chain the settler transfers on
	DefaultTargetChain = "base"

	// DefaultTokenSymbol is the token transferred on the target chain
	DefaultTokenSymbol = "USDC"

	// DefaultGasMultiplier is applied to the suggested gas price before submission
	DefaultGasMultiplier = 1.2

	// DefaultIntentTTLMinutes defines how long a pending intent stays payable
	DefaultIntentTTLMinutes = 10

	// DefaultConfirmationTimeoutSeconds bounds the wait for transfer confirmation
	DefaultConfirmationTimeoutSeconds = 120

	// DefaultWorkerCount defines the default number of workers to process settlements
	DefaultWorkerCount = 5

	// DefaultMaxRetries defines the maximum number of retries for failed settlements
	DefaultMaxRetries = 10

	// DefaultReconcileIntervalSeconds defines how often the reconciler sweeps the store
	DefaultReconcileIntervalSeconds = 60

	// DefaultStuckThresholdSeconds defines how old an in-flight intent must be
	// before the reconciler intervenes
	DefaultStuckThresholdSeconds = 300

	// DefaultAPIPort defines the default port for the intent API server
	DefaultAPIPort = "8080"

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "9090"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15
)

// Default RPC endpoints per target chain, overridable via TARGET_RPC_URL
var defaultRPCURLs = map[string]string{
	"base":      "https://mainnet.base.org",
	"arbitrum":  "https://arb1.arbitrum.io/rpc",
	"polygon":   "https://polygon-rpc.com",
	"ethereum":  "https://eth.llamarpc.com",
	"avalanche": "https://avalanche-c-chain-rpc.publicnode.com",
	"bsc":       "https://bsc-dataseed.bnbchain.org",
}

// GetEnvOrDefault returns the environment variable value or the given default
func GetEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvVerifierURL returns the proof verifier endpoint from environment variables
func GetEnvVerifierURL() (string, error) {
	verifierURL := os.Getenv("VERIFIER_URL")
	if verifierURL == "" {
		return "", nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(verifierURL); err != nil {
		return "", fmt.Errorf("invalid VERIFIER_URL value: %s, must be a valid URL", verifierURL)
	}
	return verifierURL, nil
}

// GetEnvPayerChain returns the payer chain name from environment variables
func GetEnvPayerChain() (string, error) {
	payerChain := os.Getenv("PAYER_CHAIN")
	if payerChain == "" {
		return DefaultPayerChain, nil
	}

	if !chains.IsKnown(payerChain) {
		return "", fmt.Errorf("invalid PAYER_CHAIN value: %s, must be a supported chain", payerChain)
	}
	return payerChain, nil
}

// GetEnvTargetChain returns the target chain configuration from environment variables
func GetEnvTargetChain() (TargetChainConfig, error) {
	name := GetEnvOrDefault("TARGET_CHAIN", DefaultTargetChain)
	chain, ok := chains.Get(name)
	if !ok {
		return TargetChainConfig{}, fmt.Errorf("invalid TARGET_CHAIN value: %s, must be a supported chain", name)
	}
	if chain.ChainID == 0 {
		return TargetChainConfig{}, fmt.Errorf("TARGET_CHAIN %s is not an EVM chain and cannot be settled on", name)
	}

	rpcURL := os.Getenv("TARGET_RPC_URL")
	if rpcURL == "" {
		rpcURL = defaultRPCURLs[name]
	}
	if rpcURL == "" {
		return TargetChainConfig{}, fmt.Errorf("TARGET_RPC_URL is required for chain %s", name)
	}

	tokenAddress := os.Getenv("TOKEN_ADDRESS")
	if tokenAddress != "" && !common.IsHexAddress(tokenAddress) {
		return TargetChainConfig{}, fmt.Errorf("invalid TOKEN_ADDRESS value: %s, must be a valid Ethereum address", tokenAddress)
	}

	gasMultiplier, err := getEnvGasMultiplier()
	if err != nil {
		return TargetChainConfig{}, err
	}

	return TargetChainConfig{
		Name:          name,
		ChainID:       chain.ChainID,
		RPCURL:        rpcURL,
		TokenAddress:  tokenAddress,
		TokenSymbol:   GetEnvOrDefault("TOKEN_SYMBOL", DefaultTokenSymbol),
		GasMultiplier: gasMultiplier,
	}, nil
}

func getEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if parsed < 1 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be at least 1")
	}
	return parsed, nil
}

// GetEnvIntentTTL returns the pending intent lifetime from environment variables
func GetEnvIntentTTL() (time.Duration, error) {
	ttl := os.Getenv("INTENT_TTL")
	if ttl == "" {
		return DefaultIntentTTLMinutes * time.Minute, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, fmt.Errorf("invalid INTENT_TTL value: %s, must be a valid duration string", ttl)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("INTENT_TTL must be greater than 0")
	}
	return parsed, nil
}

// GetEnvConfirmationTimeout returns the confirmation wait bound from environment variables
func GetEnvConfirmationTimeout() (time.Duration, error) {
	timeout := os.Getenv("CONFIRMATION_TIMEOUT")
	if timeout == "" {
		return DefaultConfirmationTimeoutSeconds * time.Second, nil
	}

	parsed, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid CONFIRMATION_TIMEOUT value: %s, must be a valid duration string", timeout)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("CONFIRMATION_TIMEOUT must be greater than 0")
	}
	return parsed, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	// use atoi
	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvReconcileInterval returns the reconciler sweep interval from environment variables
func GetEnvReconcileInterval() (time.Duration, error) {
	interval := os.Getenv("RECONCILE_INTERVAL")
	if interval == "" {
		return DefaultReconcileIntervalSeconds * time.Second, nil
	}

	parsed, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid RECONCILE_INTERVAL value: %s, must be a valid duration string", interval)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("RECONCILE_INTERVAL must be greater than 0")
	}
	return parsed, nil
}

// GetEnvStuckThreshold returns the stuck intent threshold from environment variables
func GetEnvStuckThreshold() (time.Duration, error) {
	threshold := os.Getenv("STUCK_THRESHOLD")
	if threshold == "" {
		return DefaultStuckThresholdSeconds * time.Second, nil
	}

	parsed, err := time.ParseDuration(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid STUCK_THRESHOLD value: %s, must be a valid duration string", threshold)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("STUCK_THRESHOLD must be greater than 0")
	}
	return parsed, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the logging level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch level {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of 'debug', 'info', 'notice', 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
