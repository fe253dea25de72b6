package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/blockchain"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/circuitbreaker"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/contracts"
)

// Server represents a health check HTTP server
type Server struct {
	port          string
	chain         *blockchain.ChainConfig
	token         *contracts.ERC20
	breaker       *circuitbreaker.CircuitBreaker
	dbHealthFn    func(context.Context) error
	metricsAPIKey string
}

// NewServer creates a new health check server. dbHealthFn may be nil when
// the repository has no connectivity to check.
func NewServer(port string, chain *blockchain.ChainConfig, token *contracts.ERC20, breaker *circuitbreaker.CircuitBreaker, dbHealthFn func(context.Context) error) *Server {
	return &Server{
		port:          port,
		chain:         chain,
		token:         token,
		breaker:       breaker,
		dbHealthFn:    dbHealthFn,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the health check server
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.chain.Client == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Target chain client not connected"))
			return
		}
		if s.dbHealthFn != nil {
			if err := s.dbHealthFn(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("Store not reachable: %v", err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		circuitStatus := "closed"
		if s.breaker != nil && s.breaker.IsOpen() {
			circuitStatus = "open"
		}

		status := map[string]interface{}{
			"chain":     s.chain.Name,
			"rpc_url":   s.chain.RPCURL,
			"token":     s.chain.TokenAddress,
			"connected": s.chain.Client != nil,
			"circuit":   circuitStatus,
		}

		if s.chain.Client != nil {
			if blockNumber, err := s.chain.GetLatestBlockNumber(r.Context()); err == nil {
				status["latest_block"] = blockNumber
			}
			if balance, err := s.walletBalance(r.Context()); err == nil {
				status["wallet_balance"] = balance.String()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.breaker == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("No circuit breaker configured"))
			return
		}
		s.breaker.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker reset"))
	})

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	log.Printf("Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, mux); err != nil {
		log.Printf("Health server error: %v", err)
	}
}

// walletBalance reads the settlement wallet's token balance
func (s *Server) walletBalance(ctx context.Context) (*big.Int, error) {
	if s.token == nil {
		return nil, fmt.Errorf("token binding not configured")
	}
	return s.token.BalanceOf(&bind.CallOpts{Context: ctx}, s.chain.SettlementAccount())
}
