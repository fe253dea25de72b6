package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_intents_created_total",
		Help: "The total number of payment intents created",
	})

	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_intents_expired_total",
		Help: "The total number of payment intents that expired before a proof arrived",
	})

	ProofVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_proof_verifications_total",
		Help: "Source proof verification outcomes",
	}, []string{"result"})

	SettlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_settlement_attempts_total",
		Help: "Target-chain settlement attempts by outcome",
	}, []string{"chain", "status"})

	SettlementErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_settlement_errors_total",
		Help: "Settlement failures by machine-readable reason",
	}, []string{"chain", "reason"})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_settlement_seconds",
		Help:    "Time taken to execute and confirm a target-chain transfer",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain"})

	PendingSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_pending_settlements",
		Help: "Intents waiting for their target leg in the dispatch queue",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_retry_queue_size",
		Help: "Current size of the settlement retry queue",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retries_executed_total",
		Help: "Number of settlement retries that were executed",
	}, []string{"reason"})

	RetriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retries_dropped_total",
		Help: "Number of settlement retries dropped at queue capacity or retry limit",
	}, []string{"reason"})

	ReconcilerRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_reconciler_runs_total",
		Help: "Number of reconciliation sweeps executed",
	})

	ReconcilerRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_reconciler_recovered_total",
		Help: "Stuck intents resolved by the reconciler, by resolution",
	}, []string{"resolution"})

	WalletBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_wallet_balance",
		Help: "Settlement wallet balance in token base units",
	}, []string{"chain", "token"})
)
