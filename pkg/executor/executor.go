// Package executor implements the chain settlement executor: the component
// that moves funds on the target chain for a verified intent. It performs a
// single balance-checked transfer per call and never retries on its own —
// retry policy belongs to the orchestrator, which only calls Execute again
// after the state machine confirms no successful transfer was recorded.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/blockchain"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/metrics"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

// Result is the outcome of a settlement attempt. On a confirmation timeout
// TxRef is still populated with the submitted transaction so the caller can
// reconcile the unknown outcome later.
type Result struct {
	TxRef string
	Proof string
}

// receiptProbeTimeout bounds the final receipt lookup after an aborted
// confirmation wait
const receiptProbeTimeout = 10 * time.Second

// TransferStatus is the network's verdict on a previously submitted transfer
type TransferStatus int

const (
	// TransferNotFound means the network has no record of the transaction
	TransferNotFound TransferStatus = iota
	// TransferConfirmed means the transaction is mined and succeeded
	TransferConfirmed
	// TransferFailed means the transaction is mined but reverted
	TransferFailed
)

// tokenContract is the slice of the ERC-20 binding the executor uses
type tokenContract interface {
	BalanceOf(opts *bind.CallOpts, owner common.Address) (*big.Int, error)
	Decimals(opts *bind.CallOpts) (uint8, error)
	Transfer(opts *bind.TransactOpts, to common.Address, value *big.Int) (*types.Transaction, error)
}

// ChainExecutor executes settlement transfers on a single target chain from
// a single settlement wallet. Submissions are serialized with a mutex so two
// in-flight transfers cannot race on the wallet nonce.
type ChainExecutor struct {
	chain               *blockchain.ChainConfig
	token               tokenContract
	tokenSymbol         string
	confirmationTimeout time.Duration
	logger              logger.Logger

	submitMu sync.Mutex

	decimalsOnce sync.Once
	decimals     uint8
	decimalsErr  error

	// Seams for tests; default to the real chain calls
	waitMined     func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	receiptByHash func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// New creates an executor bound to the target chain's settlement token
func New(chain *blockchain.ChainConfig, token tokenContract, tokenSymbol string, confirmationTimeout time.Duration, log logger.Logger) *ChainExecutor {
	e := &ChainExecutor{
		chain:               chain,
		token:               token,
		tokenSymbol:         tokenSymbol,
		confirmationTimeout: confirmationTimeout,
		logger:              log,
	}
	e.waitMined = func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, chain.Client, tx)
	}
	e.receiptByHash = func(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
		return chain.Client.TransactionReceipt(ctx, hash)
	}
	return e
}

// Execute transfers amount (a decimal string in the unit of account) to the
// recipient and blocks until one confirmation. All failures come back as a
// *models.SettlementError with a machine-readable reason; the process never
// panics on an executor failure.
func (e *ChainExecutor) Execute(ctx context.Context, intentID, amount, recipient string) (*Result, error) {
	account := e.chain.SettlementAccount()
	if account == (common.Address{}) {
		return nil, models.NewSettlementError(models.ReasonUnknown, fmt.Errorf("settlement wallet not configured"))
	}
	if !common.IsHexAddress(recipient) {
		return nil, models.NewSettlementError(models.ReasonUnknown, fmt.Errorf("invalid recipient address: %s", recipient))
	}

	decimals, err := e.tokenDecimals(ctx)
	if err != nil {
		return nil, models.NewSettlementError(models.ReasonNetwork, err)
	}

	// Exact integer conversion to the asset's smallest unit; no floats
	units, err := models.ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, models.NewSettlementError(models.ReasonUnknown, err)
	}

	// Balance check must precede submission so an underfunded wallet fails
	// fast without burning gas
	balance, err := e.token.BalanceOf(&bind.CallOpts{Context: ctx}, account)
	if err != nil {
		return nil, models.NewSettlementError(models.ReasonNetwork, fmt.Errorf("failed to query wallet balance: %v", err))
	}
	balanceFloat, _ := new(big.Float).SetInt(balance).Float64()
	metrics.WalletBalance.WithLabelValues(e.chain.Name, e.tokenSymbol).Set(balanceFloat)

	if balance.Cmp(units) < 0 {
		return nil, models.NewSettlementError(models.ReasonInsufficientFunds,
			fmt.Errorf("settlement wallet balance %s below required %s", balance.String(), units.String()))
	}

	tx, err := e.submitTransfer(ctx, intentID, common.HexToAddress(recipient), units)
	if err != nil {
		return nil, models.NewSettlementError(models.ReasonNetwork, err)
	}

	txRef := tx.Hash().Hex()
	e.logger.InfoWithChain(e.chain.Name, "Transfer submitted for intent %s: %s (amount: %s)", intentID, txRef, units.String())

	return e.awaitConfirmation(ctx, intentID, tx)
}

// submitTransfer serializes wallet submissions and sends a single transfer
// instruction to the token contract
func (e *ChainExecutor) submitTransfer(ctx context.Context, intentID string, recipient common.Address, units *big.Int) (*types.Transaction, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if _, err := e.chain.UpdateGasPrice(ctx); err != nil {
		// Continue with the previous gas price
		e.logger.ErrorWithChain(e.chain.Name, "Failed to update gas price for intent %s: %v", intentID, err)
	}

	txOpts := *e.chain.Auth
	txOpts.Context = ctx

	tx, err := e.token.Transfer(&txOpts, recipient, units)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transfer: %v", err)
	}
	return tx, nil
}

// awaitConfirmation blocks until the transfer is mined or the bounded wait
// elapses. One confirmation is sufficient. An aborted wait — the bounded
// timeout, or the caller's context canceled mid-wait — is an unknown
// outcome, not a failure: the transfer is already on the network and may
// still land, so the submitted tx ref is returned alongside the error for
// later reconciliation, after one final receipt probe on a detached context
// to catch a transfer that confirmed just as the wait ended.
func (e *ChainExecutor) awaitConfirmation(ctx context.Context, intentID string, tx *types.Transaction) (*Result, error) {
	txRef := tx.Hash().Hex()

	waitCtx, cancel := context.WithTimeout(ctx, e.confirmationTimeout)
	defer cancel()

	receipt, err := e.waitMined(waitCtx, tx)
	if err != nil {
		if waitCtx.Err() != nil {
			probeCtx, probeCancel := context.WithTimeout(context.WithoutCancel(ctx), receiptProbeTimeout)
			defer probeCancel()
			if late, probeErr := e.receiptByHash(probeCtx, tx.Hash()); probeErr == nil && late != nil && late.Status == types.ReceiptStatusSuccessful {
				return e.confirmed(intentID, txRef), nil
			}
			return &Result{TxRef: txRef}, models.NewSettlementError(models.ReasonConfirmationTimeout,
				fmt.Errorf("confirmation of %s not observed (%v)", txRef, waitCtx.Err()))
		}
		return &Result{TxRef: txRef}, models.NewSettlementError(models.ReasonNetwork,
			fmt.Errorf("failed waiting for confirmation of %s: %v", txRef, err))
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &Result{TxRef: txRef}, models.NewSettlementError(models.ReasonReverted,
			fmt.Errorf("transfer %s reverted", txRef))
	}

	return e.confirmed(intentID, txRef), nil
}

func (e *ChainExecutor) confirmed(intentID, txRef string) *Result {
	e.logger.NoticeWithChain(e.chain.Name, "Transfer confirmed for intent %s: %s", intentID, txRef)
	return &Result{
		TxRef: txRef,
		Proof: models.DeriveSettlementProof(txRef),
	}
}

// LookupTransfer re-queries the network for a previously submitted transfer.
// Used by the reconciler to resolve confirmation timeouts before deciding
// between completion and rollback.
func (e *ChainExecutor) LookupTransfer(ctx context.Context, txRef string) (TransferStatus, error) {
	receipt, err := e.receiptByHash(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TransferNotFound, nil
		}
		return TransferNotFound, fmt.Errorf("failed to look up transfer %s: %v", txRef, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TransferConfirmed, nil
	}
	return TransferFailed, nil
}

func (e *ChainExecutor) tokenDecimals(ctx context.Context) (uint8, error) {
	e.decimalsOnce.Do(func() {
		e.decimals, e.decimalsErr = e.token.Decimals(&bind.CallOpts{Context: ctx})
	})
	if e.decimalsErr != nil {
		return 0, fmt.Errorf("failed to resolve token decimals: %v", e.decimalsErr)
	}
	return e.decimals, nil
}
