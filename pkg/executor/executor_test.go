package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/blockchain"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

var (
	walletAddr    = common.HexToAddress("0xAAA0000000000000000000000000000000000001")
	recipientAddr = "0x1111111111111111111111111111111111111111"
)

// fakeToken is a test double for the ERC-20 binding
type fakeToken struct {
	balance     *big.Int
	decimals    uint8
	balanceErr  error
	transferErr error

	transferCalls int
	lastTo        common.Address
	lastValue     *big.Int
}

func (f *fakeToken) BalanceOf(_ *bind.CallOpts, _ common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeToken) Decimals(_ *bind.CallOpts) (uint8, error) {
	return f.decimals, nil
}

func (f *fakeToken) Transfer(_ *bind.TransactOpts, to common.Address, value *big.Int) (*types.Transaction, error) {
	f.transferCalls++
	f.lastTo = to
	f.lastValue = value
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return types.NewTransaction(1, to, big.NewInt(0), 21000, big.NewInt(1), nil), nil
}

func newTestExecutor(token *fakeToken) *ChainExecutor {
	chain := blockchain.NewChainConfig("base", 8453, "http://localhost:0", "0xToken", 1.1)
	chain.Auth = &bind.TransactOpts{From: walletAddr}

	e := New(chain, token, "USDC", 50*time.Millisecond, &logger.EmptyLogger{})
	// Confirm instantly by default; individual tests override
	e.waitMined = func(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
	}
	e.receiptByHash = func(_ context.Context, _ common.Hash) (*types.Receipt, error) {
		return nil, ethereum.NotFound
	}
	return e
}

func TestExecuteSuccess(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)

	result, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.NoError(t, err)
	assert.NotEmpty(t, result.TxRef)
	assert.Equal(t, models.DeriveSettlementProof(result.TxRef), result.Proof)

	// Exact base-unit conversion: 0.05 with 6 decimals is 50000, no rounding
	assert.Equal(t, 1, token.transferCalls)
	assert.Equal(t, "50000", token.lastValue.String())
	assert.Equal(t, common.HexToAddress(recipientAddr), token.lastTo)
}

func TestExecuteInsufficientFunds(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(100), decimals: 6}
	e := newTestExecutor(token)

	_, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, models.ReasonInsufficientFunds, models.SettlementReason(err))

	// Balance check happens before submission: no gas burned
	assert.Equal(t, 0, token.transferCalls)
}

func TestExecuteExactBalanceSufficient(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(50000), decimals: 6}
	e := newTestExecutor(token)

	_, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.NoError(t, err)
	assert.Equal(t, 1, token.transferCalls)
}

func TestExecuteAmountTooPrecise(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)

	// 7 fractional digits on a 6-decimal asset must fail, not round
	_, err := e.Execute(context.Background(), "intent-1", "0.0000001", recipientAddr)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, 0, token.transferCalls)
}

func TestExecuteInvalidRecipient(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)

	_, err := e.Execute(context.Background(), "intent-1", "0.05", "not-an-address")
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, 0, token.transferCalls)
}

func TestExecuteNoWallet(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)
	e.chain.Auth = nil

	_, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
}

func TestExecuteBalanceQueryFails(t *testing.T) {
	token := &fakeToken{balanceErr: errors.New("rpc down"), decimals: 6}
	e := newTestExecutor(token)

	_, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.Equal(t, models.ReasonNetwork, models.SettlementReason(err))
}

func TestExecuteSubmitFails(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6, transferErr: errors.New("nonce too low")}
	e := newTestExecutor(token)

	result, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.Nil(t, result)
	assert.Equal(t, models.ReasonNetwork, models.SettlementReason(err))
}

func TestExecuteReverted(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)
	e.waitMined = func(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash()}, nil
	}

	result, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.Equal(t, models.ReasonReverted, models.SettlementReason(err))
	assert.NotEmpty(t, result.TxRef)
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)
	e.waitMined = func(ctx context.Context, _ *types.Transaction) (*types.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.Equal(t, models.ReasonConfirmationTimeout, models.SettlementReason(err))

	// The tx ref survives the timeout so the outcome can be reconciled later
	assert.NotNil(t, result)
	assert.NotEmpty(t, result.TxRef)
	assert.Empty(t, result.Proof)
}

func TestExecuteLateConfirmation(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)
	e.waitMined = func(ctx context.Context, _ *types.Transaction) (*types.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	// The receipt probe after the deadline finds the transfer confirmed
	e.receiptByHash = func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
	}

	result, err := e.Execute(context.Background(), "intent-1", "0.05", recipientAddr)
	assert.NoError(t, err)
	assert.NotEmpty(t, result.Proof)
}

// A caller walking away mid-wait must not turn a submitted transfer into a
// retriable failure: the outcome is unknown, exactly like a timeout.
func TestExecuteCallerCanceledMidWait(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)

	ctx, cancel := context.WithCancel(context.Background())
	e.waitMined = func(waitCtx context.Context, _ *types.Transaction) (*types.Receipt, error) {
		cancel()
		<-waitCtx.Done()
		return nil, waitCtx.Err()
	}

	result, err := e.Execute(ctx, "intent-1", "0.05", recipientAddr)
	assert.Equal(t, models.ReasonConfirmationTimeout, models.SettlementReason(err))
	assert.False(t, models.RetriableSettlement(err))
	assert.Equal(t, 1, token.transferCalls)
	assert.NotNil(t, result)
	assert.NotEmpty(t, result.TxRef)
}

func TestExecuteLateConfirmationAfterCancel(t *testing.T) {
	token := &fakeToken{balance: big.NewInt(1_000_000), decimals: 6}
	e := newTestExecutor(token)

	ctx, cancel := context.WithCancel(context.Background())
	e.waitMined = func(waitCtx context.Context, _ *types.Transaction) (*types.Receipt, error) {
		cancel()
		<-waitCtx.Done()
		return nil, waitCtx.Err()
	}
	// The probe must run on a detached context so a canceled caller still
	// gets the verdict
	e.receiptByHash = func(probeCtx context.Context, hash common.Hash) (*types.Receipt, error) {
		assert.NoError(t, probeCtx.Err())
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
	}

	result, err := e.Execute(ctx, "intent-1", "0.05", recipientAddr)
	assert.NoError(t, err)
	assert.NotEmpty(t, result.Proof)
}

func TestLookupTransfer(t *testing.T) {
	token := &fakeToken{decimals: 6}
	e := newTestExecutor(token)

	tests := []struct {
		name     string
		receipt  *types.Receipt
		err      error
		expected TransferStatus
		wantErr  bool
	}{
		{name: "confirmed", receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}, expected: TransferConfirmed},
		{name: "reverted", receipt: &types.Receipt{Status: types.ReceiptStatusFailed}, expected: TransferFailed},
		{name: "not found", err: ethereum.NotFound, expected: TransferNotFound},
		{name: "network error", err: errors.New("rpc down"), expected: TransferNotFound, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e.receiptByHash = func(_ context.Context, _ common.Hash) (*types.Receipt, error) {
				return tc.receipt, tc.err
			}
			status, err := e.LookupTransfer(context.Background(), "0xabc")
			assert.Equal(t, tc.expected, status)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
