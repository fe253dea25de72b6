package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainConfig holds the connection to the target chain the settler transfers on
type ChainConfig struct {
	Name          string
	ChainID       int64
	RPCURL        string
	TokenAddress  string
	Client        *ethclient.Client
	Auth          *bind.TransactOpts
	GasMultiplier float64
}

// NewChainConfig creates a target chain configuration
func NewChainConfig(name string, chainID int64, rpcURL, tokenAddress string, gasMultiplier float64) *ChainConfig {
	if gasMultiplier <= 0 {
		gasMultiplier = 1.1 // default gas multiplier (10% buffer)
	}
	return &ChainConfig{
		Name:          name,
		ChainID:       chainID,
		RPCURL:        rpcURL,
		TokenAddress:  tokenAddress,
		GasMultiplier: gasMultiplier,
	}
}

// Connect establishes the RPC connection and sets up the settlement wallet signer
func (c *ChainConfig) Connect(privateKey string) error {
	client, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	c.Client = client

	if privateKey != "" {
		auth, err := createAuthenticator(client, privateKey)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %v", err)
		}
		c.Auth = auth
	}

	return nil
}

// SettlementAccount returns the address of the settlement wallet
func (c *ChainConfig) SettlementAccount() common.Address {
	if c.Auth == nil {
		return common.Address{}
	}
	return c.Auth.From
}

// UpdateGasPrice refreshes the gas price from current network conditions
func (c *ChainConfig) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multipliedGasPrice := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)

	finalGasPrice := new(big.Int)
	multipliedGasPrice.Int(finalGasPrice)

	if c.Auth != nil {
		c.Auth.GasPrice = finalGasPrice
	}

	return finalGasPrice, nil
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *ChainConfig) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.Client == nil {
		return 0, fmt.Errorf("client not connected")
	}

	return c.Client.BlockNumber(ctx)
}

// Helper function to create authenticator
func createAuthenticator(client *ethclient.Client, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}
