package chains

import "fmt"

// Chain describes a ledger the settler knows about: either a target chain it
// can transfer on, or a payer chain whose settlements are proven externally.
type Chain struct {
	Name       string
	ChainID    int64
	ExplorerTx string // format string with one %s for the tx reference
}

// registry maps chain names to their metadata
var registry = map[string]Chain{
	"ethereum":  {Name: "ethereum", ChainID: 1, ExplorerTx: "https://etherscan.io/tx/%s"},
	"polygon":   {Name: "polygon", ChainID: 137, ExplorerTx: "https://polygonscan.com/tx/%s"},
	"arbitrum":  {Name: "arbitrum", ChainID: 42161, ExplorerTx: "https://arbiscan.io/tx/%s"},
	"avalanche": {Name: "avalanche", ChainID: 43114, ExplorerTx: "https://snowtrace.io/tx/%s"},
	"bsc":       {Name: "bsc", ChainID: 56, ExplorerTx: "https://bscscan.com/tx/%s"},
	"base":      {Name: "base", ChainID: 8453, ExplorerTx: "https://basescan.org/tx/%s"},
	"solana":    {Name: "solana", ChainID: 0, ExplorerTx: "https://solscan.io/tx/%s"},
}

// Get returns the chain metadata for a given name
func Get(name string) (Chain, bool) {
	chain, exists := registry[name]
	return chain, exists
}

// IsKnown reports whether the chain name is registered
func IsKnown(name string) bool {
	_, exists := registry[name]
	return exists
}

// ChainID returns the numeric chain ID for a given name, 0 if unknown
func ChainID(name string) int64 {
	chain, exists := registry[name]
	if !exists {
		return 0
	}
	return chain.ChainID
}

// ExplorerTxURL returns the block explorer link for a transaction reference.
// Returns an empty string when either the chain or the reference is unknown,
// so receipt projections can carry partial data.
func ExplorerTxURL(name, txRef string) string {
	chain, exists := registry[name]
	if !exists || txRef == "" {
		return ""
	}
	return fmt.Sprintf(chain.ExplorerTx, txRef)
}
