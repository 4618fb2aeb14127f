package networks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain IDs of the networks the counter contract is deployed on.
const (
	EthereumMainnet int64 = 1
	EthereumGoerli  int64 = 5
	EthereumSepolia int64 = 11155111
	PolygonMainnet  int64 = 137
	PolygonMumbai   int64 = 80001
	BSCMainnet      int64 = 56
	BSCTestnet      int64 = 97
	Avalanche       int64 = 43114
	Local           int64 = 1337
)

// DefaultCounterAddress is the counter deployment shared by every known network.
var DefaultCounterAddress = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")

// Network describes a chain the application knows about.
type Network struct {
	ChainID         int64          `json:"chain_id"`
	Name            string         `json:"name"`
	CurrencySymbol  string         `json:"currency_symbol"`
	BlockExplorer   string         `json:"block_explorer,omitempty"`
	Testnet         bool           `json:"testnet"`
	CounterContract common.Address `json:"counter_contract"`
}

// Registry is a static lookup from chain ID to network metadata and contract address.
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	networks map[int64]Network
	fallback int64
}

// Default returns the registry of networks the counter dApp ships with.
// Unknown or absent chain IDs resolve to the local development network.
func Default() *Registry {
	list := []Network{
		{ChainID: EthereumMainnet, Name: "Ethereum Mainnet", CurrencySymbol: "ETH", BlockExplorer: "https://etherscan.io"},
		{ChainID: EthereumGoerli, Name: "Goerli Testnet", CurrencySymbol: "ETH", BlockExplorer: "https://goerli.etherscan.io", Testnet: true},
		{ChainID: EthereumSepolia, Name: "Sepolia Testnet", CurrencySymbol: "ETH", BlockExplorer: "https://sepolia.etherscan.io", Testnet: true},
		{ChainID: PolygonMainnet, Name: "Polygon Mainnet", CurrencySymbol: "MATIC", BlockExplorer: "https://polygonscan.com"},
		{ChainID: PolygonMumbai, Name: "Polygon Mumbai", CurrencySymbol: "MATIC", BlockExplorer: "https://mumbai.polygonscan.com", Testnet: true},
		{ChainID: BSCMainnet, Name: "BSC Mainnet", CurrencySymbol: "BNB", BlockExplorer: "https://bscscan.com"},
		{ChainID: BSCTestnet, Name: "BSC Testnet", CurrencySymbol: "BNB", BlockExplorer: "https://testnet.bscscan.com", Testnet: true},
		{ChainID: Avalanche, Name: "Avalanche C-Chain", CurrencySymbol: "AVAX", BlockExplorer: "https://snowtrace.io"},
		{ChainID: Local, Name: "Local Network", CurrencySymbol: "ETH", Testnet: true},
	}

	r := &Registry{
		networks: make(map[int64]Network, len(list)),
		fallback: Local,
	}
	for _, n := range list {
		n.CounterContract = DefaultCounterAddress
		r.networks[n.ChainID] = n
	}
	return r
}

// WithCounterContract returns a copy of the registry where every network
// points at the given counter deployment.
func (r *Registry) WithCounterContract(addr common.Address) *Registry {
	out := &Registry{
		networks: make(map[int64]Network, len(r.networks)),
		fallback: r.fallback,
	}
	for id, n := range r.networks {
		n.CounterContract = addr
		out.networks[id] = n
	}
	return out
}

// Lookup returns the metadata for chainID, if known.
func (r *Registry) Lookup(chainID int64) (Network, bool) {
	n, ok := r.networks[chainID]
	return n, ok
}

// AddressFor returns the counter contract address for chainID, defaulting to the
// local network's address when chainID is zero or unrecognized.
func (r *Registry) AddressFor(chainID int64) common.Address {
	if n, ok := r.networks[chainID]; ok {
		return n.CounterContract
	}
	return r.networks[r.fallback].CounterContract
}

// Name returns a display name for chainID.
func (r *Registry) Name(chainID int64) string {
	if chainID <= 0 {
		return "Unknown"
	}
	if n, ok := r.networks[chainID]; ok {
		return n.Name
	}
	return fmt.Sprintf("Chain ID: %d", chainID)
}

// IsTestnet reports whether chainID is a known test or local network.
func (r *Registry) IsTestnet(chainID int64) bool {
	n, ok := r.networks[chainID]
	return ok && n.Testnet
}

// ExplorerTxURL returns a block explorer link for a transaction hash, or an empty
// string when the network has no explorer.
func (r *Registry) ExplorerTxURL(chainID int64, hash string) string {
	n, ok := r.networks[chainID]
	if !ok || n.BlockExplorer == "" {
		return ""
	}
	return strings.TrimRight(n.BlockExplorer, "/") + "/tx/" + hash
}

// List returns all networks ordered by chain ID.
func (r *Registry) List() []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
