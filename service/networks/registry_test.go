package networks

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressFor(t *testing.T) {
	r := Default()

	tests := []struct {
		name    string
		chainID int64
	}{
		{name: "mainnet", chainID: EthereumMainnet},
		{name: "polygon", chainID: PolygonMainnet},
		{name: "absent chain id", chainID: 0},
		{name: "unknown chain id", chainID: 999999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, DefaultCounterAddress, r.AddressFor(tt.chainID))
		})
	}
}

func TestWithCounterContract_OverridesFallbackToo(t *testing.T) {
	override := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	r := Default().WithCounterContract(override)

	assert.Equal(t, override, r.AddressFor(EthereumSepolia))
	assert.Equal(t, override, r.AddressFor(424242))

	// the original registry is untouched
	assert.Equal(t, DefaultCounterAddress, Default().AddressFor(EthereumSepolia))
}

func TestName(t *testing.T) {
	r := Default()

	assert.Equal(t, "Ethereum Mainnet", r.Name(1))
	assert.Equal(t, "Local Network", r.Name(1337))
	assert.Equal(t, "Chain ID: 31337", r.Name(31337))
	assert.Equal(t, "Unknown", r.Name(0))
}

func TestIsTestnet(t *testing.T) {
	r := Default()

	for _, id := range []int64{EthereumGoerli, EthereumSepolia, PolygonMumbai, BSCTestnet, Local} {
		assert.True(t, r.IsTestnet(id), "chain %d", id)
	}
	for _, id := range []int64{EthereumMainnet, PolygonMainnet, BSCMainnet, Avalanche, 31337} {
		assert.False(t, r.IsTestnet(id), "chain %d", id)
	}
}

func TestExplorerTxURL(t *testing.T) {
	r := Default()

	assert.Equal(t, "https://etherscan.io/tx/0xabc", r.ExplorerTxURL(EthereumMainnet, "0xabc"))
	assert.Empty(t, r.ExplorerTxURL(Local, "0xabc"))
	assert.Empty(t, r.ExplorerTxURL(31337, "0xabc"))
}

func TestList_SortedByChainID(t *testing.T) {
	list := Default().List()
	require.Len(t, list, 9)

	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ChainID, list[i].ChainID)
	}

	n, ok := Default().Lookup(Avalanche)
	require.True(t, ok)
	assert.Equal(t, "AVAX", n.CurrencySymbol)
}
