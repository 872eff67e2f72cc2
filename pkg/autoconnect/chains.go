package autoconnect

import (
	"fmt"

	"github.com/ghiblify/wallet-middleware/pkg/provider"
)

// Network is a supported payment network.
type Network string

const (
	NetworkBase Network = "base"
	NetworkCelo Network = "celo"
	NetworkAuto Network = "auto"
)

// Chain ids for the supported networks.
const (
	BaseChainID int64 = 8453
	CeloChainID int64 = 42220
)

// fallbackOrder is the fixed priority list tried when the preferred
// network fails.
var fallbackOrder = []Network{NetworkBase, NetworkCelo}

// chainDescriptors are the wallet_addEthereumChain payloads used when a
// wallet does not know a chain yet.
var chainDescriptors = map[Network]provider.ChainDescriptor{
	NetworkBase: {
		ChainID:   provider.ChainIDHex(BaseChainID),
		ChainName: "Base",
		NativeCurrency: provider.NativeCurrency{
			Name:     "Ether",
			Symbol:   "ETH",
			Decimals: 18,
		},
		RPCURLs:           []string{"https://mainnet.base.org"},
		BlockExplorerURLs: []string{"https://basescan.org"},
	},
	NetworkCelo: {
		ChainID:   provider.ChainIDHex(CeloChainID),
		ChainName: "Celo",
		NativeCurrency: provider.NativeCurrency{
			Name:     "Celo",
			Symbol:   "CELO",
			Decimals: 18,
		},
		RPCURLs:           []string{"https://forno.celo.org"},
		BlockExplorerURLs: []string{"https://celoscan.io"},
	},
}

// ChainID returns the chain id a network requires.
func ChainID(network Network) (int64, error) {
	switch network {
	case NetworkBase:
		return BaseChainID, nil
	case NetworkCelo:
		return CeloChainID, nil
	}
	return 0, fmt.Errorf("no chain id for network %q", network)
}

// ParseNetwork converts a string into a Network, rejecting unknown values.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkBase:
		return NetworkBase, nil
	case NetworkCelo:
		return NetworkCelo, nil
	case NetworkAuto:
		return NetworkAuto, nil
	}
	return "", fmt.Errorf("unknown network: %q", s)
}
