package chains

import (
	"fmt"

	"moff.io/wallet-sync/pkg/errors"
)

// Chain describes one EVM network the wallet may report.
type Chain struct {
	ID    int
	IDHex string
	Name  string
	// RPCURLs are public endpoints, used when no hosted-node key is set.
	RPCURLs []string
	// AlchemyNetwork is the hosted-node subdomain, empty when unsupported.
	AlchemyNetwork string
}

var ErrUnknownChain = errors.New("unknown chain")

var (
	Mainnet = Chain{
		ID:             1,
		IDHex:          "0x1",
		Name:           "eth",
		RPCURLs:        []string{"https://cloudflare-eth.com"},
		AlchemyNetwork: "eth-mainnet",
	}
	Goerli = Chain{
		ID:             5,
		IDHex:          "0x5",
		Name:           "goerli",
		RPCURLs:        []string{"https://rpc.ankr.com/eth_goerli"},
		AlchemyNetwork: "eth-goerli",
	}
	Optimism = Chain{
		ID:             10,
		IDHex:          "0xa",
		Name:           "optimism",
		RPCURLs:        []string{"https://mainnet.optimism.io"},
		AlchemyNetwork: "opt-mainnet",
	}
	BSC = Chain{
		ID:      56,
		IDHex:   "0x38",
		Name:    "bsc",
		RPCURLs: []string{"https://bsc-dataseed.binance.org"},
	}
	Polygon = Chain{
		ID:             137,
		IDHex:          "0x89",
		Name:           "polygon",
		RPCURLs:        []string{"https://polygon-rpc.com"},
		AlchemyNetwork: "polygon-mainnet",
	}
	Fantom = Chain{
		ID:      250,
		IDHex:   "0xfa",
		Name:    "fantom",
		RPCURLs: []string{"https://rpc.ftm.tools"},
	}
	Arbitrum = Chain{
		ID:             42161,
		IDHex:          "0xa4b1",
		Name:           "arbitrum",
		RPCURLs:        []string{"https://arb1.arbitrum.io/rpc"},
		AlchemyNetwork: "arb-mainnet",
	}
	Avalanche = Chain{
		ID:      43114,
		IDHex:   "0xa86a",
		Name:    "avalanche",
		RPCURLs: []string{"https://api.avax.network/ext/bc/C/rpc"},
	}
	Sepolia = Chain{
		ID:             11155111,
		IDHex:          "0xaa36a7",
		Name:           "sepolia",
		RPCURLs:        []string{"https://rpc.sepolia.org"},
		AlchemyNetwork: "eth-sepolia",
	}
	Hardhat = Chain{
		ID:      31337,
		IDHex:   "0x7a69",
		Name:    "hardhat",
		RPCURLs: []string{"http://127.0.0.1:8545"},
	}
)

// Known lists every chain that can be selected by id from configuration.
var Known = List{Mainnet, Goerli, Optimism, BSC, Polygon, Fantom, Arbitrum, Avalanche, Sepolia, Hardhat}

// Default returns the chain set used when none is configured.
func Default() List {
	return List{Mainnet, Polygon, Optimism, Arbitrum}
}

// List is an ordered chain set.
type List []Chain

// ByID returns the chain with the given id.
func (l List) ByID(id int) (Chain, bool) {
	for _, c := range l {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

func (l List) Contains(id int) bool {
	_, ok := l.ByID(id)
	return ok
}

func (l List) IDs() []int {
	ids := make([]int, 0, len(l))
	for _, c := range l {
		ids = append(ids, c.ID)
	}
	return ids
}

// Resolve builds a list from known chain ids, keeping their order. An empty
// input yields Default().
func Resolve(ids []int) (List, error) {
	if len(ids) == 0 {
		return Default(), nil
	}
	out := make(List, 0, len(ids))
	for _, id := range ids {
		c, ok := Known.ByID(id)
		if !ok {
			return nil, errors.Wrap(ErrUnknownChain, fmt.Sprintf("chain id %d", id))
		}
		if !out.Contains(id) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RPCURL picks the hosted-node endpoint when alchemyKey is set and the chain
// supports it, otherwise the first public endpoint.
func (c Chain) RPCURL(alchemyKey string) (string, error) {
	if alchemyKey != "" && c.AlchemyNetwork != "" {
		return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", c.AlchemyNetwork, alchemyKey), nil
	}
	if len(c.RPCURLs) == 0 {
		return "", errors.Errorf("chain %d has no rpc endpoint", c.ID)
	}
	return c.RPCURLs[0], nil
}
