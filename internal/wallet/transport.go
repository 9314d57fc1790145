package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/pkg/errors"
)

// Transport is the RPC client of one chain.
type Transport struct {
	ChainID int
	URL     string
	client  *ethclient.Client
}

func dialTransport(ctx context.Context, chain chains.Chain, alchemyKey string) (*Transport, error) {
	url, err := chain.RPCURL(alchemyKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial chain %d transport", chain.ID)
	}
	return &Transport{ChainID: chain.ID, URL: url, client: client}, nil
}

// BlockNumber returns the latest block seen by the chain endpoint.
func (t *Transport) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := t.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "query chain %d block number", t.ChainID)
	}
	return n, nil
}

func (t *Transport) Close() {
	if t.client != nil {
		t.client.Close()
	}
}
