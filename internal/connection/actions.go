package connection

import (
	"context"

	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/internal/wallet/local"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

// Result is what the connect actions report back to the UI layer. Err is
// set whenever Success is false.
type Result struct {
	Success bool
	Account wallet.Account
	Err     error
}

func failed(err error) Result { return Result{Err: err} }

func (m *Manager) disconnectWallet(ctx context.Context, client wallet.Client) {
	if client == nil {
		return
	}
	if err := client.Disconnect(ctx); err != nil {
		log.Warnf("connection - wallet disconnect: %v", err)
	}
}

// Disconnect disconnects the wallet and clears the identity fields in one
// update. It never fails from the caller's point of view and calling it
// again is harmless.
func (m *Manager) Disconnect(ctx context.Context) {
	m.disconnectWallet(ctx, m.Client())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Connect connects the injected connector on chainID, 0 meaning mainnet, and
// then reconciles the store, signing in when the gate is enabled.
func (m *Manager) Connect(ctx context.Context, chainID int) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(errors.Errorf("connect panicked: %v", r))
			log.Errorf("connection - %v", res.Err)
		}
	}()
	if chainID == 0 {
		chainID = chains.Mainnet.ID
	}
	client := m.Client()
	if client == nil {
		return failed(ErrNotConfigured)
	}
	if !m.Chains().Contains(chainID) {
		return failed(errors.Wrapf(ErrUnsupportedChain, "chain %d", chainID))
	}
	conn := m.ConnectorByID(local.ID)
	if conn == nil {
		return failed(errors.Wrap(wallet.ErrConnectorNotFound, local.ID))
	}
	acct, err := client.Connect(ctx, wallet.ConnectParams{ChainID: chainID, Connector: conn})
	if err != nil {
		log.Infof("connection - connect %s: %v", conn.ID(), err)
		return failed(err)
	}
	if err := m.refresh(ctx, client); err != nil {
		return Result{Account: acct, Err: err}
	}
	return Result{Success: true, Account: client.GetAccount()}
}

// OpenModalAndConnect opens the modal and waits for whichever comes first:
// an account connecting or the modal closing. Both subscriptions are
// released before it returns.
func (m *Manager) OpenModalAndConnect(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(errors.Errorf("open modal panicked: %v", r))
			log.Errorf("connection - %v", res.Err)
		}
	}()
	client := m.Client()
	md := m.store.Modal()
	if client == nil || md == nil {
		return failed(ErrNotConfigured)
	}
	if client.GetAccount().IsConnected() {
		if err := m.refresh(ctx, client); err != nil {
			return failed(err)
		}
		return Result{Success: true, Account: client.GetAccount()}
	}

	connected := make(chan wallet.Account, 1)
	closed := make(chan struct{}, 1)
	stopAccount := client.WatchAccount(func(a wallet.Account) {
		if !a.IsConnected() {
			return
		}
		select {
		case connected <- a:
		default:
		}
	})
	defer stopAccount()
	stopClose := md.SubscribeClose(func() {
		select {
		case closed <- struct{}{}:
		default:
		}
	})
	defer stopClose()

	if err := md.Open(ctx); err != nil {
		return failed(errors.Wrap(err, "open modal"))
	}
	select {
	case acct := <-connected:
		stopAccount()
		stopClose()
		if err := m.refresh(ctx, client); err != nil {
			return Result{Account: acct, Err: err}
		}
		return Result{Success: true, Account: client.GetAccount()}
	case <-closed:
		return failed(ErrModalClosed)
	case <-ctx.Done():
		md.Close()
		return failed(ctx.Err())
	}
}

// ConnectorByID looks up a configured connector, nil when unknown.
func (m *Manager) ConnectorByID(id string) wallet.Connector {
	return m.store.ConnectorByID(id)
}
