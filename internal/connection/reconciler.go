package connection

import (
	"context"
	"time"

	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/common"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

// Init replaces the wallet listeners and bootstraps the store from the
// wallet's current account. It polls while the wallet is still connecting
// and only gives up when ctx is done.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	if client == nil {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	m.stopListenersLocked()
	m.stopAccount = client.WatchAccount(func(a wallet.Account) { m.onAccount(client, a) })
	m.stopNetwork = client.WatchNetwork(func(n wallet.Network) { m.onNetwork(client, n) })
	m.phase = PhaseBootstrapping
	generation := m.generation
	m.store.Update(func(s *store.Snapshot) { s.Loading = true })
	m.mu.Unlock()

	return m.bootstrap(ctx, client, generation)
}

func (m *Manager) waitSettled(ctx context.Context, client wallet.Client) (wallet.Account, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		acct := client.GetAccount()
		if !acct.IsConnecting() {
			return acct, nil
		}
		log.Debugf("connection - wallet still %s, polling", acct.Status)
		select {
		case <-ctx.Done():
			return wallet.Account{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) bootstrap(ctx context.Context, client wallet.Client, generation uint64) error {
	acct, err := m.waitSettled(ctx, client)
	if err != nil {
		m.mu.Lock()
		if m.generation == generation && m.client == client {
			m.resetLocked()
		}
		m.mu.Unlock()
		return errors.Wrap(err, "wait for wallet to settle")
	}

	sessionOK := true
	if acct.IsConnected() {
		if err := acct.Validate(); err != nil {
			log.Warnf("connection - %v", err)
			sessionOK = false
		} else if gate := m.gateOf(); gate != nil {
			ok, err := gate.CheckSession(ctx)
			if err != nil {
				log.Warnf("connection - session check: %v", err)
			}
			sessionOK = ok
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation || m.client != client || m.phase != PhaseBootstrapping {
		// A disconnect or an explicit connect took over while bootstrapping.
		m.store.Update(func(s *store.Snapshot) { s.Loading = false })
		return nil
	}
	current := client.GetAccount()
	if sessionOK && current.IsConnected() && current.Address == acct.Address && m.chains.Contains(current.ChainID) {
		m.promoteLocked(current.Address, current.ChainID)
		log.Infof("connection - restored %s on chain %d", common.ShortAddress(current.Address), current.ChainID)
		return nil
	}
	m.resetLocked()
	if current.IsConnected() && current.Address != acct.Address {
		// The account changed while the session was being checked.
		m.dispatchLocked(m.stateLocked(), current)
		return nil
	}
	if current.IsDisconnected() {
		return ErrWalletDisconnected
	}
	return nil
}

func (m *Manager) gateOf() Authenticator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate
}

func (m *Manager) stateLocked() State {
	snap := m.store.Snapshot()
	s := State{Connected: snap.Connected, Loaded: snap.Loaded, SignerAddress: snap.SignerAddress}
	if m.pending != nil {
		s.PendingAddress = m.pending.address
	}
	return s
}

func (m *Manager) onAccount(client wallet.Client, a wallet.Account) {
	m.mu.Lock()
	if m.client != client || m.phase == PhaseBootstrapping || m.phase == PhaseUninitialized {
		m.mu.Unlock()
		return
	}
	if current := client.GetAccount(); current.Status != a.Status || current.Address != a.Address {
		// A later change is still queued behind this event.
		m.mu.Unlock()
		return
	}
	m.dispatchLocked(m.stateLocked(), a)
	m.mu.Unlock()
}

// dispatchLocked applies the decision for a. Logins through the gate run on
// their own goroutine; without a gate they settle before returning.
func (m *Manager) dispatchLocked(s State, a wallet.Account) {
	switch Decide(s, a) {
	case ActionLogin:
		at := m.beginLoginLocked(a)
		if m.gate == nil {
			m.settleLocked(at, m.checkChainLocked(at))
			return
		}
		go func() { _ = m.runLogin(m.bg, at) }()
	case ActionDisconnect:
		log.Infof("connection - wallet moved away from %s, disconnecting", common.ShortAddress(s.SignerAddress))
		m.resetLocked()
		go m.disconnectWallet(m.bg, m.client)
	}
}

func (m *Manager) onNetwork(client wallet.Client, n wallet.Network) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != client || m.phase != PhaseConnected || n.ChainID == 0 {
		return
	}
	if client.GetNetwork().ChainID != n.ChainID {
		return
	}
	if n.Unsupported || !m.chains.Contains(n.ChainID) {
		log.Infof("connection - wallet switched to unsupported chain %d, disconnecting", n.ChainID)
		m.resetLocked()
		go m.disconnectWallet(m.bg, client)
		return
	}
	m.store.Update(func(s *store.Snapshot) { s.ChainID = n.ChainID })
}

func (m *Manager) beginLoginLocked(a wallet.Account) *attempt {
	m.generation++
	at := &attempt{
		address:    a.Address,
		chainID:    a.ChainID,
		generation: m.generation,
		done:       make(chan struct{}),
	}
	m.pending = at
	if m.gate != nil {
		m.phase = PhasePendingAuthentication
	}
	return at
}

func (m *Manager) checkChainLocked(at *attempt) error {
	if !m.chains.Contains(at.chainID) {
		return errors.Wrapf(ErrUnsupportedChain, "chain %d", at.chainID)
	}
	return nil
}

// runLogin takes at through the gate and settles it.
func (m *Manager) runLogin(ctx context.Context, at *attempt) error {
	m.mu.Lock()
	err := m.checkChainLocked(at)
	gate, client := m.gate, m.client
	m.mu.Unlock()

	if err == nil && gate != nil {
		if client == nil {
			err = ErrNotConfigured
		} else {
			err = gate.SignIn(ctx, signin.SignerFunc(client.SignMessage), at.address, at.chainID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleLocked(at, err)
}

func (m *Manager) settleLocked(at *attempt, err error) error {
	defer close(at.done)
	if m.generation != at.generation {
		at.err = errStaleAttempt
		return at.err
	}
	m.pending = nil
	if err != nil {
		log.Warnf("connection - login of %s failed: %v", common.ShortAddress(at.address), err)
		at.err = err
		m.phase = PhaseDisconnected
		m.store.Update(func(s *store.Snapshot) { s.Loading = false })
		return err
	}
	m.promoteLocked(at.address, at.chainID)
	log.Infof("connection - %s connected on chain %d", common.ShortAddress(at.address), at.chainID)
	return nil
}

// refresh brings the store in line with the wallet after an explicit
// connect, waiting for a login already in flight for the same address.
func (m *Manager) refresh(ctx context.Context, client wallet.Client) error {
	acct := client.GetAccount()
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	if !acct.IsConnected() {
		m.mu.Unlock()
		return wallet.ErrNotConnected
	}
	snap := m.store.Snapshot()
	if snap.Connected && snap.SignerAddress == acct.Address {
		if m.chains.Contains(acct.ChainID) {
			m.store.Update(func(s *store.Snapshot) { s.ChainID = acct.ChainID })
		}
		m.mu.Unlock()
		return nil
	}
	if at := m.pending; at != nil && at.address == acct.Address {
		m.mu.Unlock()
		select {
		case <-at.done:
			return at.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if snap.Connected {
		m.resetLocked()
	}
	at := m.beginLoginLocked(acct)
	m.mu.Unlock()
	return m.runLogin(ctx, at)
}
