// Package connection keeps the observable store in step with the wallet: it
// builds the wallet configuration, reconciles account and network events
// into the store and exposes the connect and disconnect actions.
package connection

import (
	"context"
	"sync"
	"time"

	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/internal/modal"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/wallet"
)

const defaultPollInterval = 250 * time.Millisecond

// Authenticator is the sign-in gate as seen by the reconciler.
type Authenticator interface {
	SignIn(ctx context.Context, signer signin.Signer, address string, chainID int) error
	CheckSession(ctx context.Context) (bool, error)
	Paths() signin.Paths
}

type (
	ClientFactory func(ctx context.Context, opts wallet.ConfigOptions) (wallet.Client, error)
	ModalFactory  func(client wallet.Client, connectors []wallet.Connector, opts Options) modal.Controller
	GateFactory   func(opts signin.Options) (Authenticator, error)
)

type Option func(*Manager)

func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

func WithModalFactory(f ModalFactory) Option {
	return func(m *Manager) { m.newModal = f }
}

func WithGateFactory(f GateFactory) Option {
	return func(m *Manager) { m.newGate = f }
}

// WithPollInterval changes how often bootstrap polls a wallet that is still
// connecting.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// attempt is one login in flight. done is closed when it settles.
type attempt struct {
	address    string
	chainID    int
	generation uint64
	done       chan struct{}
	err        error
}

// Manager owns the single active configuration. Store updates are made with
// mu held so identity fields always change together and in order.
type Manager struct {
	store        *store.Store
	newClient    ClientFactory
	newModal     ModalFactory
	newGate      GateFactory
	pollInterval time.Duration

	mu          sync.Mutex
	client      wallet.Client
	chains      chains.List
	gate        Authenticator
	phase       Phase
	generation  uint64
	pending     *attempt
	stopAccount wallet.Unsubscribe
	stopNetwork wallet.Unsubscribe
	bg          context.Context
	cancelBg    context.CancelFunc
}

func NewManager(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        st,
		newClient:    defaultClientFactory,
		newModal:     defaultModalFactory,
		newGate:      defaultGateFactory,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bg, m.cancelBg = context.WithCancel(context.Background())
	return m
}

func (m *Manager) Store() *store.Store { return m.store }

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Client returns the active wallet config, nil before Configure.
func (m *Manager) Client() wallet.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) Chains() chains.List {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chains
}

// Close tears down the active configuration.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.stopListenersLocked()
	client := m.client
	m.client = nil
	m.generation++
	m.pending = nil
	m.phase = PhaseUninitialized
	m.cancelBg()
	m.mu.Unlock()
	if md := m.store.Modal(); md != nil {
		md.Release()
	}
	if client == nil {
		return nil
	}
	return client.Close()
}

func (m *Manager) stopListenersLocked() {
	if m.stopAccount != nil {
		m.stopAccount()
		m.stopAccount = nil
	}
	if m.stopNetwork != nil {
		m.stopNetwork()
		m.stopNetwork = nil
	}
}

// resetLocked drops the identity fields in one store update and invalidates
// any login in flight.
func (m *Manager) resetLocked() {
	m.generation++
	m.pending = nil
	if m.phase != PhaseUninitialized {
		m.phase = PhaseDisconnected
	}
	m.store.Update(func(s *store.Snapshot) {
		s.Connected = false
		s.ChainID = 0
		s.SignerAddress = ""
		s.Loading = false
	})
}

func (m *Manager) promoteLocked(address string, chainID int) {
	m.phase = PhaseConnected
	m.store.Update(func(s *store.Snapshot) {
		s.Connected = true
		s.ChainID = chainID
		s.SignerAddress = address
		s.Loading = false
	})
}
