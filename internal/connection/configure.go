package connection

import (
	"context"
	"time"

	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/internal/modal"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/internal/wallet/local"
	"moff.io/wallet-sync/internal/walletconnect"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

// Options configure the wallet. Only ProjectID is required.
type Options struct {
	App       walletconnect.Meta
	ProjectID string
	// Chains default to chains.Default().
	Chains chains.List
	// Connectors replace the default injected, WalletConnect and Coinbase
	// Wallet set.
	Connectors []wallet.Connector
	AlchemyKey string
	// InjectedKey is the hex private key of the injected connector. Without
	// it the injected connector is not ready.
	InjectedKey string
	BridgeURL   string
	// AutoConnect restores the last connector on startup, true when nil.
	AutoConnect *bool
	// SignIn enables the sign-in gate.
	SignIn  *signin.Options
	Storage wallet.Storage

	ModalTimeout time.Duration
	QRFilePath   string
}

func (o Options) autoConnect() bool {
	return o.AutoConnect == nil || *o.AutoConnect
}

func defaultClientFactory(ctx context.Context, opts wallet.ConfigOptions) (wallet.Client, error) {
	return wallet.NewConfig(ctx, opts)
}

func defaultGateFactory(opts signin.Options) (Authenticator, error) {
	return signin.NewGate(opts)
}

// defaultModalFactory binds a QR modal to the WalletConnect connector.
func defaultModalFactory(client wallet.Client, connectors []wallet.Connector, opts Options) modal.Controller {
	var conn wallet.Connector
	for _, c := range connectors {
		if c.ID() == walletconnect.ID {
			conn = c
			break
		}
	}
	return modal.NewQR(modal.QROptions{
		Client:    client,
		Connector: conn,
		Timeout:   opts.ModalTimeout,
		FilePath:  opts.QRFilePath,
	})
}

func defaultConnectors(opts Options, list chains.List) ([]wallet.Connector, error) {
	injected, err := local.New(opts.InjectedKey, list[0].ID)
	if err != nil {
		return nil, errors.Wrap(err, "injected connector")
	}
	return []wallet.Connector{
		injected,
		walletconnect.New(walletconnect.Options{
			ProjectID: opts.ProjectID,
			App:       opts.App,
			BridgeURL: opts.BridgeURL,
		}),
		walletconnect.New(walletconnect.Options{
			ID:        walletconnect.CoinbaseID,
			Name:      walletconnect.CoinbaseName,
			ProjectID: opts.ProjectID,
			App:       opts.App,
			BridgeURL: opts.BridgeURL,
		}),
	}, nil
}

// Configure builds the wallet configuration, replaces the active one,
// publishes it into the store and bootstraps. Nothing is published when
// building fails.
func (m *Manager) Configure(ctx context.Context, opts Options) error {
	if opts.ProjectID == "" {
		return ErrProjectIDRequired
	}
	list := opts.Chains
	if len(list) == 0 {
		list = chains.Default()
	}
	connectors := opts.Connectors
	if len(connectors) == 0 {
		var err error
		if connectors, err = defaultConnectors(opts, list); err != nil {
			return err
		}
	}
	var gate Authenticator
	if opts.SignIn != nil {
		var err error
		if gate, err = m.newGate(*opts.SignIn); err != nil {
			return errors.Wrap(err, "sign-in gate")
		}
	}
	client, err := m.newClient(ctx, wallet.ConfigOptions{
		Chains:     list,
		AlchemyKey: opts.AlchemyKey,
		Connectors: connectors,
		Storage:    opts.Storage,
	})
	if err != nil {
		return errors.Wrap(err, "build wallet config")
	}

	m.mu.Lock()
	m.stopListenersLocked()
	previous := m.client
	m.cancelBg()
	m.bg, m.cancelBg = context.WithCancel(context.Background())
	m.client, m.chains, m.gate = client, list, gate
	m.generation++
	m.pending = nil
	m.phase = PhaseUninitialized
	m.store.Update(func(s *store.Snapshot) {
		s.Connected, s.ChainID, s.SignerAddress = false, 0, ""
		s.Loaded = false
	})
	m.mu.Unlock()
	if md := m.store.Modal(); md != nil {
		md.Release()
	}
	if previous != nil {
		if err := previous.Close(); err != nil {
			log.Warnf("connection - close previous wallet config: %v", err)
		}
	}

	if opts.autoConnect() {
		if err := client.Reconnect(ctx); err != nil {
			log.Warnf("connection - autoconnect: %v", err)
		}
	}

	published := store.Published{
		Connectors: connectors,
		Modal:      m.newModal(client, connectors, opts),
		Config:     client,
	}
	if gate != nil {
		paths := gate.Paths()
		published.SignIn = &paths
	}
	m.store.Publish(published)
	m.store.Update(func(s *store.Snapshot) { s.Loaded = true })
	log.Infof("connection - configured %d chains, %d connectors, sign-in %v", len(list), len(connectors), gate != nil)

	if err := m.Init(ctx); err != nil && !errors.Is(err, ErrWalletDisconnected) {
		return err
	}
	return nil
}
