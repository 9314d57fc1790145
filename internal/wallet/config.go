package wallet

import (
	"context"
	"sync"

	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

const lastConnectorKey = "wallet.connected_connector"

// ConfigOptions wires a Config.
type ConfigOptions struct {
	Chains     chains.List
	AlchemyKey string
	Connectors []Connector
	Storage    Storage
}

var _ Client = (*Config)(nil)

// Config is the wired wallet SDK: chains with their transports, the
// connector set and the current account. Watchers are called on a dedicated
// goroutine in the order changes happened.
type Config struct {
	chains     chains.List
	transports map[int]*Transport
	connectors []Connector
	storage    Storage
	events     *dispatcher

	mu         sync.Mutex
	account    Account
	active     Connector
	stopNotify Unsubscribe
	// settled is the last account that was not connecting. connecting names
	// the attempt that owns the current transient status, 0 when none does.
	settled    Account
	attempts   uint64
	connecting uint64

	watchMu         sync.Mutex
	nextWatchID     uint64
	accountWatchers []accountWatcher
	networkWatchers []networkWatcher
}

type accountWatcher struct {
	id uint64
	h  AccountHandler
}

type networkWatcher struct {
	id uint64
	h  NetworkHandler
}

// NewConfig dials one transport per chain. A dial failure closes what was
// already dialed and is returned as is.
func NewConfig(ctx context.Context, opts ConfigOptions) (*Config, error) {
	if len(opts.Chains) == 0 {
		return nil, errors.New("wallet config needs at least one chain")
	}
	storage := opts.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	c := &Config{
		chains:     opts.Chains,
		transports: make(map[int]*Transport, len(opts.Chains)),
		connectors: append([]Connector(nil), opts.Connectors...),
		storage:    storage,
	}
	for _, chain := range opts.Chains {
		t, err := dialTransport(ctx, chain, opts.AlchemyKey)
		if err != nil {
			c.closeTransports()
			return nil, err
		}
		c.transports[chain.ID] = t
	}
	c.events = newDispatcher()
	return c, nil
}

func (c *Config) Chains() chains.List { return c.chains }

func (c *Config) Connectors() []Connector {
	return append([]Connector(nil), c.connectors...)
}

// Transport returns the transport of chainID, nil when the chain is not configured.
func (c *Config) Transport(chainID int) *Transport {
	return c.transports[chainID]
}

func (c *Config) GetAccount() Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Config) GetNetwork() Network {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkLocked()
}

func (c *Config) networkLocked() Network {
	if c.account.ChainID == 0 {
		return Network{}
	}
	return Network{ChainID: c.account.ChainID, Unsupported: !c.chains.Contains(c.account.ChainID)}
}

func (c *Config) WatchAccount(h AccountHandler) Unsubscribe {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	c.nextWatchID++
	id := c.nextWatchID
	c.accountWatchers = append(c.accountWatchers, accountWatcher{id: id, h: h})
	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		for i, w := range c.accountWatchers {
			if w.id == id {
				c.accountWatchers = append(c.accountWatchers[:i:i], c.accountWatchers[i+1:]...)
				return
			}
		}
	}
}

func (c *Config) WatchNetwork(h NetworkHandler) Unsubscribe {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	c.nextWatchID++
	id := c.nextWatchID
	c.networkWatchers = append(c.networkWatchers, networkWatcher{id: id, h: h})
	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		for i, w := range c.networkWatchers {
			if w.id == id {
				c.networkWatchers = append(c.networkWatchers[:i:i], c.networkWatchers[i+1:]...)
				return
			}
		}
	}
}

// emitAccount and emitNetwork must be called with mu held so that posts keep
// the order of the state changes.
func (c *Config) emitAccount() {
	acct := c.account
	c.events.post(func() {
		c.watchMu.Lock()
		watchers := append([]accountWatcher(nil), c.accountWatchers...)
		c.watchMu.Unlock()
		for _, w := range watchers {
			w.h(acct)
		}
	})
}

func (c *Config) emitNetwork() {
	network := c.networkLocked()
	c.events.post(func() {
		c.watchMu.Lock()
		watchers := append([]networkWatcher(nil), c.networkWatchers...)
		c.watchMu.Unlock()
		for _, w := range watchers {
			w.h(network)
		}
	})
}

// Flush blocks until every pending watcher callback has run.
func (c *Config) Flush() {
	c.events.flush()
}

func (c *Config) Connect(ctx context.Context, params ConnectParams) (Account, error) {
	conn := params.Connector
	if conn == nil {
		return Account{}, ErrConnectorNotFound
	}
	if !conn.Ready() {
		return Account{}, errors.Wrap(ErrConnectorNotReady, conn.ID())
	}

	c.mu.Lock()
	if c.active != nil && c.account.IsConnected() {
		if c.active.ID() == conn.ID() {
			acct := c.account
			c.mu.Unlock()
			return acct, nil
		}
		previous := c.active.ID()
		c.mu.Unlock()
		if err := c.Disconnect(ctx); err != nil {
			log.Warnf("wallet - disconnect %s before switching connector: %v", previous, err)
		}
		c.mu.Lock()
	}
	attempt := c.beginLocked(Account{Status: StatusConnecting, Connector: conn.ID()})
	c.mu.Unlock()

	res, err := conn.Connect(ctx, params.ChainID)
	if err == nil && res.Address == "" {
		err = errors.Wrap(ErrInvalidAccount, "connector returned no address")
	}
	if err != nil {
		c.mu.Lock()
		if c.connecting == attempt {
			c.connecting = 0
			c.account = c.settled
			c.emitAccount()
		}
		c.mu.Unlock()
		return Account{}, err
	}
	c.activate(ctx, conn, res, StatusConnected)
	return c.GetAccount(), nil
}

// beginLocked moves the account to a transient status owned by a new attempt.
// A failed attempt only rolls back while it still owns that status, so it
// never overwrites an account another attempt or the connector has set since.
func (c *Config) beginLocked(a Account) uint64 {
	if !c.account.IsConnecting() {
		c.settled = c.account
	}
	c.attempts++
	c.connecting = c.attempts
	c.account = a
	c.emitAccount()
	return c.connecting
}

func (c *Config) activate(ctx context.Context, conn Connector, res Connection, status Status) {
	c.mu.Lock()
	c.active = conn
	c.connecting = 0
	c.account = Account{Address: res.Address, ChainID: res.ChainID, Connector: conn.ID(), Status: status}
	if n, ok := conn.(Notifier); ok {
		c.stopNotify = n.Notify(func(ch Change) { c.onChange(conn, ch) })
	}
	c.emitAccount()
	c.emitNetwork()
	c.mu.Unlock()
	if err := c.storage.Set(ctx, lastConnectorKey, conn.ID()); err != nil {
		log.Warnf("wallet - remember connector %s: %v", conn.ID(), err)
	}
}

func (c *Config) onChange(conn Connector, ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.ID() != conn.ID() {
		return
	}
	if ch.Disconnected {
		c.resetLocked()
		c.emitAccount()
		c.emitNetwork()
		return
	}
	if ch.Address != "" && ch.Address != c.account.Address {
		c.account.Address = ch.Address
		c.emitAccount()
	}
	if ch.ChainID != 0 && ch.ChainID != c.account.ChainID {
		c.account.ChainID = ch.ChainID
		c.emitNetwork()
	}
}

func (c *Config) resetLocked() {
	if c.stopNotify != nil {
		c.stopNotify()
		c.stopNotify = nil
	}
	c.active = nil
	c.connecting = 0
	c.account = Account{Status: StatusDisconnected}
}

// Disconnect drops the active connector. The local state is cleared even
// when the connector fails to disconnect; that error is returned.
func (c *Config) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	wasConnected := !c.account.IsDisconnected()
	c.resetLocked()
	if wasConnected {
		c.emitAccount()
		c.emitNetwork()
	}
	c.mu.Unlock()

	if err := c.storage.Delete(ctx, lastConnectorKey); err != nil {
		log.Warnf("wallet - forget connector: %v", err)
	}
	if active == nil {
		return nil
	}
	return active.Disconnect(ctx)
}

func (c *Config) SignMessage(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	active, acct := c.active, c.account
	c.mu.Unlock()
	if active == nil || !acct.IsConnected() {
		return "", ErrNotConnected
	}
	return active.SignMessage(ctx, acct.Address, message)
}

func (c *Config) Reconnect(ctx context.Context) error {
	id, err := c.storage.Get(ctx, lastConnectorKey)
	if err != nil {
		return errors.Wrap(err, "read last connector")
	}
	if id == "" {
		return nil
	}
	var conn Connector
	for _, candidate := range c.connectors {
		if candidate.ID() == id {
			conn = candidate
			break
		}
	}
	r, ok := conn.(Reconnector)
	if conn == nil || !ok || !conn.Ready() || !r.IsAuthorized(ctx) {
		return nil
	}

	c.mu.Lock()
	if c.account.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	attempt := c.beginLocked(Account{Status: StatusReconnecting, Connector: id})
	c.mu.Unlock()

	res, err := conn.Connect(ctx, 0)
	if err != nil {
		c.mu.Lock()
		if c.connecting == attempt {
			c.resetLocked()
			c.emitAccount()
		}
		c.mu.Unlock()
		return errors.Wrapf(err, "reconnect %s", id)
	}
	c.activate(ctx, conn, res, StatusConnected)
	log.Infof("wallet - reconnected %s", id)
	return nil
}

func (c *Config) closeTransports() {
	for _, t := range c.transports {
		t.Close()
	}
}

// Close stops event delivery and closes every transport. The wallet session
// itself is left alone.
func (c *Config) Close() error {
	c.mu.Lock()
	if c.stopNotify != nil {
		c.stopNotify()
		c.stopNotify = nil
	}
	c.mu.Unlock()
	if c.events != nil {
		c.events.close()
	}
	c.closeTransports()
	return nil
}
