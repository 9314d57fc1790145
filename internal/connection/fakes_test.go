package connection

import (
	"context"
	"sync"

	"moff.io/wallet-sync/internal/modal"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/wallet"
)

// fakeClient delivers watcher callbacks synchronously on the caller's
// goroutine, after releasing its own lock.
type fakeClient struct {
	mu              sync.Mutex
	account         wallet.Account
	nextID          int
	accountWatchers map[int]wallet.AccountHandler
	networkWatchers map[int]wallet.NetworkHandler

	connectFn   func(params wallet.ConnectParams) (wallet.Account, error)
	connects    []wallet.ConnectParams
	disconnects int
	reconnects  int
	closed      bool
}

func newFakeClient(initial wallet.Account) *fakeClient {
	return &fakeClient{
		account:         initial,
		accountWatchers: make(map[int]wallet.AccountHandler),
		networkWatchers: make(map[int]wallet.NetworkHandler),
	}
}

func (f *fakeClient) GetAccount() wallet.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

func (f *fakeClient) GetNetwork() wallet.Network {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wallet.Network{ChainID: f.account.ChainID}
}

func (f *fakeClient) WatchAccount(h wallet.AccountHandler) wallet.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.accountWatchers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.accountWatchers, id)
	}
}

func (f *fakeClient) WatchNetwork(h wallet.NetworkHandler) wallet.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.networkWatchers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.networkWatchers, id)
	}
}

func (f *fakeClient) watcherCount() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accountWatchers), len(f.networkWatchers)
}

// set changes the account without telling anyone.
func (f *fakeClient) set(a wallet.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = a
}

func (f *fakeClient) emitAccount(a wallet.Account) {
	f.mu.Lock()
	f.account = a
	handlers := make([]wallet.AccountHandler, 0, len(f.accountWatchers))
	for _, h := range f.accountWatchers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(a)
	}
}

// deliver calls the account watchers with a, leaving the account as it is.
func (f *fakeClient) deliver(a wallet.Account) {
	f.mu.Lock()
	handlers := make([]wallet.AccountHandler, 0, len(f.accountWatchers))
	for _, h := range f.accountWatchers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(a)
	}
}

func (f *fakeClient) emitNetwork(n wallet.Network) {
	f.mu.Lock()
	f.account.ChainID = n.ChainID
	handlers := make([]wallet.NetworkHandler, 0, len(f.networkWatchers))
	for _, h := range f.networkWatchers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

func (f *fakeClient) Connect(_ context.Context, params wallet.ConnectParams) (wallet.Account, error) {
	f.mu.Lock()
	f.connects = append(f.connects, params)
	fn := f.connectFn
	f.mu.Unlock()
	if fn == nil {
		return wallet.Account{}, wallet.ErrUserRejected
	}
	acct, err := fn(params)
	if err != nil {
		return wallet.Account{}, err
	}
	f.emitAccount(acct)
	return acct, nil
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	was := f.account
	f.mu.Unlock()
	if !was.IsDisconnected() {
		f.emitAccount(wallet.Account{Status: wallet.StatusDisconnected})
	}
	return nil
}

func (f *fakeClient) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeClient) SignMessage(context.Context, string) (string, error) {
	return "0xsig", nil
}

func (f *fakeClient) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeGate answers from fields; release, when set, blocks SignIn until it
// is closed.
type fakeGate struct {
	mu        sync.Mutex
	accept    bool
	session   bool
	release   chan struct{}
	signIns   []string
	signedMsg []string
}

func (g *fakeGate) SignIn(ctx context.Context, signer signin.Signer, address string, chainID int) error {
	g.mu.Lock()
	g.signIns = append(g.signIns, address)
	release, accept := g.release, g.accept
	g.mu.Unlock()
	sig, err := signer.SignMessage(ctx, "sign in "+address)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.signedMsg = append(g.signedMsg, sig)
	g.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !accept {
		return signin.ErrNotAccepted
	}
	return nil
}

func (g *fakeGate) CheckSession(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, nil
}

func (g *fakeGate) Paths() signin.Paths { return signin.DefaultPaths("http://localhost:8080") }

func (g *fakeGate) signInCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.signIns)
}

type fakeModal struct {
	mu       sync.Mutex
	opens    int
	releases int
	onOpen   func()
	nextID   int
	subs     map[int]func()
}

func newFakeModal() *fakeModal { return &fakeModal{subs: make(map[int]func())} }

func (m *fakeModal) Open(context.Context) error {
	m.mu.Lock()
	m.opens++
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		go fn()
	}
	return nil
}

func (m *fakeModal) SubscribeClose(fn func()) modal.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *fakeModal) Close() {
	m.mu.Lock()
	subs := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (m *fakeModal) Release() {
	m.mu.Lock()
	m.releases++
	m.mu.Unlock()
	m.Close()
}

func (m *fakeModal) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

func (m *fakeModal) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
