package connection

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/internal/modal"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/internal/wallet/local"
	"moff.io/wallet-sync/pkg/errors"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func connectedAccount(addr string, chainID int) wallet.Account {
	return wallet.Account{Address: addr, ChainID: chainID, Connector: local.ID, Status: wallet.StatusConnected}
}

type harness struct {
	m      *Manager
	st     *store.Store
	client *fakeClient
	gate   *fakeGate
	modal  *fakeModal
}

func newHarness(t *testing.T, client *fakeClient, gate *fakeGate) *harness {
	t.Helper()
	h := &harness{st: store.New(), client: client, gate: gate, modal: newFakeModal()}
	opts := []Option{
		WithClientFactory(func(context.Context, wallet.ConfigOptions) (wallet.Client, error) { return client, nil }),
		WithModalFactory(func(wallet.Client, []wallet.Connector, Options) modal.Controller { return h.modal }),
		WithGateFactory(func(signin.Options) (Authenticator, error) { return gate, nil }),
		WithPollInterval(10 * time.Millisecond),
	}
	h.m = NewManager(h.st, opts...)
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

func (h *harness) configure(t *testing.T) error {
	t.Helper()
	injected, err := local.Generate(1)
	require.NoError(t, err)
	opts := Options{ProjectID: "project", Connectors: []wallet.Connector{injected}}
	if h.gate != nil {
		opts.SignIn = &signin.Options{}
	}
	return h.m.Configure(context.Background(), opts)
}

func TestBootstrapPollsWhileConnecting(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusConnecting})
	h := newHarness(t, client, nil)
	go func() {
		time.Sleep(30 * time.Millisecond)
		client.set(connectedAccount("0xABC", 1))
	}()

	require.NoError(t, h.configure(t))
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 1, SignerAddress: "0xABC"}, h.st.Snapshot())
	assert.Equal(t, PhaseConnected, h.m.Phase())
	assert.Equal(t, 1, client.reconnects)
	assert.NotNil(t, h.st.Config())
	assert.Nil(t, h.st.SignIn())
}

func TestConfigureRequiresProjectID(t *testing.T) {
	h := newHarness(t, newFakeClient(wallet.Account{}), nil)
	err := h.m.Configure(context.Background(), Options{})
	assert.True(t, errors.Is(err, ErrProjectIDRequired))
	assert.Equal(t, store.Snapshot{Loading: true}, h.st.Snapshot())
	assert.Nil(t, h.st.Config())
	assert.Empty(t, h.st.Connectors())
}

func TestBootstrapWithDisconnectedWallet(t *testing.T) {
	h := newHarness(t, newFakeClient(wallet.Account{Status: wallet.StatusDisconnected}), nil)
	require.NoError(t, h.configure(t))
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
	assert.True(t, errors.Is(h.m.Init(context.Background()), ErrWalletDisconnected))
}

func TestInitWithoutConfiguration(t *testing.T) {
	h := newHarness(t, newFakeClient(wallet.Account{}), nil)
	assert.True(t, errors.Is(h.m.Init(context.Background()), ErrNotConfigured))
	res := h.m.Connect(context.Background(), 1)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrNotConfigured))
}

func TestBootstrapGivesUpWithContext(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusReconnecting})
	h := newHarness(t, client, nil)
	injected, err := local.Generate(1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = h.m.Configure(ctx, Options{ProjectID: "project", Connectors: []wallet.Connector{injected}})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
}

func TestBootstrapSessionCheck(t *testing.T) {
	gate := &fakeGate{session: true}
	h := newHarness(t, newFakeClient(connectedAccount("0xABC", 1)), gate)
	require.NoError(t, h.configure(t))
	assert.True(t, h.st.Snapshot().Connected)
	require.NotNil(t, h.st.SignIn())
	assert.Zero(t, gate.signInCount())

	gate = &fakeGate{session: false}
	h = newHarness(t, newFakeClient(connectedAccount("0xABC", 1)), gate)
	require.NoError(t, h.configure(t))
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
}

func TestListenerLoginAndNetworkChanges(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	// not connected: ignored
	client.emitNetwork(wallet.Network{ChainID: 137})
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())

	client.emitAccount(connectedAccount("0xABC", 137))
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 137, SignerAddress: "0xABC"}, h.st.Snapshot())

	client.emitNetwork(wallet.Network{ChainID: 10})
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 10, SignerAddress: "0xABC"}, h.st.Snapshot())

	client.emitNetwork(wallet.Network{ChainID: 56, Unsupported: true})
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Eventually(t, func() bool { return client.disconnectCount() == 1 }, waitFor, tick)
}

func TestLoginOnUnsupportedChainIsRejected(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	client.emitAccount(connectedAccount("0xABC", 56))
	assert.False(t, h.st.Snapshot().Connected)
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
}

func TestSilentAccountSwitchDisconnects(t *testing.T) {
	client := newFakeClient(connectedAccount("0xABC", 1))
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))
	require.True(t, h.st.Snapshot().Connected)

	var mu sync.Mutex
	var seen []store.Snapshot
	stop := h.st.Subscribe(func(s store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	defer stop()

	client.emitAccount(connectedAccount("0xDEF", 1))
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Eventually(t, func() bool { return client.disconnectCount() == 1 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		assert.NotEqual(t, "0xDEF", s.SignerAddress)
		assert.Equal(t, s.Connected, s.SignerAddress != "")
		assert.Equal(t, s.Connected, s.ChainID != 0)
	}
}

func TestWalletDisconnectWhileConnected(t *testing.T) {
	client := newFakeClient(connectedAccount("0xABC", 1))
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	client.emitAccount(wallet.Account{Status: wallet.StatusDisconnected})
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
}

func TestSupersededAccountEventIgnored(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	client.deliver(connectedAccount("0xABC", 1))
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())

	client.set(connectedAccount("0xDEF", 1))
	client.deliver(connectedAccount("0xABC", 1))
	assert.False(t, h.st.Snapshot().Connected)

	client.deliver(connectedAccount("0xDEF", 1))
	assert.Equal(t, "0xDEF", h.st.Snapshot().SignerAddress)
}

func TestLateConnectingEventKeepsSession(t *testing.T) {
	client := newFakeClient(connectedAccount("0xABC", 1))
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	client.deliver(wallet.Account{Status: wallet.StatusConnecting})
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 1, SignerAddress: "0xABC"}, h.st.Snapshot())
	assert.Equal(t, 0, client.disconnectCount())
}

func TestGateRejectionNeverConnects(t *testing.T) {
	gate := &fakeGate{accept: false}
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, gate)
	require.NoError(t, h.configure(t))

	for i := 1; i <= 3; i++ {
		client.emitAccount(connectedAccount("0xABC", 1))
		assert.Eventually(t, func() bool {
			return gate.signInCount() == i && h.m.Phase() == PhaseDisconnected
		}, waitFor, tick)
		assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	}
}

func TestGatePendingIgnoresRepeatedEvents(t *testing.T) {
	gate := &fakeGate{accept: true, release: make(chan struct{})}
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, gate)
	require.NoError(t, h.configure(t))

	client.emitAccount(connectedAccount("0xABC", 1))
	assert.Equal(t, PhasePendingAuthentication, h.m.Phase())
	client.emitAccount(connectedAccount("0xABC", 1))
	assert.False(t, h.st.Snapshot().Connected)

	close(gate.release)
	assert.Eventually(t, func() bool { return h.st.Snapshot().Connected }, waitFor, tick)
	assert.Equal(t, 1, gate.signInCount())
	assert.Equal(t, []string{"0xsig"}, gate.signedMsg)
}

func TestDisconnectDropsLateGateResult(t *testing.T) {
	gate := &fakeGate{accept: true, release: make(chan struct{})}
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, gate)
	require.NoError(t, h.configure(t))

	client.emitAccount(connectedAccount("0xABC", 1))
	require.Eventually(t, func() bool { return gate.signInCount() == 1 }, waitFor, tick)
	h.m.Disconnect(context.Background())
	close(gate.release)

	assert.Never(t, func() bool { return h.st.Snapshot().Connected }, 100*time.Millisecond, tick)
	assert.Equal(t, PhaseDisconnected, h.m.Phase())
}

func TestConnectAction(t *testing.T) {
	gate := &fakeGate{accept: true}
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	client.connectFn = func(p wallet.ConnectParams) (wallet.Account, error) {
		return connectedAccount("0xABC", p.ChainID), nil
	}
	h := newHarness(t, client, gate)
	require.NoError(t, h.configure(t))

	res := h.m.Connect(context.Background(), 0)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xABC", res.Account.Address)
	require.Len(t, client.connects, 1)
	assert.Equal(t, 1, client.connects[0].ChainID)
	assert.Equal(t, local.ID, client.connects[0].Connector.ID())
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 1, SignerAddress: "0xABC"}, h.st.Snapshot())
	assert.Equal(t, 1, gate.signInCount())

	// already connected: no second sign-in
	res = h.m.Connect(context.Background(), 1)
	assert.True(t, res.Success)
	assert.Equal(t, 1, gate.signInCount())
}

func TestConnectFailuresLeaveStateAlone(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))
	before := h.st.Snapshot()

	res := h.m.Connect(context.Background(), 56)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrUnsupportedChain))
	assert.Empty(t, client.connects)

	res = h.m.Connect(context.Background(), 1)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, wallet.ErrUserRejected))
	assert.Equal(t, before, h.st.Snapshot())
}

func TestConnectGateRejected(t *testing.T) {
	gate := &fakeGate{accept: false}
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	client.connectFn = func(p wallet.ConnectParams) (wallet.Account, error) {
		return connectedAccount("0xABC", p.ChainID), nil
	}
	h := newHarness(t, client, gate)
	require.NoError(t, h.configure(t))

	res := h.m.Connect(context.Background(), 1)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, signin.ErrNotAccepted))
	assert.False(t, h.st.Snapshot().Connected)
}

func TestOpenModalClosedBeforeConnect(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))
	h.modal.onOpen = h.modal.Close

	res := h.m.OpenModalAndConnect(context.Background())
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrModalClosed))
	assert.Zero(t, h.modal.subscriberCount())
	accounts, networks := client.watcherCount()
	assert.Equal(t, 1, accounts)
	assert.Equal(t, 1, networks)
}

func TestOpenModalAccountConnects(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))
	h.modal.onOpen = func() { client.emitAccount(connectedAccount("0xABC", 10)) }

	res := h.m.OpenModalAndConnect(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, store.Snapshot{Connected: true, Loaded: true, ChainID: 10, SignerAddress: "0xABC"}, h.st.Snapshot())
	assert.Zero(t, h.modal.subscriberCount())
	accounts, _ := client.watcherCount()
	assert.Equal(t, 1, accounts)
}

func TestOpenModalContextDone(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := h.m.OpenModalAndConnect(ctx)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Zero(t, h.modal.subscriberCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	client := newFakeClient(connectedAccount("0xABC", 1))
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	h.m.Disconnect(context.Background())
	h.m.Disconnect(context.Background())
	assert.Equal(t, store.Snapshot{Loaded: true}, h.st.Snapshot())
	assert.GreaterOrEqual(t, client.disconnectCount(), 2)
}

func TestConfigureTwiceReplacesListeners(t *testing.T) {
	first := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	second := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	clients := []*fakeClient{first, second}
	h := newHarness(t, first, nil)
	h.m.newClient = func(context.Context, wallet.ConfigOptions) (wallet.Client, error) {
		c := clients[0]
		clients = clients[1:]
		return c, nil
	}
	require.NoError(t, h.configure(t))
	require.NoError(t, h.configure(t))

	assert.True(t, first.isClosed())
	accounts, networks := first.watcherCount()
	assert.Zero(t, accounts+networks)
	accounts, networks = second.watcherCount()
	assert.Equal(t, 2, accounts+networks)

	first.emitAccount(connectedAccount("0xABC", 1))
	assert.False(t, h.st.Snapshot().Connected)
	second.emitAccount(connectedAccount("0xDEF", 1))
	assert.Equal(t, "0xDEF", h.st.Snapshot().SignerAddress)
	assert.Equal(t, 1, h.modal.releaseCount())
}

func TestReconfigureReleasesOpenModal(t *testing.T) {
	client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
	h := newHarness(t, client, nil)
	require.NoError(t, h.configure(t))

	done := make(chan Result, 1)
	go func() { done <- h.m.OpenModalAndConnect(context.Background()) }()
	require.Eventually(t, func() bool { return h.modal.subscriberCount() == 1 }, waitFor, tick)

	require.NoError(t, h.configure(t))
	select {
	case res := <-done:
		assert.True(t, errors.Is(res.Err, ErrModalClosed))
	case <-time.After(waitFor):
		t.Fatal("open modal survived reconfigure")
	}
	assert.Equal(t, 1, h.modal.releaseCount())
	assert.Zero(t, h.modal.subscriberCount())
}

func TestConnectorByID(t *testing.T) {
	h := newHarness(t, newFakeClient(wallet.Account{}), nil)
	require.NoError(t, h.configure(t))
	assert.NotNil(t, h.m.ConnectorByID(local.ID))
	assert.Nil(t, h.m.ConnectorByID("ledger"))
}

// connectedMatchesWallet holds when a connected store names the wallet's
// current account on a configured chain.
func connectedMatchesWallet(s store.Snapshot, a wallet.Account, list chains.List) error {
	if s.Connected != (s.SignerAddress != "") || s.Connected != (s.ChainID != 0) {
		return fmt.Errorf("inconsistent snapshot %+v", s)
	}
	if !s.Connected {
		return nil
	}
	if !a.IsConnected() || a.Address != s.SignerAddress {
		return fmt.Errorf("store signer %s, wallet %s %s", s.SignerAddress, a.Status, a.Address)
	}
	if !list.Contains(s.ChainID) {
		return fmt.Errorf("store on unconfigured chain %d", s.ChainID)
	}
	return nil
}

func TestRandomWalletEventsKeepStoreConsistent(t *testing.T) {
	addresses := []string{"0xABC", "0xDEF", "0x123"}
	chainIDs := []int{1, 137, 10, 56}
	list := chains.Default()

	for seed := int64(1); seed <= 5; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		client := newFakeClient(wallet.Account{Status: wallet.StatusDisconnected})
		h := newHarness(t, client, nil)
		require.NoError(t, h.configure(t))

		for step := 0; step < 100; step++ {
			chainID := chainIDs[rnd.Intn(len(chainIDs))]
			var event string
			switch rnd.Intn(4) {
			case 0, 1:
				addr := addresses[rnd.Intn(len(addresses))]
				event = fmt.Sprintf("account %s on %d", addr, chainID)
				client.emitAccount(connectedAccount(addr, chainID))
			case 2:
				event = "wallet disconnected"
				client.emitAccount(wallet.Account{Status: wallet.StatusDisconnected})
			default:
				event = fmt.Sprintf("network %d", chainID)
				client.emitNetwork(wallet.Network{ChainID: chainID, Unsupported: !list.Contains(chainID)})
			}

			var last error
			ok := assert.Eventually(t, func() bool {
				last = connectedMatchesWallet(h.st.Snapshot(), client.GetAccount(), list)
				return last == nil
			}, waitFor, tick)
			if !ok {
				t.Fatalf("seed %d step %d after %s: %v", seed, step, event, last)
			}
		}
		require.NoError(t, h.m.Close())
	}
}
