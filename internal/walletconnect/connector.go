// Package walletconnect is a wallet connector speaking the WalletConnect v1
// bridge protocol. Connect shows a pairing uri and waits for the wallet to
// approve the session; the bridge connection is then kept open for signing
// requests and session updates until Disconnect.
package walletconnect

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
	"moff.io/wallet-sync/pkg/wcutil"
)

var (
	_ wallet.Connector = (*Connector)(nil)
	_ wallet.Notifier  = (*Connector)(nil)
	_ wallet.Pairer    = (*Connector)(nil)

	ErrConnectInProgress = errors.New("wallet connect session request already in progress")
)

type Connector struct {
	opts Options

	connecting atomic.Bool

	mu        sync.Mutex
	current   *session
	pairing   map[uint64]func(string)
	nextID    uint64
	listeners map[uint64]func(wallet.Change)
}

func New(opts Options) *Connector {
	opts.withDefaults()
	return &Connector{
		opts:      opts,
		pairing:   make(map[uint64]func(string)),
		listeners: make(map[uint64]func(wallet.Change)),
	}
}

func (c *Connector) ID() string   { return c.opts.ID }
func (c *Connector) Name() string { return c.opts.Name }

// Ready reports whether the connector has a project id to pair with.
func (c *Connector) Ready() bool { return c.opts.ProjectID != "" }

func (c *Connector) OnPairingURI(fn func(uri string)) wallet.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.pairing[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pairing, id)
	}
}

func (c *Connector) Notify(fn func(wallet.Change)) wallet.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Connector) notify(ch wallet.Change) {
	c.mu.Lock()
	fns := make([]func(wallet.Change), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (c *Connector) Connect(ctx context.Context, chainID int) (wallet.Connection, error) {
	if !c.connecting.CAS(false, true) {
		return wallet.Connection{}, ErrConnectInProgress
	}
	defer c.connecting.Store(false)

	c.mu.Lock()
	if c.current != nil {
		s := c.current
		c.current = nil
		c.mu.Unlock()
		s.close()
	} else {
		c.mu.Unlock()
	}

	key, err := wcutil.GenerateRandomBytes(256 / 8)
	if err != nil {
		return wallet.Connection{}, errors.Wrap(err, "generate wallet connect key")
	}
	bridgeURL := c.opts.BridgeURL
	if bridgeURL == "" {
		bridgeURL = wcutil.RandomBridgeURL()
	}
	handshakeTopic, clientID := uuid.NewString(), uuid.NewString()

	s, err := dialSession(ctx, c.opts.Dialer, bridgeURL, key, clientID)
	if err != nil {
		return wallet.Connection{}, err
	}
	s.onRequest = func(jsonRpc string) { c.onWalletRequest(s, jsonRpc) }
	s.onClosed = func() { c.onSessionClosed(s) }
	go s.readLoop()

	conn, err := c.requestSession(ctx, s, handshakeTopic, bridgeURL, chainID)
	if err != nil {
		s.close()
		return wallet.Connection{}, err
	}
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	log.Infof("wallet connect - session approved by %s on chain %d", conn.Address, conn.ChainID)
	return conn, nil
}

func (c *Connector) requestSession(ctx context.Context, s *session, topic, bridgeURL string, chainID int) (wallet.Connection, error) {
	if err := s.subscribe(); err != nil {
		return wallet.Connection{}, err
	}
	var requested interface{}
	if chainID != 0 {
		requested = chainID
	}
	req := newJSONRpcRequest("wc_sessionRequest", peer{
		PeerID:   s.clientID,
		PeerMeta: c.opts.App,
		ChainID:  requested,
	})

	uri := wcutil.PairingURI(topic, bridgeURL, s.key)
	log.Debugf("wallet connect - generated uri:%v", uri)
	c.mu.Lock()
	handlers := make([]func(string), 0, len(c.pairing))
	for _, fn := range c.pairing {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ApproveTimeout)
	defer cancel()
	type reply struct {
		resp string
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		resp, err := s.call(ctx, topic, req)
		replies <- reply{resp, err}
	}()
	for _, fn := range handlers {
		fn(uri)
	}
	r := <-replies
	if r.err != nil {
		if errors.Is(r.err, errSessionClosed) {
			return wallet.Connection{}, errors.Wrap(wallet.ErrUserRejected, "bridge closed before approval")
		}
		return wallet.Connection{}, errors.Wrap(r.err, "wait for session approval")
	}

	if msg := gjson.Get(r.resp, "error.message").String(); msg != "" {
		if strings.Contains(msg, "Session Rejected") {
			return wallet.Connection{}, wallet.ErrUserRejected
		}
		return wallet.Connection{}, errors.New(msg)
	}
	result := gjson.Get(r.resp, "result")
	if !result.Get("approved").Bool() {
		return wallet.Connection{}, wallet.ErrUserRejected
	}
	accounts := result.Get("accounts").Array()
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0].String()) {
		return wallet.Connection{}, errors.Wrap(wallet.ErrInvalidAccount, "no wallet accounts acquired")
	}
	s.setPeer(result.Get("peerId").String())
	return wallet.Connection{
		Address: common.HexToAddress(accounts[0].String()).Hex(),
		ChainID: int(result.Get("chainId").Int()),
	}, nil
}

// onWalletRequest handles requests pushed by the wallet. Only session
// updates are expected.
func (c *Connector) onWalletRequest(s *session, jsonRpc string) {
	if gjson.Get(jsonRpc, "method").String() != "wc_sessionUpdate" {
		log.Debugf("wallet connect - ignore wallet request %s", gjson.Get(jsonRpc, "method").String())
		return
	}
	params := gjson.Get(jsonRpc, "params.0")
	if !params.Exists() {
		return
	}
	if !params.Get("approved").Bool() {
		log.Warnf("wallet connect - session closed by wallet")
		s.close()
		return
	}
	ch := wallet.Change{ChainID: int(params.Get("chainId").Int())}
	if accounts := params.Get("accounts").Array(); len(accounts) > 0 && common.IsHexAddress(accounts[0].String()) {
		ch.Address = common.HexToAddress(accounts[0].String()).Hex()
	}
	c.mu.Lock()
	active := c.current == s
	c.mu.Unlock()
	if active {
		c.notify(ch)
	}
}

func (c *Connector) onSessionClosed(s *session) {
	c.mu.Lock()
	active := c.current == s
	if active {
		c.current = nil
	}
	c.mu.Unlock()
	if active {
		c.notify(wallet.Change{Disconnected: true})
	}
}

func (c *Connector) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SignMessage sends personal_sign to the wallet and checks that the returned
// signature recovers to address.
func (c *Connector) SignMessage(ctx context.Context, address, message string) (string, error) {
	s := c.session()
	if s == nil {
		return "", wallet.ErrNotConnected
	}
	req := newJSONRpcRequest("personal_sign", hexutil.Encode([]byte(message)), address)
	resp, err := s.call(ctx, s.peer(), req)
	if err != nil {
		return "", errors.Wrap(err, "personal_sign")
	}
	if msg := gjson.Get(resp, "error.message").String(); msg != "" {
		if strings.Contains(strings.ToLower(msg), "reject") {
			return "", wallet.ErrUserRejected
		}
		return "", errors.Errorf("personal_sign: %s", msg)
	}
	signature := gjson.Get(resp, "result").String()
	if !wallet.VerifyPersonalSignature(address, signature, []byte(message)) {
		return "", errors.Errorf("signature does not recover to %s", address)
	}
	return signature, nil
}

// Disconnect tells the wallet the session is over and closes the bridge
// connection. No disconnect notification is sent for it.
func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	defer s.close()
	update := newJSONRpcRequest("wc_sessionUpdate", sessionParams{Approved: false})
	if err := s.publish(s.peer(), update.Marshal(), true); err != nil {
		return errors.Wrap(err, "send session update")
	}
	return nil
}
