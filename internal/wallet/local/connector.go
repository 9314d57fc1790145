// Package local is an injected-style connector holding one secp256k1 key in
// memory. It stands in for a browser extension: the user can switch account
// or chain, or lock the wallet, and the connector notifies its listeners.
package local

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/errors"
)

const (
	ID   = "injected"
	Name = "Injected"
)

var (
	_ wallet.Connector   = (*Connector)(nil)
	_ wallet.Notifier    = (*Connector)(nil)
	_ wallet.Reconnector = (*Connector)(nil)
)

type Connector struct {
	mu         sync.Mutex
	key        *ecdsa.PrivateKey
	chainID    int
	connected  bool
	authorized bool
	rejecting  bool

	nextID    uint64
	listeners map[uint64]func(wallet.Change)
}

// New loads hexKey (with or without 0x). An empty key gives a connector that
// is not Ready, like a browser without an extension.
func New(hexKey string, chainID int) (*Connector, error) {
	c := &Connector{chainID: chainID, listeners: make(map[uint64]func(wallet.Change))}
	if hexKey == "" {
		return c, nil
	}
	key, err := parseKey(hexKey)
	if err != nil {
		return nil, err
	}
	c.key = key
	return c, nil
}

// Generate returns a connector with a fresh random key.
func Generate(chainID int) (*Connector, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return &Connector{key: key, chainID: chainID, listeners: make(map[uint64]func(wallet.Change))}, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return key, nil
}

func (c *Connector) ID() string   { return ID }
func (c *Connector) Name() string { return Name }

func (c *Connector) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil
}

// Address returns the checksummed address of the current key.
func (c *Connector) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return ""
	}
	return crypto.PubkeyToAddress(c.key.PublicKey).Hex()
}

func (c *Connector) Connect(_ context.Context, chainID int) (wallet.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return wallet.Connection{}, wallet.ErrConnectorNotReady
	}
	if c.rejecting {
		return wallet.Connection{}, wallet.ErrUserRejected
	}
	if chainID != 0 {
		c.chainID = chainID
	}
	c.connected = true
	c.authorized = true
	return wallet.Connection{
		Address: crypto.PubkeyToAddress(c.key.PublicKey).Hex(),
		ChainID: c.chainID,
	}, nil
}

func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.authorized = false
	return nil
}

func (c *Connector) IsAuthorized(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil && c.authorized
}

// SignMessage signs with EIP-191 personal-sign, V in {27, 28}.
func (c *Connector) SignMessage(_ context.Context, address, message string) (string, error) {
	c.mu.Lock()
	key, connected, rejecting := c.key, c.connected, c.rejecting
	c.mu.Unlock()
	if !connected || key == nil {
		return "", wallet.ErrNotConnected
	}
	if rejecting {
		return "", wallet.ErrUserRejected
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	if !common.IsHexAddress(address) || common.HexToAddress(address) != signer {
		return "", errors.Errorf("account %s is not managed by this wallet", address)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", errors.Wrap(err, "sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SetRejecting makes every following connect or sign request fail as if the
// user declined it in the wallet.
func (c *Connector) SetRejecting(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejecting = reject
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
	if !c.connected && !ch.Disconnected {
		c.mu.Unlock()
		return
	}
	fns := make([]func(wallet.Change), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// SwitchAccount replaces the key, as a user picking another account.
func (c *Connector) SwitchAccount(hexKey string) error {
	key, err := parseKey(hexKey)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	c.notify(wallet.Change{Address: crypto.PubkeyToAddress(key.PublicKey).Hex()})
	return nil
}

// SwitchChain changes the chain the wallet reports.
func (c *Connector) SwitchChain(chainID int) {
	c.mu.Lock()
	c.chainID = chainID
	c.mu.Unlock()
	c.notify(wallet.Change{ChainID: chainID})
}

// Lock drops the session from the wallet side.
func (c *Connector) Lock() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if wasConnected {
		c.notify(wallet.Change{Disconnected: true})
	}
}
