package wallet

import (
	"moff.io/wallet-sync/pkg/errors"
)

var (
	ErrConnectorNotFound = errors.New("connector not found")
	ErrConnectorNotReady = errors.New("connector not ready")
	ErrNotConnected      = errors.New("wallet not connected")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrInvalidAccount    = errors.New("invalid account")
)

// Status is the connection status reported by the wallet.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReconnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReconnecting:
		return "reconnecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Account is what the wallet reports about the current account.
// Empty Address and zero ChainID mean absent.
type Account struct {
	Address   string
	ChainID   int
	Connector string
	Status    Status
}

func (a Account) IsConnected() bool { return a.Status == StatusConnected }

// IsConnecting covers both a user-started connect and a silent reconnect.
func (a Account) IsConnecting() bool {
	return a.Status == StatusConnecting || a.Status == StatusReconnecting
}

func (a Account) IsDisconnected() bool { return a.Status == StatusDisconnected }

// Validate rejects accounts that claim a connection without an address.
func (a Account) Validate() error {
	if a.IsConnected() && a.Address == "" {
		return errors.Wrap(ErrInvalidAccount, "connected account without address")
	}
	if a.ChainID < 0 {
		return errors.Wrap(ErrInvalidAccount, "negative chain id")
	}
	return nil
}

// Network is what the wallet reports about the current chain.
type Network struct {
	ChainID     int
	Unsupported bool
}

// Connection is the result of a successful connector connect.
type Connection struct {
	Address string
	ChainID int
}

// Change is an out-of-band notification from a connector: the user switched
// account or chain in the wallet, or the wallet dropped the session.
type Change struct {
	Address      string
	ChainID      int
	Disconnected bool
}
