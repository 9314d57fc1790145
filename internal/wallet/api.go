package wallet

import "context"

// Unsubscribe removes a subscription. Calling it twice is a no-op.
type Unsubscribe func()

type AccountHandler func(Account)

type NetworkHandler func(Network)

type ConnectParams struct {
	// ChainID requested from the connector, 0 keeps the wallet's chain.
	ChainID   int
	Connector Connector
}

// Client is the wallet SDK surface the connection state is derived from.
type Client interface {
	GetAccount() Account
	GetNetwork() Network
	WatchAccount(h AccountHandler) Unsubscribe
	WatchNetwork(h NetworkHandler) Unsubscribe
	Connect(ctx context.Context, params ConnectParams) (Account, error)
	Disconnect(ctx context.Context) error
	SignMessage(ctx context.Context, message string) (string, error)
	// Reconnect silently restores the last used connector if it is still
	// authorized. Nothing to restore is not an error.
	Reconnect(ctx context.Context) error
	Close() error
}

// Connector is one strategy for obtaining wallet access.
type Connector interface {
	ID() string
	Name() string
	Ready() bool
	Connect(ctx context.Context, chainID int) (Connection, error)
	Disconnect(ctx context.Context) error
	// SignMessage returns the 0x-hex personal-sign signature of message.
	SignMessage(ctx context.Context, address, message string) (string, error)
}

// Notifier is implemented by connectors that learn about changes made in the
// wallet itself.
type Notifier interface {
	Notify(func(Change)) Unsubscribe
}

// Reconnector is implemented by connectors able to resume a previous session
// without prompting the user.
type Reconnector interface {
	IsAuthorized(ctx context.Context) bool
}

// Pairer is implemented by connectors that show a pairing uri to the user
// before connecting.
type Pairer interface {
	OnPairingURI(func(uri string)) Unsubscribe
}

// Storage persists small values between runs.
type Storage interface {
	// Get returns "" when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
