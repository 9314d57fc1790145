package walletconnect

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	ID   = "walletConnect"
	Name = "WalletConnect"

	CoinbaseID   = "coinbaseWallet"
	CoinbaseName = "Coinbase Wallet"

	defaultApproveTimeout = 5 * time.Minute
)

// Meta describes the app to the wallet during pairing.
type Meta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type Options struct {
	// ID and Name default to the WalletConnect connector.
	ID   string
	Name string

	ProjectID string
	App       Meta
	// BridgeURL defaults to a random public v1 bridge.
	BridgeURL string
	// ApproveTimeout bounds how long the wallet has to answer the session
	// request once the pairing uri is shown.
	ApproveTimeout time.Duration
	Dialer         *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.ID == "" {
		o.ID = ID
	}
	if o.Name == "" {
		o.Name = Name
	}
	if o.ApproveTimeout <= 0 {
		o.ApproveTimeout = defaultApproveTimeout
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}
