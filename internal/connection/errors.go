package connection

import "moff.io/wallet-sync/pkg/errors"

var (
	ErrProjectIDRequired = errors.New("project id is required")
	ErrNotConfigured     = errors.New("wallet is not configured")
	ErrUnsupportedChain  = errors.New("chain is not configured")
	// ErrWalletDisconnected is returned by Init when the wallet settles
	// without an account. The store is left disconnected and loaded.
	ErrWalletDisconnected = errors.New("wallet reports no connected account")
	ErrModalClosed        = errors.New("modal closed before an account connected")
	errStaleAttempt       = errors.New("login attempt superseded")
)
