package connection

import "moff.io/wallet-sync/internal/wallet"

// Phase is where the reconciler stands for the current configuration.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseBootstrapping
	PhaseDisconnected
	PhasePendingAuthentication
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseDisconnected:
		return "disconnected"
	case PhasePendingAuthentication:
		return "pending_authentication"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is what an account event is judged against.
type State struct {
	Connected     bool
	Loaded        bool
	SignerAddress string
	// PendingAddress is the address of the login attempt in flight, if any.
	PendingAddress string
}

type Action int

const (
	ActionNone Action = iota
	// ActionLogin promotes the reported address, through the sign-in gate
	// when it is enabled.
	ActionLogin
	// ActionDisconnect runs a full disconnect.
	ActionDisconnect
)

func (a Action) String() string {
	switch a {
	case ActionLogin:
		return "login"
	case ActionDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Decide maps an account event onto the action to take. A connected store
// never swaps identity in place: any other address, or a disconnected wallet,
// means a full disconnect.
func Decide(s State, a wallet.Account) Action {
	if s.Connected {
		if a.IsDisconnected() || a.Address != s.SignerAddress {
			return ActionDisconnect
		}
		return ActionNone
	}
	if s.PendingAddress != "" && a.IsDisconnected() {
		return ActionDisconnect
	}
	if !s.Loaded || a.Address == "" || a.IsDisconnected() || a.Address == s.SignerAddress {
		return ActionNone
	}
	if a.Address == s.PendingAddress {
		return ActionNone
	}
	return ActionLogin
}
