package databus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/pkg/log"
)

const StateTopic = "wallet_state"

// StateChanged carries one store snapshot.
type StateChanged struct {
	ID        string         `json:"id"`
	Snapshot  store.Snapshot `json:"snapshot"`
	Timestamp int64          `json:"timestamp"`
}

func NewStateChanged(s store.Snapshot, at time.Time) *StateChanged {
	return &StateChanged{ID: uuid.NewString(), Snapshot: s, Timestamp: at.UnixMilli()}
}

func (e *StateChanged) Topic() string { return StateTopic }

// Key groups the events of one signer on one partition.
func (e *StateChanged) Key() []byte {
	if e.Snapshot.SignerAddress == "" {
		return nil
	}
	return []byte(e.Snapshot.SignerAddress)
}

func (e *StateChanged) Serialize() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("databus - marshal state event %s: %v", e.ID, err)
		return nil
	}
	return b
}
