// Package store holds the observable connection state read by the UI layer.
package store

import (
	"sync"

	"moff.io/wallet-sync/internal/modal"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/wallet"
)

// Snapshot is the value observed by subscribers. ChainID 0 and an empty
// SignerAddress stand for null.
type Snapshot struct {
	Connected     bool   `json:"connected" structs:"connected"`
	Loaded        bool   `json:"loaded" structs:"loaded"`
	Loading       bool   `json:"loading" structs:"loading"`
	ChainID       int    `json:"chainId,omitempty" structs:"chainId,omitempty"`
	SignerAddress string `json:"signerAddress,omitempty" structs:"signerAddress,omitempty"`
}

// Published is everything the configuration step hands to the UI layer.
type Published struct {
	Connectors []wallet.Connector
	Modal      modal.Controller
	Config     wallet.Client
	// SignIn is nil when the sign-in gate is disabled.
	SignIn *signin.Paths
}

type Unsubscribe func()

type subscriber struct {
	id uint64
	h  func(Snapshot)
}

// Store is safe for concurrent use. Subscribers are called one at a time in
// update order and must not call Update from inside the callback.
type Store struct {
	mu     sync.RWMutex
	snap   Snapshot
	pub    Published
	nextID uint64
	subs   []subscriber

	notifyMu sync.Mutex
}

func New() *Store {
	return &Store{snap: Snapshot{Loading: true}}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update applies fn to a copy of the snapshot and stores the result in one
// step. Subscribers are notified only when something changed.
func (s *Store) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	next := s.snap
	fn(&next)
	if next == s.snap {
		s.mu.Unlock()
		return next
	}
	s.snap = next
	subs := append([]subscriber(nil), s.subs...)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, sub := range subs {
		sub.h(next)
	}
	return next
}

// Subscribe calls h with the current snapshot, then with every change.
func (s *Store) Subscribe(h func(Snapshot)) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, h: h})
	current := s.snap
	s.notifyMu.Lock()
	s.mu.Unlock()
	h(current)
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish replaces the published handles.
func (s *Store) Publish(p Published) {
	p.Connectors = append([]wallet.Connector(nil), p.Connectors...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pub = p
}

func (s *Store) Connectors() []wallet.Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]wallet.Connector(nil), s.pub.Connectors...)
}

func (s *Store) Modal() modal.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub.Modal
}

func (s *Store) Config() wallet.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub.Config
}

func (s *Store) SignIn() *signin.Paths {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub.SignIn
}

// ConnectorByID returns nil when no configured connector has id.
func (s *Store) ConnectorByID(id string) wallet.Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.pub.Connectors {
		if c.ID() == id {
			return c
		}
	}
	return nil
}
