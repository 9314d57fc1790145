package auth

import (
	"context"
	"sync"
	"time"
)

// Session is what the server remembers about a signed-in client.
type Session struct {
	Address  string    `json:"address"`
	ChainID  int       `json:"chainId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// NonceStore keeps issued nonces until they are consumed or expire.
type NonceStore interface {
	Issue(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume removes nonce and reports whether it was still valid.
	Consume(ctx context.Context, nonce string) (bool, error)
}

type SessionStore interface {
	Create(ctx context.Context, id string, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, bool, error)
	Delete(ctx context.Context, id string) error
}

// SignInRecord is one accepted sign-in.
type SignInRecord struct {
	SessionID string
	Address   string
	ChainID   int
	Domain    string
	Nonce     string
	At        time.Time
}

type Recorder interface {
	RecordSignIn(ctx context.Context, r SignInRecord) error
}

// RateLimiter allows or refuses one more request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type expiring struct {
	session  Session
	expireAt time.Time
}

// MemoryStore implements NonceStore and SessionStore in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nonces   map[string]time.Time
	sessions map[string]expiring
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		nonces:   make(map[string]time.Time),
		sessions: make(map[string]expiring),
	}
}

func (m *MemoryStore) Issue(_ context.Context, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[nonce] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expireAt, ok := m.nonces[nonce]
	delete(m.nonces, nonce)
	return ok && m.now().Before(expireAt), nil
}

func (m *MemoryStore) Create(_ context.Context, id string, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = expiring{session: s, expireAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, false, nil
	}
	if !m.now().Before(e.expireAt) {
		delete(m.sessions, id)
		return Session{}, false, nil
	}
	return e.session, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
