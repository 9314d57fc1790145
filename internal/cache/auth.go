package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/wallet-sync/internal/auth"
	"moff.io/wallet-sync/pkg/common"
	"moff.io/wallet-sync/pkg/errors"
)

var (
	_ auth.NonceStore   = (*Nonces)(nil)
	_ auth.SessionStore = (*Sessions)(nil)
	_ auth.RateLimiter  = (*Limiter)(nil)
)

type Nonces struct {
	c *Cache
}

func (c *Cache) Nonces() *Nonces { return &Nonces{c: c} }

func (n *Nonces) Issue(ctx context.Context, nonce string, ttl time.Duration) error {
	return errors.Wrap(n.c.Redis.Set(ctx, n.c.key("nonce", nonce), 1, ttl).Err(), "store nonce")
}

// Consume deletes the nonce; only the caller whose delete removed it wins.
func (n *Nonces) Consume(ctx context.Context, nonce string) (bool, error) {
	deleted, err := n.c.Redis.Del(ctx, n.c.key("nonce", nonce)).Result()
	if err != nil {
		return false, errors.Wrap(err, "consume nonce")
	}
	return deleted == 1, nil
}

// Sessions keys each session by the SHA-256 of its id, so the cookie value
// never appears in Redis.
type Sessions struct {
	c *Cache
}

func (c *Cache) Sessions() *Sessions { return &Sessions{c: c} }

func (s *Sessions) key(id string) string {
	return s.c.key("session", common.SHA256HexString([]byte(id)))
}

func (s *Sessions) Create(ctx context.Context, id string, session auth.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return errors.Wrap(s.c.Redis.Set(ctx, s.key(id), data, ttl).Err(), "store session")
}

func (s *Sessions) Get(ctx context.Context, id string) (auth.Session, bool, error) {
	data, err := s.c.Redis.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, errors.Wrap(err, "load session")
	}
	var session auth.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return auth.Session{}, false, errors.Wrap(err, "unmarshal session")
	}
	return session, true, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.c.Redis.Del(ctx, s.key(id)).Err(), "delete session")
}

// Limiter is a sliding per-minute limit shared by every instance.
type Limiter struct {
	c     *Cache
	limit redis_rate.Limit
}

func (c *Cache) PerMinute(n int) *Limiter {
	return &Limiter{c: c, limit: redis_rate.PerMinute(n)}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.c.RateLimiter.Allow(ctx, l.c.key("rate", key), l.limit)
	if err != nil {
		return false, errors.Wrap(err, "rate limit")
	}
	return res.Allowed > 0, nil
}
