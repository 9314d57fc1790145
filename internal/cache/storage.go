package cache

import (
	"context"

	"github.com/go-redis/redis/v8"
	"moff.io/wallet-sync/internal/wallet"
	"moff.io/wallet-sync/pkg/errors"
)

var _ wallet.Storage = (*Storage)(nil)

// Storage is the persistent key-value store of the wallet config.
type Storage struct {
	c *Cache
}

func (c *Cache) Storage() *Storage { return &Storage{c: c} }

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.Redis.Get(ctx, s.c.key("storage", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.c.Redis.Set(ctx, s.c.key("storage", key), value, 0).Err(), "set %s", key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.c.Redis.Del(ctx, s.c.key("storage", key)).Err(), "delete %s", key)
}
