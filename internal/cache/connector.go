// Package cache keeps wallet and sign-in state in Redis so it survives
// restarts and is shared between instances.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/wallet-sync/internal/config"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

const DefaultPrefix = "wallet-sync:"

type Cache struct {
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
	prefix      string
}

// Connect dials Redis and pings it.
func Connect(ctx context.Context, cred *config.DBCredential) (*Cache, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cred.GetRedisAddress())
	}
	log.Infof("cache - connected to redis %s", cred.GetRedisAddress())
	return New(client, DefaultPrefix), nil
}

func New(client *redis.Client, prefix string) *Cache {
	return &Cache{Redis: client, RateLimiter: redis_rate.NewLimiter(client), prefix: prefix}
}

func (c *Cache) key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

func (c *Cache) Close() error {
	return c.Redis.Close()
}

// DeleteFromPrefix removes every key of this cache under prefix.
func (c *Cache) DeleteFromPrefix(ctx context.Context, prefix string) error {
	var (
		cursor uint64
		match        = fmt.Sprintf("%v*", c.prefix+prefix)
		count  int64 = 200
	)
	log.Debugf("deleting cache pattern %v", match)
	for {
		keys, next, err := c.Redis.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return errors.WrapAndReport(err, "scan caches")
		}
		cursor = next
		if len(keys) > 0 {
			if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
				return errors.WrapAndReport(err, "delete caches")
			}
		}
		if next == 0 {
			return nil
		}
	}
}
