package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/marketsub/internal/pkg/config"
)

var client *redis.Client

// SetupCache initializes the connection to the Redis compatible cache server.
// A failed ping is logged, not fatal: queue and counters retry on use.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Connected to %s: %s", cfg.Addr(), pong)
	}
	return client
}

// SetClient replaces the shared client, used by tests with miniredis.
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the shared client, connecting with the environment's
// settings on first use.
func GetClient() *redis.Client {
	if client == nil {
		cfg, err := config.Load()
		if err != nil {
			log.Errorf("[Cache] Falling back to default cache settings: %v", err)
		}
		SetupCache(cfg.Cache)
	}
	return client
}

func Delete(ctx context.Context, key string) error {
	return GetClient().Del(ctx, key).Err()
}

// TryLock takes a best-effort lock that expires after ttl. It reports false
// when someone else holds it.
func TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return GetClient().SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func Unlock(ctx context.Context, key string) error {
	return Delete(ctx, key)
}
