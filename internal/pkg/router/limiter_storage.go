package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/marketsub/internal/pkg/config"
)

// limiterDatabase keeps rate limit keys out of the cache database.
const limiterDatabase = 1

// NewLimiterStorage returns a Redis backed fiber.Storage for the rate
// limiters so that every instance shares one budget per client.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	host := cfg.Host
	port := 6379
	if h, p, err := net.SplitHostPort(cfg.Addr()); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
