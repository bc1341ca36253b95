// Package counter keeps operational counters for the subscription ledger in
// a Redis hash. They are advisory: the database stays the source of truth.
package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const totalsKey = "subscriptions:counters"

// Counters increments and reads the hash. A nil *Counters is valid and
// does nothing, so callers without Redis need no special casing.
type Counters struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

func dailyKey(day time.Time) string {
	return fmt.Sprintf("%s:%s", totalsKey, day.UTC().Format("2006-01-02"))
}

// Add bumps name by n in the running totals and in today's bucket. Errors
// are logged and swallowed.
func (c *Counters) Add(ctx context.Context, name string, n int64) {
	if c == nil || c.rdb == nil || n == 0 {
		return
	}
	day := dailyKey(time.Now())
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, totalsKey, name, n)
	pipe.HIncrBy(ctx, day, name, n)
	pipe.Expire(ctx, day, 35*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Counter] Failed to add %d to %s: %v", n, name, err)
	}
}

func (c *Counters) Inc(ctx context.Context, name string) {
	c.Add(ctx, name, 1)
}

// Totals returns the running totals.
func (c *Counters) Totals(ctx context.Context) (map[string]int64, error) {
	return c.read(ctx, totalsKey)
}

// Day returns the counters recorded on day (UTC).
func (c *Counters) Day(ctx context.Context, day time.Time) (map[string]int64, error) {
	return c.read(ctx, dailyKey(day))
}

func (c *Counters) read(ctx context.Context, key string) (map[string]int64, error) {
	out := map[string]int64{}
	if c == nil || c.rdb == nil {
		return out, nil
	}
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
