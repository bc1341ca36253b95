package counter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := New(rdb)
	ctx := context.Background()
	c.Inc(ctx, "activations")
	c.Inc(ctx, "activations")
	c.Add(ctx, "periodic_grants", 5)
	c.Add(ctx, "renewals", 0)

	totals, err := c.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"activations": 2, "periodic_grants": 5}, totals)

	today, err := c.Day(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), today["activations"])

	old, err := c.Day(ctx, time.Now().AddDate(0, 0, -3))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestNilCountersAreNoOps(t *testing.T) {
	var c *Counters
	ctx := context.Background()
	c.Inc(ctx, "activations")

	totals, err := c.Totals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}
