package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		SetClient(nil)
	})
	SetClient(rdb)
	return mr
}

func TestTryLock(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	ok, err := TryLock(ctx, "lock:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = TryLock(ctx, "lock:job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = TryLock(ctx, "lock:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, Unlock(ctx, "lock:job"))
	assert.False(t, mr.Exists("lock:job"))

	ok, err = TryLock(ctx, "lock:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
