package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.processors)
			assert.False(t, queue.running)
		})
	}
}

func TestEnqueueAndProcess(t *testing.T) {
	mr, rdb := newTestRedis(t)
	q := NewQueue(rdb, 1)
	ctx := context.Background()

	var seen []uint
	q.Register(JobTypeOrderEvent, func(ctx context.Context, job *Job) error {
		p, err := OrderEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		seen = append(seen, p.EventID)
		return nil
	})

	require.NoError(t, q.EnqueueOrderEvent(ctx, 7))
	require.NoError(t, q.EnqueueOrderEvent(ctx, 8))
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	for {
		ok, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Equal(t, []uint{7, 8}, seen)

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[JobStatusPending])
	assert.Equal(t, int64(2), stats[JobStatusCompleted])

	// Completed jobs leave no data behind.
	keys := mr.Keys()
	for _, k := range keys {
		assert.NotContains(t, k, JobKeyPrefix)
	}
}

func TestFailedJobsRetryThenGiveUp(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewQueue(rdb, 1)
	q.retryDelay = func(int) time.Duration { return 0 }
	ctx := context.Background()

	attempts := 0
	q.Register(JobTypeExpireDue, func(context.Context, *Job) error {
		attempts++
		return errors.New("database unavailable")
	})

	job, err := q.EnqueueJob(ctx, JobTypeExpireDue, map[string]interface{}{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ok, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Equal(t, DefaultMaxRetries, attempts)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "database unavailable", stored.ErrorMsg)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusFailed])
}

func TestUnknownJobTypeFailsImmediately(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewQueue(rdb, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobType("nope"), nil)
	require.NoError(t, err)
	ok, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRecoverStuck(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewQueue(rdb, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeExpireDue, nil)
	require.NoError(t, err)
	_, err = q.dequeueJob(ctx, 0)
	require.NoError(t, err)

	started := time.Now().Add(-time.Hour)
	job.Status = JobStatusProcessing
	job.ProcessedAt = &started
	q.updateJob(ctx, job)
	require.NoError(t, rdb.LPush(ctx, JobProcessingKey, "ghost").Err())

	n, err := q.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func TestWorkersDrainQueue(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewQueue(rdb, 2)
	ctx := context.Background()

	done := make(chan uint, 4)
	q.Register(JobTypeOrderEvent, func(ctx context.Context, job *Job) error {
		p, err := OrderEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		done <- p.EventID
		return nil
	})
	q.Start()
	defer q.Stop()

	for i := uint(1); i <= 4; i++ {
		require.NoError(t, q.EnqueueOrderEvent(ctx, i))
	}

	got := map[uint]bool{}
	timeout := time.After(10 * time.Second)
	for len(got) < 4 {
		select {
		case id := <-done:
			got[id] = true
		case <-timeout:
			t.Fatalf("workers processed only %d jobs", len(got))
		}
	}
}
