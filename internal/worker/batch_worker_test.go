package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/reconcile"
	"github.com/listing-scanner/internal/retry"
	"github.com/listing-scanner/internal/service"
	"github.com/listing-scanner/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerFunc adapts a function to CycleRunner
type runnerFunc func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error)

func (f runnerFunc) RunCycle(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
	return f(ctx, batch)
}

func okReport(batch *models.Batch) *service.CycleReport {
	return &service.CycleReport{ChangeSet: &models.ChangeSet{JobID: batch.JobID, Provider: batch.Provider}}
}

func testQueue(t *testing.T) *storage.BatchQueue {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewBatchQueue(client, "batches:pending", "batches:failed")
}

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func startWorker(t *testing.T, q *storage.BatchQueue, runner CycleRunner, concurrency int) *BatchWorker {
	t.Helper()
	w, err := NewBatchWorker(q, runner, Config{Concurrency: concurrency, PollTimeout: 50 * time.Millisecond, Retry: fastRetry()})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func TestBatchWorker_ProcessesQueue(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]bool{}
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		mu.Lock()
		seen[batch.CycleID] = true
		mu.Unlock()
		return okReport(batch), nil
	})

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, q.Enqueue(ctx, &models.Batch{JobID: "job-" + id, Provider: "tutti", CycleID: id}))
	}
	w := startWorker(t, q, runner, 2)

	assert.Eventually(t, func() bool { return w.GetStatus().Processed == 3 }, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
	assert.True(t, w.GetStatus().Running)
}

func TestBatchWorker_RetriesRetryableErrors(t *testing.T) {
	q := testQueue(t)
	var calls int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, apperrors.NewPersistenceError("commit cycle", errors.New("connection reset"))
		}
		return okReport(batch), nil
	})

	require.NoError(t, q.Enqueue(context.Background(), &models.Batch{JobID: "job-1", Provider: "tutti"}))
	w := startWorker(t, q, runner, 1)

	assert.Eventually(t, func() bool { return w.GetStatus().Processed == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Zero(t, w.GetStatus().DeadLettered)
}

func TestBatchWorker_DeadLettersPermanentFailures(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	var calls int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.NewNotFoundError("job", batch.JobID)
	})

	require.NoError(t, q.Enqueue(ctx, &models.Batch{JobID: "gone", Provider: "tutti", CycleID: "c1"}))
	w := startWorker(t, q, runner, 1)

	assert.Eventually(t, func() bool { return w.GetStatus().DeadLettered == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "not found is not retried")

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "c1", letters[0].Batch.CycleID)
	assert.Equal(t, 1, letters[0].Attempts)
}

func TestBatchWorker_ExhaustedRetriesAreDeadLettered(t *testing.T) {
	q := testQueue(t)
	var calls int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.NewPersistenceError("begin cycle", errors.New("too many connections"))
	})

	require.NoError(t, q.Enqueue(context.Background(), &models.Batch{JobID: "job-1", Provider: "tutti"}))
	w := startWorker(t, q, runner, 1)

	assert.Eventually(t, func() bool { return w.GetStatus().DeadLettered == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), w.GetStatus().Failed)
}

func TestBatchWorker_InterruptedBatchRunsBeforeNewer(t *testing.T) {
	q := testQueue(t)
	started := make(chan struct{})
	interrupting := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.NoError(t, q.Enqueue(context.Background(), &models.Batch{JobID: "job-1", Provider: "tutti", CycleID: "older"}))
	runCtx, abort := context.WithCancel(context.Background())
	first, err := NewBatchWorker(q, interrupting, Config{Concurrency: 1, PollTimeout: 50 * time.Millisecond, Retry: fastRetry()})
	require.NoError(t, err)
	require.NoError(t, first.Start(runCtx))

	<-started
	require.NoError(t, q.Enqueue(context.Background(), &models.Batch{JobID: "job-1", Provider: "tutti", CycleID: "newer"}))
	abort()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Stop(stopCtx))
	assert.Zero(t, first.GetStatus().DeadLettered, "interrupted batches are requeued, not dead-lettered")

	var mu sync.Mutex
	var order []string
	recording := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		mu.Lock()
		order = append(order, batch.CycleID)
		mu.Unlock()
		return okReport(batch), nil
	})
	second := startWorker(t, q, recording, 1)

	assert.Eventually(t, func() bool { return second.GetStatus().Processed == 2 }, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"older", "newer"}, order)
}

func TestBatchWorker_StaleBatchesAreDropped(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	var calls int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		atomic.AddInt32(&calls, 1)
		stale := apperrors.NewConflictError("batch is stale")
		stale.Cause = reconcile.ErrStaleBatch
		return nil, stale
	})

	require.NoError(t, q.Enqueue(ctx, &models.Batch{JobID: "job-1", Provider: "tutti"}))
	w := startWorker(t, q, runner, 1)

	assert.Eventually(t, func() bool { return w.GetStatus().Skipped == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Zero(t, w.GetStatus().DeadLettered)
	assert.Zero(t, w.GetStatus().Failed)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestBatchWorker_BoundedConcurrency(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	var inside, peak int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		n := atomic.AddInt32(&inside, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return okReport(batch), nil
	})

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(ctx, &models.Batch{JobID: "job", Provider: "tutti"}))
	}
	w := startWorker(t, q, runner, 2)

	assert.Eventually(t, func() bool { return w.GetStatus().Processed == 8 }, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestBatchWorker_StopWaitsForInFlight(t *testing.T) {
	q := testQueue(t)
	started := make(chan struct{})
	var finished int32
	runner := runnerFunc(func(ctx context.Context, batch *models.Batch) (*service.CycleReport, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return okReport(batch), nil
	})

	require.NoError(t, q.Enqueue(context.Background(), &models.Batch{JobID: "job-1", Provider: "tutti"}))
	w, err := NewBatchWorker(q, runner, Config{Concurrency: 1, PollTimeout: 50 * time.Millisecond, Retry: fastRetry()})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	assert.False(t, w.GetStatus().Running)
	assert.Error(t, w.Stop(ctx))
}

func TestNewBatchWorker_Validation(t *testing.T) {
	_, err := NewBatchWorker(nil, runnerFunc(nil), Config{})
	assert.Error(t, err)
	_, err = NewBatchWorker(testQueue(t), nil, Config{})
	assert.Error(t, err)
}
