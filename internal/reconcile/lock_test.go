package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistry_MutualExclusion(t *testing.T) {
	r := NewLockRegistry()
	var inside, violations int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(context.Background(), "job-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Zero(t, r.Len(), "entries are dropped once nobody holds or waits")
}

func TestLockRegistry_IndependentJobs(t *testing.T) {
	r := NewLockRegistry()
	releaseA, err := r.Acquire(context.Background(), "job-a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := r.Acquire(ctx, "job-b")
	require.NoError(t, err)
	releaseB()
}

func TestLockRegistry_ContextCancelled(t *testing.T) {
	r := NewLockRegistry()
	release, err := r.Acquire(context.Background(), "job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, "job-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Zero(t, r.Len())

	again, err := r.Acquire(context.Background(), "job-1")
	require.NoError(t, err)
	again()
}

func TestLockRegistry_AlreadyCancelled(t *testing.T) {
	r := NewLockRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Acquire(ctx, "job-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.Len())
}

type recordingLocker struct {
	name string
	log  *[]string
	err  error
}

func (l recordingLocker) Acquire(ctx context.Context, jobID string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	*l.log = append(*l.log, "acquire "+l.name)
	return func() { *l.log = append(*l.log, "release "+l.name) }, nil
}

func TestChain(t *testing.T) {
	var log []string
	c := Chain(recordingLocker{name: "local", log: &log}, recordingLocker{name: "redis", log: &log})

	release, err := c.Acquire(context.Background(), "job-1")
	require.NoError(t, err)
	release()
	release()

	assert.Equal(t, []string{"acquire local", "acquire redis", "release redis", "release local"}, log)
}

func TestChain_FailureReleasesAcquired(t *testing.T) {
	var log []string
	boom := errors.New("redis down")
	c := Chain(recordingLocker{name: "local", log: &log}, recordingLocker{name: "redis", log: &log, err: boom})

	_, err := c.Acquire(context.Background(), "job-1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"acquire local", "release local"}, log)
}
