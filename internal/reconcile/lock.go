package reconcile

import (
	"context"
	"sync"
)

// Locker grants exclusive access to one job. The returned release func is
// safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, jobID string) (func(), error)
}

// LockRegistry is an in-process keyed mutex. Entries exist only while a job
// is held or waited on.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	sem  chan struct{}
	refs int
}

// NewLockRegistry creates an empty registry
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*jobLock)}
}

// Acquire blocks until jobID is free or ctx is done
func (r *LockRegistry) Acquire(ctx context.Context, jobID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	l, ok := r.locks[jobID]
	if !ok {
		l = &jobLock{sem: make(chan struct{}, 1)}
		r.locks[jobID] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(jobID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			r.unref(jobID, l)
		})
	}, nil
}

func (r *LockRegistry) unref(jobID string, l *jobLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, jobID)
	}
}

// Len returns the number of jobs currently held or waited on
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Chain acquires every locker in order and releases them in reverse. It is
// used to take the in-process lock before the shared Redis one.
func Chain(lockers ...Locker) Locker {
	return chain(lockers)
}

type chain []Locker

func (c chain) Acquire(ctx context.Context, jobID string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, err := l.Acquire(ctx, jobID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
