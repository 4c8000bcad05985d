// Package worker consumes normalized listing batches from the queue and
// runs a reconciliation cycle for each, a bounded number at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/reconcile"
	"github.com/listing-scanner/internal/retry"
	"github.com/listing-scanner/internal/service"
)

// BatchSource is the queue batches are taken from. Requeue puts a batch back
// ahead of everything else.
type BatchSource interface {
	Requeue(ctx context.Context, batch *models.Batch) error
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Batch, error)
	DeadLetter(ctx context.Context, batch *models.Batch, cause error, attempts int) error
}

// CycleRunner runs one reconciliation cycle
type CycleRunner interface {
	RunCycle(ctx context.Context, batch *models.Batch) (*service.CycleReport, error)
}

// Config holds configuration for a batch worker
type Config struct {
	Concurrency int           // cycles in flight at once
	PollTimeout time.Duration // how long one dequeue blocks
	Retry       *retry.RetryConfig
}

// BatchWorker pulls batches and runs cycles on a semaphore-bounded pool.
// Cycles of different jobs run in parallel; cycles of the same job are
// serialized by the reconcile engine's lock.
type BatchWorker struct {
	source BatchSource
	runner CycleRunner
	cfg    Config

	workerSem chan struct{}
	inFlight  sync.WaitGroup

	mu           sync.RWMutex
	running      bool
	stopping     bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	cancelPoll   context.CancelFunc
	lastPollTime time.Time
	processed    int64
	skipped      int64
	failed       int64
	deadLettered int64
}

// Status is a snapshot of the worker state
type Status struct {
	Running      bool      `json:"running"`
	InFlight     int       `json:"inFlight"`
	Concurrency  int       `json:"concurrency"`
	Processed    int64     `json:"processed"`
	Skipped      int64     `json:"skipped"`
	Failed       int64     `json:"failed"`
	DeadLettered int64     `json:"deadLettered"`
	LastPollTime time.Time `json:"lastPollTime"`
}

// NewBatchWorker creates a worker. Cycles that fail with a retryable error
// are retried with backoff, the rest are dead-lettered.
func NewBatchWorker(source BatchSource, runner CycleRunner, cfg Config) (*BatchWorker, error) {
	if source == nil {
		return nil, fmt.Errorf("batch source cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("cycle runner cannot be nil")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	r := *cfg.Retry
	r.ShouldRetry = apperrors.IsRetryable
	cfg.Retry = &r

	return &BatchWorker{
		source:    source,
		runner:    runner,
		cfg:       cfg,
		workerSem: make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Start begins consuming batches. Cycles run on ctx; Stop only ends polling
// and waits for cycles in flight.
func (w *BatchWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("batch worker is already running")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.cancelPoll = cancel

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"concurrency":  w.cfg.Concurrency,
		"poll_timeout": w.cfg.PollTimeout.String(),
	}).Info("Starting batch worker")

	go w.pollLoop(ctx, pollCtx)
	return nil
}

// Stop ends polling and waits for in-flight cycles until ctx is done
func (w *BatchWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running || w.stopping {
		w.mu.Unlock()
		return fmt.Errorf("batch worker is not running")
	}
	w.stopping = true
	close(w.stopCh)
	w.cancelPoll()
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		logging.FromContext(ctx).Warn("Batch worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.stopping = false
	w.mu.Unlock()
	logging.FromContext(ctx).Info("Batch worker stopped")
	return nil
}

// pollLoop is the main loop; doneCh closes once polling ended and every
// started cycle finished
func (w *BatchWorker) pollLoop(ctx, pollCtx context.Context) {
	defer close(w.doneCh)
	defer w.inFlight.Wait()

	log := logging.FromContext(ctx)
	for {
		// wait for a free slot before taking a batch off the queue
		select {
		case w.workerSem <- struct{}{}:
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}

		w.mu.Lock()
		w.lastPollTime = time.Now()
		w.mu.Unlock()

		batch, err := w.source.Dequeue(pollCtx, w.cfg.PollTimeout)
		if err != nil {
			<-w.workerSem
			if pollCtx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to dequeue batch")
			select {
			case <-time.After(w.cfg.PollTimeout):
			case <-w.stopCh:
				return
			}
			continue
		}
		if batch == nil {
			<-w.workerSem
			continue
		}

		w.inFlight.Add(1)
		go func() {
			defer func() {
				<-w.workerSem
				w.inFlight.Done()
			}()
			w.process(ctx, batch)
		}()
	}
}

// process runs one batch with retries and dead-letters it on final failure
func (w *BatchWorker) process(ctx context.Context, batch *models.Batch) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job_id":   batch.JobID,
		"provider": batch.Provider,
		"cycle_id": batch.CycleID,
	})

	var report *service.CycleReport
	result := retry.WithExponentialBackoff(ctx, w.cfg.Retry, func(ctx context.Context, attempt int) error {
		var err error
		report, err = w.runner.RunCycle(ctx, batch)
		return err
	})

	if result.Success {
		w.mu.Lock()
		w.processed++
		w.mu.Unlock()
		log.WithFields(report.ChangeSet.Counts()).Debug("Batch processed")
		return
	}

	// a newer fetch of the same provider already won; nothing to retry
	if errors.Is(result.LastError, reconcile.ErrStaleBatch) {
		w.mu.Lock()
		w.skipped++
		w.mu.Unlock()
		log.WithField("fetched_at", batch.FetchedAt).Info("Dropped stale batch")
		return
	}

	w.mu.Lock()
	w.failed++
	w.mu.Unlock()

	// shutting down: put the batch back for the next worker
	if errors.Is(result.LastError, context.Canceled) || errors.Is(result.LastError, context.DeadlineExceeded) {
		requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.source.Requeue(requeueCtx, batch); err != nil {
			log.WithError(err).Error("Failed to requeue interrupted batch")
		}
		return
	}

	log.WithError(result.LastError).WithField("attempts", result.Attempts).Error("Giving up on batch")
	dlCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.source.DeadLetter(dlCtx, batch, result.LastError, result.Attempts); err != nil {
		log.WithError(err).Error("Failed to dead-letter batch")
		return
	}
	w.mu.Lock()
	w.deadLettered++
	w.mu.Unlock()
}

// GetStatus returns the current worker status
func (w *BatchWorker) GetStatus() *Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &Status{
		Running:      w.running,
		InFlight:     len(w.workerSem),
		Concurrency:  w.cfg.Concurrency,
		Processed:    w.processed,
		Skipped:      w.skipped,
		Failed:       w.failed,
		DeadLettered: w.deadLettered,
		LastPollTime: w.lastPollTime,
	}
}
