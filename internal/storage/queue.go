package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

// BatchQueue is a Redis list of normalized batches waiting for a cycle.
// Producers LPUSH, workers BRPOP, so batches are consumed in arrival order.
type BatchQueue struct {
	client        redis.Cmdable
	key           string
	deadLetterKey string
}

// DeadLetter is a batch the worker gave up on
type DeadLetter struct {
	Batch    *models.Batch `json:"batch,omitempty"`
	Raw      string        `json:"raw,omitempty"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failedAt"`
	Attempts int           `json:"attempts"`
}

// NewBatchQueue creates a queue on key with failures going to deadLetterKey
func NewBatchQueue(client redis.Cmdable, key, deadLetterKey string) *BatchQueue {
	return &BatchQueue{client: client, key: key, deadLetterKey: deadLetterKey}
}

// Enqueue appends a batch
func (q *BatchQueue) Enqueue(ctx context.Context, batch *models.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return apperrors.NewValidationError("batch", err.Error())
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return apperrors.NewCacheError("enqueue batch", err)
	}
	return nil
}

// Requeue puts a batch back at the head of the queue, so it is taken again
// before anything enqueued while it was in flight
func (q *BatchQueue) Requeue(ctx context.Context, batch *models.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return apperrors.NewValidationError("batch", err.Error())
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return apperrors.NewCacheError("requeue batch", err)
	}
	return nil
}

// Dequeue waits up to timeout for the next batch. It returns (nil, nil) when
// the queue stayed empty. Payloads that do not decode are dead-lettered and
// skipped.
func (q *BatchQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Batch, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewCacheError("dequeue batch", err)
	}
	if len(res) != 2 {
		return nil, apperrors.NewCacheError("dequeue batch", fmt.Errorf("unexpected BRPOP reply of %d elements", len(res)))
	}

	var batch models.Batch
	if err := json.Unmarshal([]byte(res[1]), &batch); err != nil {
		dlErr := q.push(ctx, DeadLetter{Raw: res[1], Error: "decode: " + err.Error(), FailedAt: time.Now().UTC()})
		if dlErr != nil {
			return nil, dlErr
		}
		return nil, nil
	}
	return &batch, nil
}

// DeadLetter records a batch that failed for good
func (q *BatchQueue) DeadLetter(ctx context.Context, batch *models.Batch, cause error, attempts int) error {
	return q.push(ctx, DeadLetter{
		Batch:    batch,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
		Attempts: attempts,
	})
}

func (q *BatchQueue) push(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal dead letter", err)
	}
	if err := q.client.LPush(ctx, q.deadLetterKey, data).Err(); err != nil {
		return apperrors.NewCacheError("dead-letter batch", err)
	}
	return nil
}

// Len returns the number of pending batches
func (q *BatchQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, apperrors.NewCacheError("queue length", err)
	}
	return n, nil
}

// DeadLetters returns up to limit dead letters, newest first
func (q *BatchQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, apperrors.NewCacheError("read dead letters", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}
