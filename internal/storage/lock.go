package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:job:"

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL expired cannot release somebody else's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a per-job mutex shared between processes
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

// Acquire blocks until the job's lock is held or ctx is done
func (l *RedisLocker) Acquire(ctx context.Context, jobID string) (func(), error) {
	key := lockKeyPrefix + jobID
	token := uuid.New().String()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperrors.NewCacheError("acquire job lock", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release even when the cycle's ctx was cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logging.WithError(err).WithField("job_id", jobID).Warn("Failed to release job lock")
			}
		})
	}, nil
}
