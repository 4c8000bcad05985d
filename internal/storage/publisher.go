package storage

import (
	"context"
	"encoding/json"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

// ChangePublisher announces committed change sets on a per-job Redis channel
// (<prefix>:<job_id>) for notification dispatch. Empty change sets are not
// published.
type ChangePublisher struct {
	client redis.Cmdable
	prefix string
}

// NewChangePublisher creates a publisher with the given channel prefix
func NewChangePublisher(client redis.Cmdable, prefix string) *ChangePublisher {
	return &ChangePublisher{client: client, prefix: prefix}
}

// Channel returns the channel a job's changes go to
func (p *ChangePublisher) Channel(jobID string) string {
	return p.prefix + ":" + jobID
}

// Publish implements the change sink contract
func (p *ChangePublisher) Publish(ctx context.Context, cs *models.ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal change set", err)
	}
	if err := p.client.Publish(ctx, p.Channel(cs.JobID), data).Err(); err != nil {
		return apperrors.NewCacheError("publish change set", err)
	}
	return nil
}

// Name identifies the sink in logs
func (p *ChangePublisher) Name() string {
	return "redis_pubsub"
}
