package service

import (
	"context"
	"strings"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/storage"
)

// ResetService runs corrective resets: provider-scoped deletions recorded in
// a ledger so that running the same reset twice deletes nothing the second
// time. Resets are operator actions and never part of a cycle.
type ResetService struct {
	store storage.ResetStore
}

// NewResetService creates a reset service
func NewResetService(store storage.ResetStore) *ResetService {
	return &ResetService{store: store}
}

// Reset deletes every listing of req.Provider across all jobs
func (s *ResetService) Reset(ctx context.Context, req models.ResetRequest) (*models.ResetResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, apperrors.NewValidationError("reason", "required")
	}

	res, err := s.store.ResetProvider(ctx, req)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"reset":    res.Name,
		"provider": res.Provider,
		"removed":  res.Removed,
	})
	if res.AlreadyApplied {
		log.Info("Corrective reset already applied, nothing deleted")
		return res, nil
	}
	log.WithField("reason", res.Reason).Warn("Corrective reset deleted listings")
	return res, nil
}

// History returns the reset ledger
func (s *ResetService) History(ctx context.Context) ([]*models.ResetResult, error) {
	return s.store.ListResets(ctx)
}
