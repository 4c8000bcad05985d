// Package service wires the cycle pipeline and the CRUD operations the API
// and the worker expose.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/filter"
	"github.com/listing-scanner/internal/geo"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/provider"
	"github.com/listing-scanner/internal/reconcile"
	"github.com/listing-scanner/internal/storage"
	"github.com/listing-scanner/internal/types"
)

// ChangeSink receives committed change sets (notification dispatch,
// analytics). Sink failures never fail a cycle.
type ChangeSink interface {
	Publish(ctx context.Context, cs *models.ChangeSet) error
	Name() string
}

// CycleReport is the outcome of one cycle
type CycleReport struct {
	ChangeSet  *models.ChangeSet `json:"changeSet"`
	Received   int               `json:"received"`
	Rejected   int               `json:"rejected"` // failed provider normalization
	Ignored    int               `json:"ignored"`  // provider noise filter
	Enrichment geo.BatchStats    `json:"enrichment"`
	Excluded   map[string]int    `json:"excluded"` // job filter, by reason
}

// CycleService runs normalize -> enrich -> filter -> reconcile -> publish for
// one provider batch
type CycleService struct {
	jobs          storage.JobStore
	engine        *reconcile.Engine
	enricher      *geo.Enricher
	providers     *provider.Registry
	sinks         []ChangeSink
	monitor       *CycleMonitor
	defaultPolicy types.SpatialPolicy
}

// NewCycleService creates a cycle service
func NewCycleService(
	jobs storage.JobStore,
	engine *reconcile.Engine,
	enricher *geo.Enricher,
	providers *provider.Registry,
	defaultPolicy types.SpatialPolicy,
	sinks ...ChangeSink,
) *CycleService {
	if providers == nil {
		providers = provider.Defaults()
	}
	if enricher == nil {
		enricher = geo.NewEnricher(nil)
	}
	return &CycleService{
		jobs:          jobs,
		engine:        engine,
		enricher:      enricher,
		providers:     providers,
		sinks:         sinks,
		monitor:       NewCycleMonitor(),
		defaultPolicy: types.ParseSpatialPolicy(string(defaultPolicy), types.SpatialPassThrough),
	}
}

// Monitor returns the service's cycle statistics
func (s *CycleService) Monitor() *CycleMonitor {
	return s.monitor
}

// RunCycle processes a batch. Only the reconcile step holds the job lock;
// geocoding happens before it. A failed cycle returns an error and leaves
// stored listings untouched.
func (s *CycleService) RunCycle(ctx context.Context, batch *models.Batch) (*CycleReport, error) {
	if batch == nil || batch.JobID == "" {
		return nil, apperrors.NewValidationError("jobId", "required")
	}
	if strings.TrimSpace(batch.Provider) == "" {
		return nil, apperrors.NewValidationError("provider", "required")
	}

	job, err := s.jobs.GetJob(ctx, batch.JobID)
	if err != nil {
		return nil, err
	}

	capability := s.providers.Get(strings.ToLower(strings.TrimSpace(batch.Provider)))
	providerName := capability.Name()
	if !job.AllowsProvider(providerName) {
		return nil, apperrors.NewValidationError("provider", "job does not poll "+providerName)
	}

	cycleID := batch.CycleID
	if cycleID == "" {
		cycleID = uuid.New().String()
	}
	log := logging.FromContext(ctx).WithCycle(job.ID, cycleID, providerName)
	ctx = logging.WithLogger(ctx, log)

	report := &CycleReport{Received: len(batch.Listings)}
	normalized := s.normalize(capability, batch.Listings, report)

	var destination *geo.Point
	if job.Destination != nil {
		destination = &geo.Point{Lat: job.Destination.Lat, Lng: job.Destination.Lng}
	}
	enriched, stats := s.enricher.EnrichBatch(ctx, normalized, destination)
	report.Enrichment = stats

	f := filter.FromSpec(job.Filter, s.defaultPolicy)
	if err := f.BoundaryError(); err != nil {
		log.WithError(apperrors.NewFilterError(job.ID, err)).Warn("Job boundary is malformed, excluding all listings")
	}
	filtered := f.Apply(enriched)
	report.Excluded = filtered.Excluded

	log.WithFields(map[string]interface{}{
		"received":   report.Received,
		"rejected":   report.Rejected,
		"ignored":    report.Ignored,
		"kept":       len(filtered.Kept),
		"geocoded":   stats.Resolved,
		"unresolved": stats.Unresolved,
	}).Debug("Batch prepared")

	started := time.Now()
	cs, err := s.engine.Reconcile(ctx, &models.Batch{
		JobID:     job.ID,
		Provider:  providerName,
		CycleID:   cycleID,
		FetchedAt: batch.FetchedAt,
		Listings:  filtered.Kept,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.monitor.RecordFailure(time.Since(started), err)
		}
		return nil, err
	}
	s.monitor.RecordSuccess(time.Since(started), cs)
	report.ChangeSet = cs

	s.publish(ctx, cs)
	return report, nil
}

func (s *CycleService) normalize(capability provider.Capability, listings []models.NormalizedListing, report *CycleReport) []models.NormalizedListing {
	out := make([]models.NormalizedListing, 0, len(listings))
	for _, l := range listings {
		n, err := capability.Normalize(l)
		if err != nil {
			report.Rejected++
			continue
		}
		if !capability.Filter(n) {
			report.Ignored++
			continue
		}
		out = append(out, n)
	}
	return out
}

// publish hands the committed change set to every sink. The cycle has
// already committed, so failures are only logged.
func (s *CycleService) publish(ctx context.Context, cs *models.ChangeSet) {
	if cs.IsEmpty() {
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, cs); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("sink", sink.Name()).Warn("Failed to publish change set")
		}
	}
}
