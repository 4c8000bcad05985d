package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
)

// MemoryStore is an in-process Store with the same constraints as the
// Postgres schema: UNIQUE(job_id, hash), cascading deletes and atomic cycles.
// Cycles stage their writes and publish them only when fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	jobs     map[string]*models.Job
	listings map[string]*models.Listing // by id
	byHash   map[string]string          // job_id/hash -> id
	watches  map[watchKey]*models.WatchEntry
	resets   map[string]*models.ResetResult // by name
	fetches  map[string]time.Time           // job_id/provider -> last applied fetch
	now      func() time.Time
}

type watchKey struct {
	listingID, userID string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[string]*models.User{},
		jobs:     map[string]*models.Job{},
		listings: map[string]*models.Listing{},
		byHash:   map[string]string{},
		watches:  map[watchKey]*models.WatchEntry{},
		resets:   map[string]*models.ResetResult{},
		fetches:  map[string]time.Time{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func hashKey(jobID, hash string) string {
	return jobID + "/" + hash
}

// WithinCycle implements CycleStore. The store is locked for the duration of
// fn, so cycles are serialized.
func (s *MemoryStore) WithinCycle(ctx context.Context, jobID string, fn func(tx ListingTx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewPersistenceError("begin cycle", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:  s,
		staged: map[string]*models.Listing{},
		hashes: map[string]string{},
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, l := range tx.staged {
		s.listings[id] = l
		s.byHash[hashKey(l.JobID, l.Hash)] = id
	}
	for key, at := range tx.fetches {
		s.fetches[key] = at
	}
	for id, at := range tx.cycles {
		if job, ok := s.jobs[id]; ok {
			t := at
			job.LastCycleAt = &t
		}
	}
	return nil
}

// memTx stages cycle writes on top of the committed state
type memTx struct {
	store  *MemoryStore
	staged map[string]*models.Listing // by id, cloned on first write
	hashes  map[string]string          // staged inserts, job_id/hash -> id
	cycles  map[string]time.Time
	fetches map[string]time.Time
}

func (t *memTx) get(id string) (*models.Listing, bool) {
	if l, ok := t.staged[id]; ok {
		return l, true
	}
	l, ok := t.store.listings[id]
	return l, ok
}

func (t *memTx) LoadListings(ctx context.Context, jobID, provider string) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("load listings", err)
	}
	seen := map[string]bool{}
	var out []*models.Listing
	for id, l := range t.staged {
		if l.JobID == jobID && l.Provider == provider {
			out = append(out, l.Clone())
			seen[id] = true
		}
	}
	for id, l := range t.store.listings {
		if !seen[id] && l.JobID == jobID && l.Provider == provider {
			out = append(out, l.Clone())
		}
	}
	sortByFirstSeen(out)
	return out, nil
}

func (t *memTx) InsertListings(ctx context.Context, listings []*models.Listing) error {
	for _, l := range listings {
		key := hashKey(l.JobID, l.Hash)
		if _, exists := t.store.byHash[key]; exists {
			return apperrors.NewPersistenceError("insert listings", errDuplicateHash(l))
		}
		if _, exists := t.hashes[key]; exists {
			return apperrors.NewPersistenceError("insert listings", errDuplicateHash(l))
		}
		if _, ok := t.store.jobs[l.JobID]; !ok {
			return apperrors.NewPersistenceError("insert listings", apperrors.NewNotFoundError("job", l.JobID))
		}
		t.hashes[key] = l.ID
		t.staged[l.ID] = l.Clone()
	}
	return nil
}

func (t *memTx) UpdateListings(ctx context.Context, listings []*models.Listing) error {
	for _, l := range listings {
		current, ok := t.get(l.ID)
		if !ok {
			return apperrors.NewPersistenceError("update listings", apperrors.NewNotFoundError("listing", l.ID))
		}
		updated := l.Clone()
		// identity and creation columns are not writable
		updated.JobID, updated.Provider, updated.Hash = current.JobID, current.Provider, current.Hash
		updated.FirstSeenAt, updated.CreatedAt = current.FirstSeenAt, current.CreatedAt
		t.staged[l.ID] = updated
	}
	return nil
}

func (t *memTx) DeactivateListings(ctx context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		current, ok := t.get(id)
		if !ok || !current.Active {
			continue
		}
		l := current.Clone()
		l.Active = false
		ts := at
		l.DeactivatedAt = &ts
		l.UpdatedAt = at
		t.staged[id] = l
	}
	return nil
}

func (t *memTx) TouchListings(ctx context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		current, ok := t.get(id)
		if !ok {
			continue
		}
		l := current.Clone()
		l.LastSeenAt = at
		t.staged[id] = l
	}
	return nil
}

func (t *memTx) MarkJobCycle(ctx context.Context, jobID string, at time.Time) error {
	if _, ok := t.store.jobs[jobID]; !ok {
		return apperrors.NewNotFoundError("job", jobID)
	}
	if t.cycles == nil {
		t.cycles = map[string]time.Time{}
	}
	t.cycles[jobID] = at
	return nil
}

func (t *memTx) AdvanceFetch(ctx context.Context, jobID, provider string, fetchedAt time.Time) (bool, error) {
	if _, ok := t.store.jobs[jobID]; !ok {
		return false, apperrors.NewNotFoundError("job", jobID)
	}
	key := hashKey(jobID, provider)
	last, ok := t.fetches[key]
	if !ok {
		last = t.store.fetches[key]
	}
	if fetchedAt.Before(last) {
		return false, nil
	}
	if t.fetches == nil {
		t.fetches = map[string]time.Time{}
	}
	t.fetches[key] = fetchedAt
	return true, nil
}

func errDuplicateHash(l *models.Listing) error {
	return apperrors.NewConflictError("duplicate listing hash " + l.Hash + " for job " + l.JobID)
}

// GetListing implements ListingReader
func (s *MemoryStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("listing", id)
	}
	return l.Clone(), nil
}

// GetListingByHash implements ListingReader
func (s *MemoryStore) GetListingByHash(ctx context.Context, jobID, hash string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hashKey(jobID, hash)]
	if !ok {
		return nil, apperrors.NewNotFoundError("listing", hash)
	}
	return s.listings[id].Clone(), nil
}

// ListListings implements ListingReader
func (s *MemoryStore) ListListings(ctx context.Context, jobID string, q ListingQuery) ([]*models.Listing, error) {
	q = q.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Listing
	for _, l := range s.listings {
		if l.JobID != jobID {
			continue
		}
		if q.Active != nil && l.Active != *q.Active {
			continue
		}
		matched = append(matched, l.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastSeenAt.Equal(matched[j].LastSeenAt) {
			return matched[i].LastSeenAt.After(matched[j].LastSeenAt)
		}
		return matched[i].ID < matched[j].ID
	})

	out := []*models.Listing{}
	for i := q.Offset; i < len(matched) && len(out) < q.Limit; i++ {
		out = append(out, matched[i])
	}
	return out, nil
}

// CreateUser implements UserStore
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range s.users {
		if u.Email == user.Email {
			return apperrors.NewConflictError("email already registered: " + user.Email)
		}
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now

	u := *user
	s.users[user.ID] = &u
	return nil
}

// GetUser implements UserStore
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	c := *u
	return &c, nil
}

// CreateJob implements JobStore
func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[job.OwnerID]; !ok {
		return apperrors.NewNotFoundError("user", job.OwnerID)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.NewConflictError("job already exists: " + job.ID)
	}
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob implements JobStore
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	return cloneJob(job), nil
}

// UpdateJob implements JobStore
func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return apperrors.NewNotFoundError("job", job.ID)
	}
	job.OwnerID = current.OwnerID
	job.CreatedAt = current.CreatedAt
	job.LastCycleAt = current.LastCycleAt
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// DeleteJob implements JobStore
func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return apperrors.NewNotFoundError("job", id)
	}
	delete(s.jobs, id)
	for key := range s.fetches {
		if strings.HasPrefix(key, id+"/") {
			delete(s.fetches, key)
		}
	}
	for lid, l := range s.listings {
		if l.JobID == id {
			s.deleteListingLocked(lid)
		}
	}
	return nil
}

// ListJobsByOwner implements JobStore
func (s *MemoryStore) ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []*models.Job{}
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// AddWatch implements WatchStore
func (s *MemoryStore) AddWatch(ctx context.Context, entry *models.WatchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[entry.ListingID]; !ok {
		return apperrors.NewNotFoundError("listing", entry.ListingID)
	}
	if _, ok := s.users[entry.UserID]; !ok {
		return apperrors.NewNotFoundError("user", entry.UserID)
	}

	key := watchKey{entry.ListingID, entry.UserID}
	if existing, ok := s.watches[key]; ok {
		existing.Note = entry.Note
		entry.CreatedAt = existing.CreatedAt
		return nil
	}
	entry.CreatedAt = s.now()
	e := *entry
	s.watches[key] = &e
	return nil
}

// RemoveWatch implements WatchStore
func (s *MemoryStore) RemoveWatch(ctx context.Context, listingID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watchKey{listingID, userID}
	if _, ok := s.watches[key]; !ok {
		return apperrors.NewNotFoundError("watch entry", listingID)
	}
	delete(s.watches, key)
	return nil
}

// ListWatched implements WatchStore
func (s *MemoryStore) ListWatched(ctx context.Context, userID string) ([]*models.WatchedListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.WatchedListing{}
	for key, e := range s.watches {
		if key.userID != userID {
			continue
		}
		out = append(out, &models.WatchedListing{
			WatchEntry: *e,
			Listing:    s.listings[key.listingID].Clone(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ResetProvider implements ResetStore
func (s *MemoryStore) ResetProvider(ctx context.Context, req models.ResetRequest) (*models.ResetResult, error) {
	if err := validateResetRequest(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.resets[req.Name]; ok {
		res := *existing
		res.AlreadyApplied = true
		return &res, nil
	}

	var removed int64
	for id, l := range s.listings {
		if l.Provider == req.Provider {
			s.deleteListingLocked(id)
			removed++
		}
	}

	res := &models.ResetResult{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Provider:   req.Provider,
		Reason:     req.Reason,
		Removed:    removed,
		ExecutedAt: s.now(),
	}
	stored := *res
	s.resets[req.Name] = &stored

	logResetApplied(res)
	return res, nil
}

// ListResets implements ResetStore
func (s *MemoryStore) ListResets(ctx context.Context) ([]*models.ResetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.ResetResult{}
	for _, r := range s.resets {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return out, nil
}

// deleteListingLocked removes a listing and its watch entries. Caller holds s.mu.
func (s *MemoryStore) deleteListingLocked(id string) {
	l, ok := s.listings[id]
	if !ok {
		return
	}
	delete(s.byHash, hashKey(l.JobID, l.Hash))
	delete(s.listings, id)
	for key := range s.watches {
		if key.listingID == id {
			delete(s.watches, key)
		}
	}
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Providers = append([]string(nil), j.Providers...)
	c.SharedWith = append([]string(nil), j.SharedWith...)
	if j.CrawlConfig != nil {
		c.CrawlConfig = make(map[string]interface{}, len(j.CrawlConfig))
		for k, v := range j.CrawlConfig {
			c.CrawlConfig[k] = v
		}
	}
	if j.Destination != nil {
		d := *j.Destination
		c.Destination = &d
	}
	if j.LastCycleAt != nil {
		t := *j.LastCycleAt
		c.LastCycleAt = &t
	}
	c.Filter.Keywords = append([]string(nil), j.Filter.Keywords...)
	c.Filter.ExcludeTerms = append([]string(nil), j.Filter.ExcludeTerms...)
	c.Filter.Providers = append([]string(nil), j.Filter.Providers...)
	c.Filter.Boundary = append([]byte(nil), j.Filter.Boundary...)
	return &c
}

func sortByFirstSeen(listings []*models.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].FirstSeenAt.Equal(listings[j].FirstSeenAt) {
			return listings[i].FirstSeenAt.Before(listings[j].FirstSeenAt)
		}
		return listings[i].ID < listings[j].ID
	})
}
