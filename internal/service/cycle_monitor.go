package service

import (
	"sort"
	"sync"
	"time"

	"github.com/listing-scanner/internal/models"
)

// slowCycleThreshold marks cycles whose locked section took suspiciously long
const slowCycleThreshold = 2 * time.Second

// CycleMonitor keeps running statistics about reconciliation cycles
type CycleMonitor struct {
	mu         sync.RWMutex
	durations  []time.Duration
	maxSamples int

	succeeded   int64
	failed      int64
	slow        int64
	created     int64
	updated     int64
	reactivated int64
	deactivated int64
	lastFailure string
	lastCycleAt time.Time
}

// NewCycleMonitor creates a monitor keeping the last 1000 durations
func NewCycleMonitor() *CycleMonitor {
	return &CycleMonitor{
		durations:  make([]time.Duration, 0, 1000),
		maxSamples: 1000,
	}
}

// RecordSuccess records a committed cycle
func (m *CycleMonitor) RecordSuccess(duration time.Duration, cs *models.ChangeSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.succeeded++
	m.created += int64(len(cs.Created))
	m.updated += int64(len(cs.Updated))
	m.reactivated += int64(len(cs.Reactivated))
	m.deactivated += int64(len(cs.Deactivated))
	m.lastCycleAt = cs.ObservedAt
	m.recordDuration(duration)
}

// RecordFailure records a rolled back cycle
func (m *CycleMonitor) RecordFailure(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed++
	m.lastFailure = err.Error()
	m.recordDuration(duration)
}

func (m *CycleMonitor) recordDuration(d time.Duration) {
	m.durations = append(m.durations, d)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}
	if d > slowCycleThreshold {
		m.slow++
	}
}

// GetStats returns a snapshot of the statistics
func (m *CycleMonitor) GetStats() *CycleStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &CycleStats{
		Succeeded:   m.succeeded,
		Failed:      m.failed,
		Slow:        m.slow,
		Created:     m.created,
		Updated:     m.updated,
		Reactivated: m.reactivated,
		Deactivated: m.deactivated,
		LastFailure: m.lastFailure,
	}
	if !m.lastCycleAt.IsZero() {
		t := m.lastCycleAt
		stats.LastCycleAt = &t
	}

	if len(m.durations) == 0 {
		return stats
	}

	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	stats.AvgDurationMs = float64(total.Milliseconds()) / float64(len(m.durations))

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.P95DurationMs = float64(sorted[percentileIndex(len(sorted), 0.95)].Milliseconds())
	stats.MaxDurationMs = float64(sorted[len(sorted)-1].Milliseconds())
	return stats
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// Reset clears all statistics
func (m *CycleMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = make([]time.Duration, 0, m.maxSamples)
	m.succeeded, m.failed, m.slow = 0, 0, 0
	m.created, m.updated, m.reactivated, m.deactivated = 0, 0, 0, 0
	m.lastFailure = ""
	m.lastCycleAt = time.Time{}
}

// CycleStats is the snapshot returned by GetStats
type CycleStats struct {
	Succeeded     int64      `json:"succeeded"`
	Failed        int64      `json:"failed"`
	Slow          int64      `json:"slow"`
	Created       int64      `json:"created"`
	Updated       int64      `json:"updated"`
	Reactivated   int64      `json:"reactivated"`
	Deactivated   int64      `json:"deactivated"`
	AvgDurationMs float64    `json:"avgDurationMs"`
	P95DurationMs float64    `json:"p95DurationMs"`
	MaxDurationMs float64    `json:"maxDurationMs"`
	LastFailure   string     `json:"lastFailure,omitempty"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
}
