// Package cronreplay runs the periodic reload-cache sweep: pruning
// invalidated ReloadCache entries the sessions they belonged to will never
// match against again, and logging a point-in-time size snapshot.
package cronreplay

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"canopy/internal/storage"
	"canopy/pkg/logger"
)

// DefaultSchedule runs the sweep once an hour.
const DefaultSchedule = "0 0 * * * *"

// DefaultRetention is how long an invalidated entry survives before the
// sweep deletes it.
const DefaultRetention = 24 * time.Hour

// Sweeper periodically prunes a storage.DB's reload_cache table on a
// robfig/cron schedule, skipping a run if the previous one is still in
// flight rather than letting two sweeps overlap.
type Sweeper struct {
	db        *storage.DB
	retention time.Duration
	cron      *cron.Cron

	mu      sync.Mutex
	running bool
}

// New builds a Sweeper for db. schedule is a 6-field (seconds-first) cron
// expression; an empty schedule falls back to DefaultSchedule. retention<=0
// falls back to DefaultRetention.
func New(db *storage.DB, schedule string, retention time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	s := &Sweeper{
		db:        db,
		retention: retention,
		cron:      cron.New(cron.WithSeconds()),
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule. It returns immediately; the sweep itself runs
// on cron's own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow runs one sweep synchronously, outside the schedule. Used by tests
// and by an operator-triggered replay.
func (s *Sweeper) RunNow() {
	s.sweep()
}

func (s *Sweeper) sweep() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warn().Msg("reload cache sweep skipped: previous sweep still running")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.db == nil {
		return
	}

	before := time.Now().Add(-s.retention)
	removed, err := s.db.PruneInvalidatedReloadCache(before)
	if err != nil {
		logger.Error().Err(err).Msg("reload cache sweep: prune failed")
		return
	}

	total, err := s.db.CountReloadCacheEntries()
	if err != nil {
		logger.Warn().Err(err).Msg("reload cache sweep: count failed")
		total = -1
	}

	logger.Info().
		Int64("removed", removed).
		Int("remaining", total).
		Msg("reload cache sweep completed")
}
