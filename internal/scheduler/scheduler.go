package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger drops idle cache entries.
type Purger interface {
	Purge() int
}

// Refresher re-requests the position and reloads its weather.
type Refresher interface {
	Refresh()
}

type Scheduler struct {
	cron            *cron.Cron
	purger          Purger
	refresher       Refresher
	purgeInterval   time.Duration
	refreshInterval time.Duration
	logger          *zap.Logger

	mu          sync.Mutex
	running     bool
	lastPurge   time.Time
	lastRefresh time.Time
	purged      int
}

// NewScheduler registers the cache purge job and, when refreshInterval is
// positive, the periodic dashboard refresh.
func NewScheduler(purger Purger, refresher Refresher, purgeInterval, refreshInterval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		purger:          purger,
		refresher:       refresher,
		purgeInterval:   purgeInterval,
		refreshInterval: refreshInterval,
		logger:          logger,
	}

	if purgeInterval <= 0 {
		return nil, fmt.Errorf("purge interval must be positive, got %s", purgeInterval)
	}
	if _, err := s.cron.AddFunc(every(purgeInterval), s.RunPurge); err != nil {
		return nil, fmt.Errorf("schedule purge: %w", err)
	}

	if refresher != nil && refreshInterval > 0 {
		if _, err := s.cron.AddFunc(every(refreshInterval), s.RunRefresh); err != nil {
			return nil, fmt.Errorf("schedule refresh: %w", err)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.Duration("purge_interval", s.purgeInterval),
		zap.Duration("refresh_interval", s.refreshInterval))
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RunPurge() {
	n := s.purger.Purge()

	s.mu.Lock()
	s.lastPurge = time.Now()
	s.purged += n
	s.mu.Unlock()

	if n > 0 {
		s.logger.Debug("Cache purge completed", zap.Int("removed", n))
	}
}

func (s *Scheduler) RunRefresh() {
	if s.refresher == nil {
		return
	}
	s.logger.Info("Scheduled refresh")
	s.refresher.Refresh()

	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":          s.running,
		"jobs":             len(s.cron.Entries()),
		"purge_interval":   s.purgeInterval.String(),
		"refresh_interval": s.refreshInterval.String(),
		"last_purge":       s.lastPurge,
		"last_refresh":     s.lastRefresh,
		"purged_total":     s.purged,
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
