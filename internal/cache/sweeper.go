package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper removes expired entries on a cron schedule. Expired entries are
// never served either way; sweeping returns their memory early.
type Sweeper struct {
	cache    *Cache
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
}

// NewSweeper validates schedule, which accepts standard cron expressions and
// descriptors such as "@every 1m".
func NewSweeper(c *Cache, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		cache:    c,
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	removed := s.cache.Sweep()
	if removed > 0 {
		s.logger.Info("Swept expired cache entries", slog.Int("removed", removed))
		return
	}
	s.logger.Debug("Cache sweep completed, nothing expired")
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Cache sweeper started", slog.String("schedule", s.schedule))

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("Cache sweeper stopped")
	return nil
}
