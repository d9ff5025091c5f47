// Package retention ages out rotated journal files on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/overland-tools/overlandd/internal/app/system"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// Sweeper removes rotated files older than the cutoff and reports how many
// went away.
type Sweeper interface {
	SweepRotated(cutoff time.Time) (int, error)
}

// Service runs the sweep on the configured schedule. A retention of zero days
// disables it entirely.
type Service struct {
	sweeper  Sweeper
	days     int
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New constructs the retention sweeper from the journal configuration.
func New(cfg config.JournalConfig, sweeper Sweeper, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("retention")
	}
	return &Service{
		sweeper:  sweeper,
		days:     cfg.RetentionDays,
		schedule: cfg.RetentionSchedule,
		log:      log.Named("retention"),
	}
}

func (s *Service) Name() string { return "retention" }

func (s *Service) Start(ctx context.Context) error {
	if s.days <= 0 {
		s.log.Info("journal retention disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("retention schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).
		WithField("days", s.days).
		Info("retention sweeper started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("retention sweeper stopped")
	return nil
}

func (s *Service) sweep() {
	cutoff := time.Now().Add(-time.Duration(s.days) * 24 * time.Hour)
	removed, err := s.sweeper.SweepRotated(cutoff)
	if err != nil {
		s.log.WithError(err).Warn("retention sweep failed")
		return
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("rotated journals removed")
	}
}
