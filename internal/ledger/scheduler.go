package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler prunes the ledger on a cron schedule.
type Scheduler struct {
	ledger    *Ledger
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

func NewScheduler(l *Ledger, schedule string, retention time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		ledger:    l,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the prune job and starts the cron runner. An empty
// schedule or a non-positive retention disables pruning. The scheduler
// stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.retention <= 0 {
		s.logger.Info().Msg("Ledger pruning not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runPruning(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("Ledger prune scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce prunes everything older than the retention window now.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	return s.ledger.Prune(ctx, s.now().Add(-s.retention))
}

func (s *Scheduler) runPruning(ctx context.Context) {
	deleted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled ledger pruning failed")
		return
	}
	s.logger.Info().Int64("deleted", deleted).Msg("Scheduled ledger pruning completed")
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info().Msg("Ledger prune scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
