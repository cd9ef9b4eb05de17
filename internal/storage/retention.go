package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/diting/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionScheduler purges old trigger records on a cron schedule, e.g.
// "0 3 * * *" for daily at 3 AM. A zero retention disables purging.
type RetentionScheduler struct {
	store     TriggerStorage
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
	stopped chan struct{}
}

// NewRetentionScheduler creates a scheduler keeping retentionDays of history
func NewRetentionScheduler(store TriggerStorage, retentionDays int, schedule string) *RetentionScheduler {
	return &RetentionScheduler{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger.Named("retention"),
		now:       time.Now,
	}
}

// Start registers the purge job and starts the cron runner. The scheduler
// stops when ctx is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention <= 0 || s.schedule == "" {
		s.logger.Info("Trigger retention disabled")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.PurgeNow(ctx); err != nil {
			s.logger.Error("Scheduled trigger purge failed", logger.ErrorField(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}

	s.entryID = id
	s.stopped = make(chan struct{})
	s.cron.Start()
	s.running = true

	s.logger.Info("Retention scheduler started",
		logger.String("schedule", s.schedule),
		logger.Duration("retention", s.retention),
	)

	go func(stopped <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}(s.stopped)

	return nil
}

// PurgeNow deletes triggers older than the retention window
func (s *RetentionScheduler) PurgeNow(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Old triggers purged",
			logger.Int64("deleted", deleted),
			logger.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

// Stop stops the cron runner and waits for a running purge to finish
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	// The job captured the start context, so a restart schedules a fresh one.
	s.cron.Remove(s.entryID)
	close(s.stopped)
	s.running = false
	s.logger.Info("Retention scheduler stopped")
}

// IsRunning returns true if the scheduler is running
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled purge, or nil when not scheduled
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
