package wal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs Manager.Rotate on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	manager *Manager
	logger  *slog.Logger
	mu      sync.Mutex
	entry   cron.EntryID
	spec    string
}

// NewScheduler creates a rotation scheduler. spec accepts standard cron
// expressions and descriptors such as "@every 10s".
func NewScheduler(manager *Manager, spec string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		manager: manager,
		logger:  logger.With("component", "wal-scheduler"),
		spec:    spec,
	}
}

// Start registers the rotation job and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx, s.spec); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("wal rotation scheduler started", "schedule", s.spec)
	return nil
}

// Stop stops the scheduler and waits for a running rotation to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("wal rotation scheduler stopped")
}

// Reload replaces the rotation schedule.
func (s *Scheduler) Reload(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, func() {
		if _, err := s.manager.Rotate(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("wal rotation failed", "error", err)
		}
	})
	if err != nil {
		s.logger.Warn("invalid cron schedule", "schedule", spec, "error", err)
		return err
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = entryID
	s.spec = spec
	return nil
}
