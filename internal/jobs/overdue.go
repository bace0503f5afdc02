// Package jobs schedules the periodic maintenance work of the API process.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OverdueRefresher persists the overdue status of past-due invoices and
// reports how many changed.
type OverdueRefresher interface {
	RefreshOverdue(ctx context.Context) (int, error)
}

// Scheduler runs the overdue refresh on a cron schedule. A run that is
// still in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron      *cron.Cron
	refresher OverdueRefresher
	timeout   time.Duration
	logger    *zap.Logger
	running   atomic.Bool
}

// NewScheduler registers the overdue job under spec, which accepts the
// standard five-field syntax and descriptors such as "@hourly".
func NewScheduler(spec string, refresher OverdueRefresher, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	s := &Scheduler{
		cron:      cron.New(),
		refresher: refresher,
		timeout:   timeout,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid overdue schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("overdue scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("overdue job still running at shutdown")
	}
}

// Next reports when the job fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow executes the job synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.refresher.RefreshOverdue(ctx)
	if err != nil {
		s.logger.Error("overdue refresh failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return n, err
	}
	s.logger.Info("overdue refresh completed", zap.Int("updated", n), zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

func (s *Scheduler) runOnce() {
	_, _ = s.RunNow(context.Background())
}
