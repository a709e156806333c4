// Package scheduler runs VoiceFAQ's periodic maintenance on cron schedules:
// sweeping idle conversation state and refreshing the cached question flow.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RefreshSchedule reloads the active question flow every five minutes.
const RefreshSchedule = "*/5 * * * *"

// jobTimeout bounds a single maintenance run.
const jobTimeout = time.Minute

// Sweeper drops conversations idle for longer than idle.
type Sweeper interface {
	Sweep(ctx context.Context, idle time.Duration) (int, error)
}

// Refresher reloads cached configuration.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddMaintenance schedules the idle sweep on sweepExpr and the flow refresh
// on RefreshSchedule.
func (s *Scheduler) AddMaintenance(sweepExpr string, sweeper Sweeper, refresher Refresher, idle time.Duration) error {
	if err := s.AddJob(sweepExpr, SweepJob(sweeper, idle)); err != nil {
		return err
	}
	return s.AddJob(RefreshSchedule, RefreshJob(refresher))
}

// SweepJob returns a task that sweeps idle conversations.
func SweepJob(sweeper Sweeper, idle time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		n, err := sweeper.Sweep(ctx, idle)
		if err != nil {
			slog.Error("Scheduler.SweepJob: sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Scheduler.SweepJob: dropped idle conversations", "count", n, "idle", idle)
		}
	}
}

// RefreshJob returns a task that refreshes cached configuration.
func RefreshJob(refresher Refresher) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := refresher.Refresh(ctx); err != nil {
			slog.Warn("Scheduler.RefreshJob: refresh failed, keeping cached copy", "error", err)
		}
	}
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
