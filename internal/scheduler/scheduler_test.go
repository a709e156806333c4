package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSweeper struct {
	idle  time.Duration
	calls int
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	f.calls++
	f.idle = idle
	return 2, f.err
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected an error for an invalid expression")
	}
}

func TestAddMaintenance(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddMaintenance("*/10 * * * *", &fakeSweeper{}, &fakeRefresher{}, time.Hour); err != nil {
		t.Fatalf("AddMaintenance: %v", err)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("expected 2 scheduled jobs, got %d", got)
	}
	if err := s.AddMaintenance("bad", &fakeSweeper{}, &fakeRefresher{}, time.Hour); err == nil {
		t.Error("expected an error for an invalid sweep expression")
	}
}

func TestMaintenanceJobs(t *testing.T) {
	sweeper := &fakeSweeper{}
	SweepJob(sweeper, 30*time.Minute)()
	if sweeper.calls != 1 || sweeper.idle != 30*time.Minute {
		t.Errorf("unexpected sweep calls=%d idle=%v", sweeper.calls, sweeper.idle)
	}

	failing := &fakeSweeper{err: errors.New("redis down")}
	SweepJob(failing, time.Minute)()
	if failing.calls != 1 {
		t.Errorf("expected the failing sweep to run once, got %d", failing.calls)
	}

	refresher := &fakeRefresher{err: errors.New("db down")}
	RefreshJob(refresher)()
	if refresher.calls != 1 {
		t.Errorf("expected 1 refresh, got %d", refresher.calls)
	}
}
