package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	tasks  []string
	errors []error
}

func (s *recordingSink) Report(task string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.errors = append(s.errors, err)
}

func TestBackgroundWriterRunsAllWrites(t *testing.T) {
	sink := &recordingSink{}
	w := NewBackgroundWriter(sink, time.Second)

	var n atomic.Int32
	write := func(ctx context.Context) error {
		n.Add(1)
		return nil
	}
	w.Go(context.Background(), "persist", write, write, write)
	w.Wait()

	if n.Load() != 3 {
		t.Errorf("expected 3 writes, got %d", n.Load())
	}
	if len(sink.tasks) != 0 {
		t.Errorf("expected no failures, got %v", sink.errors)
	}
}

func TestBackgroundWriterReportsFailure(t *testing.T) {
	sink := &recordingSink{}
	w := NewBackgroundWriter(sink, time.Second)
	boom := errors.New("boom")

	w.Go(context.Background(), "metrics",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	)
	w.Wait()

	if len(sink.tasks) != 1 || sink.tasks[0] != "metrics" || !errors.Is(sink.errors[0], boom) {
		t.Errorf("unexpected reports tasks=%v errors=%v", sink.tasks, sink.errors)
	}
}

func TestBackgroundWriterFailureDoesNotCancelSiblings(t *testing.T) {
	sink := &recordingSink{}
	w := NewBackgroundWriter(sink, time.Second)
	boom := errors.New("insert failed")

	var siblingErr error
	var siblingDone atomic.Bool
	w.Go(context.Background(), "turn",
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				siblingDone.Store(true)
				return nil
			case <-ctx.Done():
				siblingErr = ctx.Err()
				return siblingErr
			}
		},
	)
	w.Wait()

	if !siblingDone.Load() {
		t.Errorf("independent write was cancelled: %v", siblingErr)
	}
	if len(sink.errors) != 1 || !errors.Is(sink.errors[0], boom) {
		t.Errorf("expected only the failed write to be reported, got %v", sink.errors)
	}
}

func TestBackgroundWriterReportsEveryFailure(t *testing.T) {
	sink := &recordingSink{}
	w := NewBackgroundWriter(sink, time.Second)
	fail := func(ctx context.Context) error { return errors.New("down") }

	w.Go(context.Background(), "completion", fail, fail)
	w.Wait()

	if len(sink.errors) != 2 {
		t.Errorf("expected both failures reported, got %v", sink.errors)
	}
}

func TestBackgroundWriterOutlivesRequest(t *testing.T) {
	w := NewBackgroundWriter(&recordingSink{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var ctxErr error
	w.Go(ctx, "detached", func(ctx context.Context) error {
		<-started
		ctxErr = ctx.Err()
		return nil
	})
	cancel()
	close(started)
	w.Wait()

	if ctxErr != nil {
		t.Errorf("write saw the request cancellation: %v", ctxErr)
	}
}

func TestBackgroundWriterTimeout(t *testing.T) {
	sink := &recordingSink{}
	w := NewBackgroundWriter(sink, 20*time.Millisecond)
	w.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	w.Wait()

	if len(sink.errors) != 1 || !errors.Is(sink.errors[0], context.DeadlineExceeded) {
		t.Errorf("expected a deadline failure, got %v", sink.errors)
	}
}

func TestLogSinkCountsFailures(t *testing.T) {
	sink := &LogSink{}
	w := NewBackgroundWriter(sink, time.Second)
	w.Go(context.Background(), "fail", func(ctx context.Context) error { return errors.New("x") })
	w.Go(context.Background(), "noop")
	w.Wait()
	if sink.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", sink.Failures())
	}
}
