package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWriteTimeout bounds one background write task.
const DefaultWriteTimeout = 10 * time.Second

// ErrorSink receives failures of background writes.
type ErrorSink interface {
	Report(task string, err error)
}

// LogSink logs failures and counts them.
type LogSink struct {
	failures atomic.Int64
}

func (s *LogSink) Report(task string, err error) {
	n := s.failures.Add(1)
	slog.Error("LogSink.Report: background write failed", "task", task, "error", err, "failures", n)
}

// Failures returns the number of failures reported so far.
func (s *LogSink) Failures() int64 {
	return s.failures.Load()
}

// WriteFunc is one write of a background task.
type WriteFunc func(ctx context.Context) error

// BackgroundWriter runs writes that the caller does not wait for. A task's
// writes run concurrently on a context detached from the request; every
// failure is sent to the sink.
type BackgroundWriter struct {
	sink    ErrorSink
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBackgroundWriter creates a writer. A nil sink logs failures; a
// non-positive timeout uses DefaultWriteTimeout.
func NewBackgroundWriter(sink ErrorSink, timeout time.Duration) *BackgroundWriter {
	if sink == nil {
		sink = &LogSink{}
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &BackgroundWriter{sink: sink, timeout: timeout}
}

// Go starts a task named name and returns immediately.
func (w *BackgroundWriter) Go(ctx context.Context, name string, writes ...WriteFunc) {
	if len(writes) == 0 {
		return
	}
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()

		// Writes are independent; one failing must not cancel the others.
		var g errgroup.Group
		for _, write := range writes {
			g.Go(func() error {
				err := write(ctx)
				if err != nil {
					w.sink.Report(name, err)
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return
		}
		slog.Debug("BackgroundWriter.Go: task done", "task", name, "task_id", id, "writes", len(writes))
	}()
}

// Wait blocks until every started task has finished.
func (w *BackgroundWriter) Wait() {
	w.wg.Wait()
}
