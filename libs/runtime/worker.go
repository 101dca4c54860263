package runtime

import (
	"context"
	"log/slog"
	"time"
)

// Worker is a long-running loop, such as a channel listener, that main must
// wait for before closing the resources it uses.
type Worker struct {
	name   string
	logger *slog.Logger
	done   chan struct{}
}

// StartWorker runs fn in its own goroutine. If fn fails, onError is called so
// the rest of the process can shut down.
func StartWorker(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error, onError func()) *Worker {
	w := &Worker{name: name, logger: logger.With("worker", name), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		if err := fn(ctx); err != nil {
			w.logger.Error("worker exited", "err", err)
			if onError != nil {
				onError()
			}
		}
	}()
	return w
}

// Done is closed once the worker's loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker returns or timeout elapses and reports
// whether it returned.
func (w *Worker) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		w.logger.Info("worker drained")
		return true
	case <-timer.C:
		w.logger.Warn("worker still busy at shutdown deadline", "timeout", timeout.String())
		return false
	}
}
