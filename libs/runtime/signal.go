package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled by the first SIGINT or SIGTERM so listeners can
// finish their in-flight message. A second signal exits immediately.
func SignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := watchSignals(logger, sigs, os.Exit)
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func watchSignals(logger *slog.Logger, sigs <-chan os.Signal, exit func(int)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(released) })
		cancel()
	}

	go func() {
		select {
		case sig := <-sigs:
			logger.Info("shutdown requested; draining", "signal", sig.String())
			cancel()
		case <-released:
			return
		}
		select {
		case sig := <-sigs:
			logger.Error("second signal; exiting without draining", "signal", sig.String())
			exit(1)
		case <-released:
		}
	}()
	return ctx, stop
}
