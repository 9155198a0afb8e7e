package consumer

import (
	"context"
	"time"
)

// Logger is the subset of the app logger the supervisor needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Supervise runs a consumer loop and restarts it after delay whenever it
// returns an error (broker disconnects included). It only stops when the
// context is cancelled.
func Supervise(ctx context.Context, name string, delay time.Duration, log Logger, run func(context.Context) error) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		log.Info("starting consumer", "consumer", name, "attempt", attempt)

		err := run(ctx)
		if ctx.Err() != nil {
			log.Info("consumer stopped", "consumer", name)
			return
		}

		log.Error("consumer exited, restarting", "consumer", name, "attempt", attempt, "delay", delay.String(), "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
