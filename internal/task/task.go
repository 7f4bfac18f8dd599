// Package task provides the detached-work primitive: fire-and-forget
// operations whose failure is observed only through logging, never
// through the caller's control flow. Archiving, pinning and source
// message cleanup are dispatched this way.
package task

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Runner dispatches named detached work and can wait for it to drain,
// which tests and shutdown paths rely on.
type Runner struct {
	log zerolog.Logger
	wg  sync.WaitGroup
}

// NewRunner returns a Runner logging failures through logger.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{log: logger}
}

// Go runs fn on its own goroutine. An error return is logged under the
// task's name and otherwise dropped; a panic is recovered and logged.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Str("task", name).Any("panic", rec).Msg("detached task panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			r.log.Debug().Str("task", name).Err(err).Msg("detached task failed")
		}
	}()
}

// Wait blocks until all dispatched work has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
