// Package scheduler runs a worker over a slice with a cap on how many calls are
// in flight at once.
package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Run calls worker once per item with at most concurrency calls in flight.
// After the first worker error no further items are started; workers already
// running are allowed to finish and Run returns that first error once they
// have. Workers receive ctx itself, so a failing sibling does not cancel them.
// If ctx is cancelled, remaining items are skipped and ctx.Err() is returned.
// A cancellation that arrives after every item has started is not an error.
func Run[T any](ctx context.Context, items []T, concurrency int, worker func(ctx context.Context, index int, item T) error) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	var failed atomic.Bool
	started := 0
	for i, item := range items {
		if failed.Load() || ctx.Err() != nil {
			break
		}
		started++
		// Blocks while concurrency workers are running.
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := worker(ctx, i, item); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if started < len(items) {
		return ctx.Err()
	}
	return nil
}
