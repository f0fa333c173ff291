// Package runner executes units of work concurrently on top of errgroup.
package runner

import (
	"context"
	"errors"

	"github.com/a-peyrard/plandi/concurrent"
	"golang.org/x/sync/errgroup"
)

// Runnable represents a component that can be run with a context.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// RunEach runs every runnable with at most limit of them in flight (limit <= 0 means no limit).
//
// A failure does not stop the others, all errors are joined.
// Runnables not started yet when parentCtx is done are skipped and the context error is reported.
func RunEach(parentCtx context.Context, limit int, runnables ...Runnable) error {
	var (
		group  errgroup.Group
		failed = concurrent.NewSlice[error]()
	)
	if limit > 0 {
		group.SetLimit(limit)
	}

	for _, runnable := range runnables {
		if err := parentCtx.Err(); err != nil {
			failed.Append(err)
			break
		}
		group.Go(func() error {
			if err := runnable.Run(parentCtx); err != nil {
				failed.Append(err)
			}
			return nil
		})
	}
	_ = group.Wait()

	return errors.Join(failed.Get()...)
}
