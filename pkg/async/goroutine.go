// Package async provides safe fire-and-forget and bounded batch helpers.
// Use these instead of bare `go func()` so panics are recovered and every
// background task carries a deadline.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ewers-io/ewers/pkg/observability"
)

// SafeGo executes fn in a goroutine with panic recovery, a timeout, and
// error logging. Used for side effects the caller must not block on, such as
// recording lastUsedAt after a gate decision.
//
//	async.SafeGo(r.Context(), 5*time.Second, "mark key used", logger, func(ctx context.Context) error {
//	    return store.MarkAPIKeyUsed(ctx, keyID, time.Now())
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		// Detach from the request context's cancellation but keep its values;
		// the side effect should survive the response being written.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch runs fn over items with at most workers concurrent invocations, each
// bounded by timeout. Panics are converted into errors. All errors are
// collected; one failing item never stops the others.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g := &errgroup.Group{}
	g.SetLimit(workers)

	for _, item := range items {
		g.Go(func() (err error) {
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					err = nil
					mu.Lock()
					errs = append(errs, fmt.Errorf("panic: %v", r))
					mu.Unlock()
				}
			}()

			if taskErr := fn(taskCtx, item); taskErr != nil {
				mu.Lock()
				errs = append(errs, taskErr)
				mu.Unlock()
			}
			// Always return nil: errgroup's first-error semantics would let
			// one failure cancel the siblings, which is exactly what batch
			// fan-out must not do.
			return nil
		})
	}

	g.Wait()
	return errs
}
