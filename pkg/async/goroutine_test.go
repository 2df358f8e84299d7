package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ewers-io/ewers/pkg/observability"
)

var testLogger = observability.NewLogger(observability.ErrorLevel, io.Discard)

func TestSafeGo_RunsTask(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "test", testLogger, func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	ran := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panicky", testLogger, func(ctx context.Context) error {
		defer close(ran)
		panic("boom")
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	// Reaching here without the test process dying is the assertion.
}

func TestSafeGo_SurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller's request already finished

	done := make(chan error, 1)
	SafeGo(ctx, time.Second, "detached", testLogger, func(taskCtx context.Context) error {
		done <- taskCtx.Err()
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("task context should not inherit caller cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestBatch_CollectsErrorsWithoutAborting(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var processed atomic.Int32

	errs := Batch(context.Background(), items, 2, time.Second, func(ctx context.Context, n int) error {
		processed.Add(1)
		if n%2 == 0 {
			return errors.New("even numbers fail")
		}
		return nil
	})

	if got := processed.Load(); got != 5 {
		t.Errorf("expected all 5 items processed, got %d", got)
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errs))
	}
}

func TestBatch_RecoverPanicAsError(t *testing.T) {
	errs := Batch(context.Background(), []string{"a"}, 1, time.Second, func(ctx context.Context, s string) error {
		panic("kaboom")
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error from panic, got %d", len(errs))
	}
}

func TestBatch_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	Batch(context.Background(), make([]int, 20), 3, time.Second, func(ctx context.Context, _ int) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	if peak.Load() > 3 {
		t.Errorf("concurrency exceeded limit: peak %d", peak.Load())
	}
}
