package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBatch_RecordsFailures(t *testing.T) {
	items := []string{"a", "bad", "c", "bad2"}
	var calls atomic.Int32

	errs := RunBatch(context.Background(), 2, items, func(_ context.Context, s string) error {
		calls.Add(1)
		if len(s) > 1 && s[:3] == "bad" {
			return errors.New(s)
		}
		return nil
	})

	if calls.Load() != 4 {
		t.Errorf("fn called %d times, want 4", calls.Load())
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs[1] == nil || errs[3] == nil {
		t.Errorf("missing errors: %v", errs)
	}

	failed := Failed(items, errs)
	if len(failed) != 2 || failed[0] != "bad" || failed[1] != "bad2" {
		t.Errorf("Failed() = %v", failed)
	}
}

func TestRunBatch_Limit(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 12)

	RunBatch(context.Background(), 3, items, func(context.Context, int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestRunBatch_Empty(t *testing.T) {
	errs := RunBatch(context.Background(), 4, []int(nil), func(context.Context, int) error {
		t.Error("fn should not be called")
		return nil
	})
	if len(errs) != 0 {
		t.Errorf("len(errs) = %d", len(errs))
	}
}
