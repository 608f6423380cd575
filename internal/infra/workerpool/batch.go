package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch calls fn for every item with at most limit calls in flight and
// returns one error slot per item. A failing item does not stop the rest.
func RunBatch[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Failed returns the items whose error slot is non-nil.
func Failed[T any](items []T, errs []error) []T {
	var out []T
	for i, err := range errs {
		if err != nil {
			out = append(out, items[i])
		}
	}
	return out
}
