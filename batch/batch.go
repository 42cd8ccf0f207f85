// Package batch runs independent operations in bounded, sequential rounds.
//
// The operations are split into consecutive groups of at most size
// operations. All operations of a group run concurrently and the next group
// only starts once every operation of the current group has returned, so at
// most size operations are ever in flight. Results keep the input order.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cloudbox/stampwatch"
)

// DefaultSize is the group size used when a non-positive size is given.
const DefaultSize = 100

// An Op is a single independent operation.
type Op[T any] func(ctx context.Context) (T, error)

// Run executes ops in groups of size and returns their results in input
// order. If any operation fails, Run returns an error wrapping both
// stampwatch.ErrPartialBatch and the first failure; no partial result is
// returned.
func Run[T any](ctx context.Context, ops []Op[T], size int) ([]T, error) {
	if size <= 0 {
		size = DefaultSize
	}

	results := make([]T, len(ops))

	for start := 0; start < len(ops); start += size {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", stampwatch.ErrPartialBatch, err)
		}

		end := min(start+size, len(ops))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := ops[i](gctx)
				if err != nil {
					return fmt.Errorf("operation %d: %w", i, err)
				}

				results[i] = res
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("%w: %w", stampwatch.ErrPartialBatch, err)
		}
	}

	return results, nil
}

// Map applies fn to every key through Run and returns the results in key order.
func Map[K, T any](ctx context.Context, keys []K, size int, fn func(context.Context, K) (T, error)) ([]T, error) {
	ops := make([]Op[T], len(keys))
	for i, key := range keys {
		ops[i] = func(ctx context.Context) (T, error) {
			return fn(ctx, key)
		}
	}

	return Run(ctx, ops, size)
}
