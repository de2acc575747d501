package trf

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchOptions controls ApplyParallel.
type BatchOptions struct {
	// Workers is the size of the worker pool. Zero means GOMAXPROCS.
	Workers int
	// ChunkSize is the number of consecutive points a worker claims at a
	// time. The context is checked between chunks. Zero picks a size that
	// gives each worker about four chunks.
	ChunkSize int
	Logger    *zap.Logger
}

func (o BatchOptions) normalize(n int) BatchOptions {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = (n + 4*o.Workers - 1) / (4 * o.Workers)
		if o.ChunkSize < 1 {
			o.ChunkSize = 1
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ApplyAll maps every point into a new slice. A point that fails keeps its
// input value and contributes a *PointError to the combined error.
func ApplyAll[P Coord](t Applier[P], pts []P, order Order) ([]P, error) {
	out := make([]P, len(pts))
	copy(out, pts)
	return out, ApplyInPlace(t, out, order)
}

// ApplyInPlace overwrites every point with its image. Points that fail are
// left untouched.
func ApplyInPlace[P Coord](t Applier[P], pts []P, order Order) error {
	var errs error
	for i := range pts {
		q, err := t.Apply(pts[i], order)
		if err != nil {
			errs = multierr.Append(errs, &PointError{Index: i, Err: err})
			continue
		}
		pts[i] = q
	}
	return errs
}

// ApplyParallel maps every point into a new slice using a fixed pool of
// workers, each owning disjoint index ranges. The result is identical to
// ApplyAll. When ctx is cancelled no further chunks start, ErrCancelled is
// returned, and slots of chunks that never ran hold their input values.
func ApplyParallel[P Coord](ctx context.Context, t Applier[P], pts []P, order Order, opts BatchOptions) ([]P, error) {
	out := make([]P, len(pts))
	copy(out, pts)
	return out, ApplyParallelInPlace(ctx, t, out, order, opts)
}

// ApplyParallelInPlace is the in-place form of ApplyParallel.
func ApplyParallelInPlace[P Coord](ctx context.Context, t Applier[P], pts []P, order Order, opts BatchOptions) error {
	n := len(pts)
	opts = opts.normalize(n)
	pointErrs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	chunks := 0
	for start := 0; start < n; start += opts.ChunkSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+opts.ChunkSize, n)
		chunks++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			for i := start; i < end; i++ {
				q, err := t.Apply(pts[i], order)
				if err != nil {
					pointErrs[i] = &PointError{Index: i, Err: err}
					continue
				}
				pts[i] = q
			}
			return nil
		})
	}

	var errs error
	if err := g.Wait(); err != nil {
		errs = err
	} else if err := ctx.Err(); err != nil {
		errs = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	failed := 0
	for _, err := range pointErrs {
		if err != nil {
			failed++
			errs = multierr.Append(errs, err)
		}
	}
	opts.Logger.Debug("batch applied",
		zap.Int("points", n),
		zap.Int("workers", opts.Workers),
		zap.Int("chunks", chunks),
		zap.Int("failed", failed),
		zap.Stringer("order", order),
	)
	return errs
}
