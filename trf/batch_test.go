package trf

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

// rejectNegative fails for points with a negative X.
type rejectNegative struct{ Translation }

func (r *rejectNegative) Apply(p Point, order Order) (Point, error) {
	if p.X < 0 {
		return Point{}, ErrPointAtInfinity
	}
	return r.Translation.Apply(p, order)
}

// cancelAt cancels a context when it reaches a given call count.
type cancelAt struct {
	calls  atomic.Int64
	at     int64
	cancel context.CancelFunc
}

func (c *cancelAt) Apply(p Point, _ Order) (Point, error) {
	if c.calls.Add(1) == c.at {
		c.cancel()
	}
	return Point{X: p.X + 1, Y: p.Y}, nil
}

func TestApplyParallel_MatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	pts := randomPoints(rng, 1000, 100)
	truth := groundTruth(t)

	for _, workers := range []int{0, 1, 3, 16} {
		for kind, tr := range truth {
			seq, err := ApplyAll(tr, pts, Inverse)
			require.NoError(t, err)
			par, err := ApplyParallel(context.Background(), tr, pts, Inverse, BatchOptions{
				Workers: workers,
				Logger:  zaptest.NewLogger(t),
			})
			require.NoError(t, err, kind.String())
			assert.Equal(t, seq, par, "%s with %d workers", kind, workers)
		}
	}
}

func TestApplyParallel_DoesNotModifyInput(t *testing.T) {
	pts := []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}
	out, err := ApplyParallel(context.Background(), NewTranslation(1, 0), pts, Direct, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}, pts)
	assert.Equal(t, []Point{{X: 2, Y: 1}, {X: 3, Y: 2}}, out)
}

func TestApplyParallel_Empty(t *testing.T) {
	out, err := ApplyParallel(context.Background(), NewTranslation(1, 0), nil, Direct, BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApplyParallel_PointErrors(t *testing.T) {
	pts := []Point{{X: 1}, {X: -1}, {X: 2}, {X: -2}, {X: 3}}
	tr := &rejectNegative{Translation: *NewTranslation(10, 0)}

	check := func(t *testing.T, out []Point, err error) {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSingular)
		errs := multierr.Errors(err)
		require.Len(t, errs, 2)

		var pe *PointError
		require.True(t, errors.As(errs[0], &pe))
		assert.Equal(t, 1, pe.Index)
		require.True(t, errors.As(errs[1], &pe))
		assert.Equal(t, 3, pe.Index)

		assert.Equal(t, []Point{{X: 11}, {X: -1}, {X: 12}, {X: -2}, {X: 13}}, out)
	}

	t.Run("sequential", func(t *testing.T) {
		out, err := ApplyAll[Point](tr, pts, Direct)
		check(t, out, err)
	})
	t.Run("parallel", func(t *testing.T) {
		out, err := ApplyParallel[Point](context.Background(), tr, pts, Direct, BatchOptions{Workers: 2, ChunkSize: 1})
		check(t, out, err)
	})
}

func TestApplyParallel_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pts := []Point{{X: 1}, {X: 2}}
	out, err := ApplyParallel(ctx, NewTranslation(5, 5), pts, Direct, BatchOptions{})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", Reason(err))
	assert.Equal(t, pts, out)
}

func TestApplyParallel_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pts := make([]Point, 200)
	tr := &cancelAt{at: 10, cancel: cancel}
	out, err := ApplyParallel[Point](ctx, tr, pts, Direct, BatchOptions{Workers: 1, ChunkSize: 1})
	require.ErrorIs(t, err, ErrCancelled)

	processed := 0
	for _, p := range out {
		if p.X == 1 {
			processed++
		}
	}
	assert.GreaterOrEqual(t, processed, 10)
	assert.Less(t, processed, len(pts))
	assert.Equal(t, Point{}, out[len(out)-1])
}

func TestBatchOptions_Normalize(t *testing.T) {
	opts := BatchOptions{Workers: 2}.normalize(100)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, 13, opts.ChunkSize)
	assert.NotNil(t, opts.Logger)

	opts = BatchOptions{}.normalize(0)
	assert.Positive(t, opts.Workers)
	assert.Equal(t, 1, opts.ChunkSize)

	opts = BatchOptions{ChunkSize: 7}.normalize(1000)
	assert.Equal(t, 7, opts.ChunkSize)
}
