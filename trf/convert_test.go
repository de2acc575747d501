package trf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSameMapping(t *testing.T, want, got Applier[Point], pts []Point, delta float64) {
	t.Helper()
	for _, p := range pts {
		w, err := want.Apply(p, Direct)
		require.NoError(t, err)
		g, err := got.Apply(p, Direct)
		require.NoError(t, err)
		assertPointNear(t, w, g, delta)
	}
}

func TestToAffine(t *testing.T) {
	rng := rand.New(rand.NewSource(51))
	pts := randomPoints(rng, 10, 30)
	truth := groundTruth(t)

	for _, kind := range []Kind{KindTranslation, KindRotation, KindScaling, KindSimilarity, KindAffine} {
		t.Run(kind.String(), func(t *testing.T) {
			a, err := ToAffine(truth[kind])
			require.NoError(t, err)
			assertSameMapping(t, truth[kind], a, pts, 1e-9)
		})
	}

	t.Run("chain", func(t *testing.T) {
		m := NewMultiple(truth[KindRotation], truth[KindTranslation], truth[KindAffine])
		a, err := ToAffine(m)
		require.NoError(t, err)
		assertSameMapping(t, m, a, pts, 1e-9)
	})

	t.Run("affine projective", func(t *testing.T) {
		p := NewProjective()
		require.NoError(t, p.SetParams([]float64{2, 0, 1, 0, 2, -1, 0, 0}))
		a, err := ToAffine(p)
		require.NoError(t, err)
		assert.Equal(t, AffineMatrix{A: 2, Tx: 1, D: 2, Ty: -1}, a.Matrix())
	})

	t.Run("perspective is rejected", func(t *testing.T) {
		_, err := ToAffine(truth[KindProjective])
		assert.ErrorIs(t, err, ErrNotSupported)

		poly, _ := NewPolynomial(2)
		_, err = ToAffine(poly)
		assert.ErrorIs(t, err, ErrNotSupported)
	})
}

func TestToSimilarity(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		truth := NewSimilarity(1, 2, 3, 0.5)
		s, lossy, err := ToSimilarity(NewMultiple[Point](NewRotation(0.5), NewScaling(3), NewTranslation(1, 2)))
		require.NoError(t, err)
		assert.False(t, lossy)
		assert.InDeltaSlice(t, truth.Params(), s.Params(), 1e-12)
	})

	t.Run("projected", func(t *testing.T) {
		s, lossy, err := ToSimilarity(NewAffine(AffineMatrix{A: 2, B: 0, Tx: 3, C: 0, D: 4, Ty: 5}))
		require.NoError(t, err)
		assert.True(t, lossy)
		assert.InDelta(t, 3, s.Scale(), 1e-12)
		assert.InDelta(t, 0, s.Angle(), 1e-12)
		tx, ty := s.Offset()
		assert.Equal(t, 3.0, tx)
		assert.Equal(t, 5.0, ty)
	})
}

func TestToProjective(t *testing.T) {
	rng := rand.New(rand.NewSource(52))
	pts := randomPoints(rng, 10, 30)
	truth := groundTruth(t)

	for _, kind := range []Kind{KindSimilarity, KindAffine, KindPerspective} {
		t.Run(kind.String(), func(t *testing.T) {
			p, err := ToProjective(truth[kind])
			require.NoError(t, err)
			assertSameMapping(t, truth[kind], p, pts, 1e-9)
			assert.Equal(t, 1.0, p.Matrix()[8])
		})
	}

	t.Run("chain", func(t *testing.T) {
		m := NewMultiple(truth[KindProjective], truth[KindSimilarity])
		p, err := ToProjective(m)
		require.NoError(t, err)
		assertSameMapping(t, m, p, pts, 1e-9)
	})
}

func TestHomogeneousMatrix(t *testing.T) {
	h, err := HomogeneousMatrix(NewTranslation(3, 4))
	require.NoError(t, err)
	assert.Equal(t, [9]float64{1, 0, 3, 0, 1, 4, 0, 0, 1}, h)

	poly, _ := NewPolynomial(1)
	_, err = HomogeneousMatrix(NewMultiple[Point](NewScaling(2), poly))
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.Contains(t, err.Error(), "member 1")
}
