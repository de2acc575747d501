package trf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestUmeyama_Planar(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	truth := NewSimilarity(-3, 8, 2.5, -0.6)
	src := randomPoints(rng, 15, 30)
	dst := mustApplyAll(t, truth, src)

	est, err := UmeyamaPoints2D(src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, 2, est.Dims())
	assert.InDelta(t, 2.5, est.Scale, 1e-9)

	s, err := est.Similarity2D()
	require.NoError(t, err)
	assert.InDeltaSlice(t, truth.Params(), s.Params(), 1e-9)

	_, err = est.Helmert3D()
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUmeyama_RigidKeepsUnitScale(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	src := randomPoints(rng, 10, 30)
	dst := mustApplyAll(t, NewSimilarity(1, 2, 3, 0.4), src)

	est, err := UmeyamaPoints2D(src, dst, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Scale)

	s, err := est.Similarity2D()
	require.NoError(t, err)
	assert.InDelta(t, 0.4, s.Angle(), 1e-9)
}

func TestUmeyama_Spatial(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	truth := newHelmert(t, 0.9, 0.2, -0.3, 1.4, 10, -20, 30)
	src := randomPoints3D(rng, 12, 50)
	dst := mapAll3D(t, truth, src)

	est, err := UmeyamaPoints3D(src, dst, false)
	require.NoError(t, err)
	h, err := est.Helmert3D()
	require.NoError(t, err)
	assert.InDeltaSlice(t, truth.Params(), h.Params(), 1e-9)

	got, err := est.ApplyVec([]float64{src[0].X, src[0].Y, src[0].Z})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{dst[0].X, dst[0].Y, dst[0].Z}, got, 1e-9)

	m := est.Matrix()
	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)
	assert.InDelta(t, 30, m.At(2, 3), 1e-9)
}

func TestUmeyama_ReflectionIsRejected(t *testing.T) {
	// dst mirrors src in the y axis; the estimate must stay a proper rotation.
	src := []Point{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 0, Y: -2}}
	dst := make([]Point, len(src))
	for i, p := range src {
		dst[i] = Point{X: -p.X, Y: p.Y}
	}
	est, err := UmeyamaPoints2D(src, dst, false)
	require.NoError(t, err)
	assert.InDelta(t, 1, mat.Det(est.Rotation), 1e-9)
}

func TestUmeyama_Errors(t *testing.T) {
	_, err := UmeyamaPoints2D([]Point{{X: 1}}, nil, false)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = UmeyamaPoints2D(nil, nil, false)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, err = UmeyamaPoints3D(nil, nil, true)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, err = NewUmeyama(mat.NewDense(3, 2, nil), mat.NewDense(3, 3, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	est := &SimilarityND{Scale: 1, Rotation: mat.NewDense(2, 2, []float64{1, 0, 0, 1}), Translation: mat.NewVecDense(2, nil)}
	_, err = est.ApplyVec([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUmeyama_Variance(t *testing.T) {
	src := []Point{{X: -1, Y: 0}, {X: 1, Y: 0}}
	u, err := NewUmeyama(pointsDense2D(src), pointsDense2D(src))
	require.NoError(t, err)
	assert.InDelta(t, 1, u.Var(), 1e-12)

	est, err := u.Estimate()
	require.NoError(t, err)
	assert.InDelta(t, 1, est.Scale, 1e-12)
	assert.False(t, math.IsNaN(est.Translation.AtVec(0)))
}

func TestUmeyama_DegenerateInput(t *testing.T) {
	mirror2 := func(pts []Point) []Point {
		out := make([]Point, len(pts))
		for i, p := range pts {
			out[i] = Point{X: -p.X + 3, Y: p.Y - 1}
		}
		return out
	}
	mirror3 := func(pts []Point3D) []Point3D {
		out := make([]Point3D, len(pts))
		for i, p := range pts {
			out[i] = Point3D{X: -p.X, Y: p.Y + 2, Z: p.Z}
		}
		return out
	}
	collinear2 := []Point{{X: 0, Y: 0}, {X: 1, Y: 2}, {X: 2, Y: 4}, {X: 5, Y: 10}}
	collinear3 := []Point3D{{}, {X: 1, Y: 2, Z: 3}, {X: 2, Y: 4, Z: 6}, {X: -1, Y: -2, Z: -3}}
	coplanar3 := []Point3D{{X: 0, Y: 0}, {X: 4, Y: 1}, {X: -2, Y: 3}, {X: 1, Y: -5}}
	same := Point3D{X: 7, Y: -3, Z: 2}

	tests := []struct {
		name      string
		estimate  func() (*SimilarityND, error)
		scaleNaN  bool
		wantScale float64
	}{
		{
			name: "coincident sources",
			estimate: func() (*SimilarityND, error) {
				return UmeyamaPoints3D([]Point3D{same, same, same}, []Point3D{{X: 1}, {Y: 1}, {Z: 1}}, false)
			},
			scaleNaN: true,
		},
		{
			name:      "collinear planar",
			estimate:  func() (*SimilarityND, error) { return UmeyamaPoints2D(collinear2, mirror2(collinear2), false) },
			wantScale: 1,
		},
		{
			name:      "collinear spatial",
			estimate:  func() (*SimilarityND, error) { return UmeyamaPoints3D(collinear3, mirror3(collinear3), false) },
			wantScale: 1,
		},
		{
			name:      "coplanar spatial",
			estimate:  func() (*SimilarityND, error) { return UmeyamaPoints3D(coplanar3, mirror3(coplanar3), false) },
			wantScale: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var est *SimilarityND
			require.NotPanics(t, func() {
				var err error
				est, err = tt.estimate()
				require.NoError(t, err)
			})
			require.NotNil(t, est)
			if tt.scaleNaN {
				assert.True(t, math.IsNaN(est.Scale))
			} else {
				assert.InDelta(t, tt.wantScale, est.Scale, 1e-9)
			}
			assert.InDelta(t, 1, mat.Det(est.Rotation), 1e-9)
		})
	}
}
