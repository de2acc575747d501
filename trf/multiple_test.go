package trf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiple_AppliesInOrder(t *testing.T) {
	// Scale then translate differs from translate then scale.
	m := NewMultiple[Point](NewScaling(2), NewTranslation(1, 0))
	got, err := m.Apply(Point{X: 3, Y: 1}, Direct)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 7, Y: 2}, got)

	back, err := m.Apply(got, Inverse)
	require.NoError(t, err)
	assertPointNear(t, Point{X: 3, Y: 1}, back, 1e-12)
}

func TestMultiple_MatchesSequentialApplication(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	truth := groundTruth(t)
	members := []Transform2D{truth[KindSimilarity], truth[KindAffine], truth[KindProjective]}
	m := NewMultiple(members...)

	for _, p := range randomPoints(rng, 20, 20) {
		want := p
		for _, tr := range members {
			var err error
			want, err = tr.Apply(want, Direct)
			require.NoError(t, err)
		}
		got, err := m.Apply(p, Direct)
		require.NoError(t, err)
		assertPointNear(t, want, got, 1e-9)

		back, err := m.Apply(got, Inverse)
		require.NoError(t, err)
		assertPointNear(t, p, back, 1e-6)
	}
}

func TestMultiple_Associative(t *testing.T) {
	rng := rand.New(rand.NewSource(32))
	a, b, c := NewRotation(0.3), NewAffine(AffineMatrix{A: 1, B: 0.5, Tx: 2, C: 0, D: 1, Ty: -1}), NewTranslation(-4, 9)

	left := NewMultiple[Point](NewMultiple[Point](a, b), c)
	right := NewMultiple[Point](a, NewMultiple[Point](b, c))
	flat := NewMultiple[Point](a, b, c)

	for _, p := range randomPoints(rng, 10, 10) {
		want, err := flat.Apply(p, Direct)
		require.NoError(t, err)
		l, err := left.Apply(p, Direct)
		require.NoError(t, err)
		r, err := right.Apply(p, Direct)
		require.NoError(t, err)
		assertPointNear(t, want, l, 1e-12)
		assertPointNear(t, want, r, 1e-12)
	}
}

func TestMultiple_Empty(t *testing.T) {
	m := NewMultiple[Point]()
	p := Point{X: 1, Y: 2}
	got, err := m.Apply(p, Direct)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.MinPoints())
	assert.Equal(t, KindMultiple, m.Kind())
}

func TestMultiple_ClonesMembers(t *testing.T) {
	tr := NewTranslation(1, 1)
	m := NewMultiple[Point](tr)
	require.NoError(t, tr.SetParams([]float64{100, 100}))

	got, err := m.Apply(Point{}, Direct)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 1}, got)

	members := m.Members()
	require.Len(t, members, 1)
	require.NoError(t, members[0].SetParams([]float64{5, 5}))
	got, err = m.Apply(Point{}, Direct)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 1}, got)

	m.Append(NewScaling(3))
	assert.Equal(t, 2, m.Len())
	clone := m.Clone()
	got, err = clone.Apply(Point{}, Direct)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 3, Y: 3}, got)
}

func TestMultiple_ComputeNotSupported(t *testing.T) {
	m := NewMultiple[Point](NewTranslation(0, 0))
	_, err := m.Compute([]Point{{}}, []Point{{}})
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, "not_supported", Reason(err))

	assert.NoError(t, m.SetParams(nil))
	assert.ErrorIs(t, m.SetParams([]float64{1}), ErrNotSupported)
	assert.Nil(t, m.Params())
}

func TestMultiple_MemberErrorNamesIndex(t *testing.T) {
	m := NewMultiple[Point](NewTranslation(1, 1), NewScaling(0), NewRotation(0.1))
	_, err := m.Apply(Point{X: 1, Y: 1}, Inverse)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSingular)
	assert.Contains(t, err.Error(), "member 1 (scaling)")
}

func TestMultiple_Spatial(t *testing.T) {
	a := newHelmert(t, 2, 0, 0, 0.5, 1, 2, 3)
	b := newHelmert(t, 0.5, 0.1, 0.2, -0.3, -1, 0, 4)
	m := NewMultiple[Point3D](a, b)
	assert.Equal(t, 3, m.Dimensions())

	p := Point3D{X: 1, Y: -2, Z: 3}
	want, err := Compose(a, b).Apply(p, Direct)
	require.NoError(t, err)
	got, err := m.Apply(p, Direct)
	require.NoError(t, err)
	assertPoint3DNear(t, want, got, 1e-9)
}
