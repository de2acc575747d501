package trf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// homography holds a row-major 3x3 plane-to-plane mapping and its inverse.
type homography struct {
	h        [9]float64
	inv      [9]float64
	singular bool
}

func identityHomography() homography {
	var h homography
	h.set([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	return h
}

func (g *homography) set(h [9]float64) {
	g.h = h
	inv, err := invert3(h)
	g.inv = inv
	g.singular = err != nil
}

func (g *homography) apply(p Point, order Order) (Point, error) {
	m := g.h
	if order == Inverse {
		if g.singular {
			return Point{}, ErrSingular
		}
		m = g.inv
	}
	x, y, err := homographyApply(m, p.X, p.Y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

// normalizeH rescales h so that h33 = 1 when that is numerically possible,
// and to unit Frobenius norm otherwise.
func normalizeH(h [9]float64) [9]float64 {
	scale := h[8]
	if math.Abs(scale) < denominatorEpsilon {
		scale = Norm(h[:])
	}
	if scale == 0 {
		return h
	}
	for i := range h {
		h[i] /= scale
	}
	return h
}

// conditioner returns the similarity that moves the centroid of pts to the
// origin and scales their mean distance from it to sqrt(2).
func conditioner(pts []Point) ([9]float64, error) {
	c := Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += Distance(p, c)
	}
	mean /= float64(len(pts))
	if negligible(mean, math.Hypot(c.X, c.Y)) {
		return [9]float64{}, fmt.Errorf("%w: coincident points", ErrSingular)
	}
	s := math.Sqrt2 / mean
	return [9]float64{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}, nil
}

func conditionPoints(t [9]float64, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: t[0]*p.X + t[2], Y: t[4]*p.Y + t[5]}
	}
	return out
}

// conditionedFit normalises both point sets, runs fit on the normalised sets
// and maps the resulting homography back to the original coordinates.
func conditionedFit(src, dst []Point, fit func(src, dst []Point) ([9]float64, error)) ([9]float64, error) {
	ts, err := conditioner(src)
	if err != nil {
		return [9]float64{}, err
	}
	td, err := conditioner(dst)
	if err != nil {
		return [9]float64{}, err
	}
	hn, err := fit(conditionPoints(ts, src), conditionPoints(td, dst))
	if err != nil {
		return [9]float64{}, err
	}
	tdInv, err := invert3(td)
	if err != nil {
		return [9]float64{}, err
	}
	return normalizeH(mul3(tdInv, mul3(hn, ts))), nil
}

// Projective is the eight-parameter plane mapping
//
//	x' = (a*x + b*y + c) / (g*x + h*y + 1)
//	y' = (d*x + e*y + f) / (g*x + h*y + 1)
//
// fitted by linear least squares over the 2N linearised equations.
type Projective struct {
	lsq
	homography
}

// NewProjective returns the identity mapping.
func NewProjective() *Projective {
	return &Projective{homography: identityHomography()}
}

func (t *Projective) Kind() Kind                 { return KindProjective }
func (t *Projective) Dimensions() int            { return 2 }
func (t *Projective) MinPoints() int             { return KindProjective.MinPoints() }
func (t *Projective) ValidPointCount(n int) bool { return n >= t.MinPoints() }

// Matrix returns the row-major homogeneous matrix with h33 = 1.
func (t *Projective) Matrix() [9]float64 { return t.h }

// Params returns [a, b, c, d, e, f, g, h].
func (t *Projective) Params() []float64 {
	return append([]float64(nil), t.h[:8]...)
}

func (t *Projective) SetParams(params []float64) error {
	if err := checkParamCount(KindProjective, params, 8); err != nil {
		return err
	}
	var h [9]float64
	copy(h[:], params)
	h[8] = 1
	t.set(h)
	return nil
}

func (t *Projective) Clone() Transform2D {
	c := *t
	return &c
}

func (t *Projective) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindProjective, t.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	h, err := conditionedFit(src, dst, func(src, dst []Point) ([9]float64, error) {
		n := len(src)
		a := mat.NewDense(2*n, 8, nil)
		b := mat.NewVecDense(2*n, nil)
		for i := range src {
			x, y := src[i].X, src[i].Y
			u, v := dst[i].X, dst[i].Y
			a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
			a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
			b.SetVec(2*i, u)
			b.SetVec(2*i+1, v)
		}
		sol, err := SolveLeastSquares(a, b, t.solver)
		if err != nil {
			return [9]float64{}, err
		}
		var h [9]float64
		for i := 0; i < 8; i++ {
			h[i] = sol.AtVec(i)
		}
		h[8] = 1
		return h, nil
	})
	if err != nil {
		return Fit{}, fmt.Errorf("fitting projective: %w", err)
	}
	if math.Abs(h[8]) < denominatorEpsilon {
		return Fit{}, fmt.Errorf("fitting projective: %w: h33 vanishes", ErrSingular)
	}

	cand := &Projective{lsq: t.lsq}
	cand.set(h)
	if cand.singular {
		return Fit{}, fmt.Errorf("fitting projective: %w", ErrSingular)
	}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*t = *cand
	return fit, nil
}

func (t *Projective) Apply(p Point, order Order) (Point, error) {
	return t.apply(p, order)
}

// Perspective maps planes through a full homography estimated with the
// normalised direct linear transform: the homography is the null vector of
// the 2N×9 system built from conditioned points.
type Perspective struct {
	homography
}

// NewPerspective returns the identity mapping.
func NewPerspective() *Perspective {
	return &Perspective{homography: identityHomography()}
}

func (t *Perspective) Kind() Kind                 { return KindPerspective }
func (t *Perspective) Dimensions() int            { return 2 }
func (t *Perspective) MinPoints() int             { return KindPerspective.MinPoints() }
func (t *Perspective) ValidPointCount(n int) bool { return n >= t.MinPoints() }

// Matrix returns the row-major homogeneous matrix.
func (t *Perspective) Matrix() [9]float64 { return t.h }

// Params returns all nine matrix entries, row-major.
func (t *Perspective) Params() []float64 {
	return append([]float64(nil), t.h[:]...)
}

func (t *Perspective) SetParams(params []float64) error {
	if err := checkParamCount(KindPerspective, params, 9); err != nil {
		return err
	}
	var h [9]float64
	copy(h[:], params)
	t.set(normalizeH(h))
	return nil
}

func (t *Perspective) Clone() Transform2D {
	c := *t
	return &c
}

func (t *Perspective) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindPerspective, t.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	h, err := conditionedFit(src, dst, func(src, dst []Point) ([9]float64, error) {
		n := len(src)
		a := mat.NewDense(2*n, 9, nil)
		for i := range src {
			x, y := src[i].X, src[i].Y
			u, v := dst[i].X, dst[i].Y
			a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
			a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
		}
		null, err := nullVector(a)
		if err != nil {
			return [9]float64{}, err
		}
		var h [9]float64
		copy(h[:], null)
		return h, nil
	})
	if err != nil {
		return Fit{}, fmt.Errorf("fitting perspective: %w", err)
	}

	cand := &Perspective{}
	cand.set(h)
	if cand.singular {
		return Fit{}, fmt.Errorf("fitting perspective: %w", ErrSingular)
	}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*t = *cand
	return fit, nil
}

func (t *Perspective) Apply(p Point, order Order) (Point, error) {
	return t.apply(p, order)
}
