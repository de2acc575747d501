package trf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Similarity is the 2D Helmert transform: rotation, uniform scale and translation.
//
//	x' = a*x - b*y + tx
//	y' = b*x + a*y + ty
//
// with a = scale*cos(angle) and b = scale*sin(angle). The inverse
// coefficients are cached whenever the forward ones change.
type Similarity struct {
	lsq
	a, b, tx, ty     float64
	ai, bi, txi, tyi float64
	singular         bool
}

// NewSimilarity creates a similarity from translation, scale and angle (radians).
func NewSimilarity(tx, ty, scale, angle float64) *Similarity {
	s := &Similarity{}
	s.setCoefficients(scale*math.Cos(angle), scale*math.Sin(angle), tx, ty)
	return s
}

func (s *Similarity) setCoefficients(a, b, tx, ty float64) {
	s.a, s.b, s.tx, s.ty = a, b, tx, ty
	det := a*a + b*b
	if negligible(det, 0) {
		s.singular = true
		s.ai, s.bi, s.txi, s.tyi = 0, 0, 0, 0
		return
	}
	s.singular = false
	s.ai = a / det
	s.bi = -b / det
	s.txi = -(s.ai*tx - s.bi*ty)
	s.tyi = -(s.bi*tx + s.ai*ty)
}

func (s *Similarity) Kind() Kind                 { return KindSimilarity }
func (s *Similarity) Dimensions() int            { return 2 }
func (s *Similarity) MinPoints() int             { return KindSimilarity.MinPoints() }
func (s *Similarity) ValidPointCount(n int) bool { return n >= s.MinPoints() }

// Scale returns sqrt(a² + b²).
func (s *Similarity) Scale() float64 { return math.Hypot(s.a, s.b) }

// Angle returns the rotation in radians.
func (s *Similarity) Angle() float64 { return math.Atan2(s.b, s.a) }

// Offset returns the translation.
func (s *Similarity) Offset() (tx, ty float64) { return s.tx, s.ty }

// Coefficients returns the raw forward coefficients a, b, tx, ty.
func (s *Similarity) Coefficients() (a, b, tx, ty float64) { return s.a, s.b, s.tx, s.ty }

// Params returns [tx, ty, scale, rotation].
func (s *Similarity) Params() []float64 {
	return []float64{s.tx, s.ty, s.Scale(), s.Angle()}
}

func (s *Similarity) SetParams(params []float64) error {
	if err := checkParamCount(KindSimilarity, params, 4); err != nil {
		return err
	}
	scale, angle := params[2], params[3]
	s.setCoefficients(scale*math.Cos(angle), scale*math.Sin(angle), params[0], params[1])
	return nil
}

func (s *Similarity) Clone() Transform2D {
	c := *s
	return &c
}

// Compute fits a, b, tx, ty by least squares over two equations per point.
func (s *Similarity) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindSimilarity, s.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	n := len(src)
	a := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range src {
		x, y := src[i].X, src[i].Y
		a.SetRow(2*i, []float64{x, -y, 1, 0})
		a.SetRow(2*i+1, []float64{y, x, 0, 1})
		b.SetVec(2*i, dst[i].X)
		b.SetVec(2*i+1, dst[i].Y)
	}

	sol, err := SolveLeastSquares(a, b, s.solver)
	if err != nil {
		return Fit{}, fmt.Errorf("fitting similarity: %w", err)
	}

	cand := &Similarity{lsq: s.lsq}
	cand.setCoefficients(sol.AtVec(0), sol.AtVec(1), sol.AtVec(2), sol.AtVec(3))
	if cand.singular {
		return Fit{}, fmt.Errorf("fitting similarity: %w: zero scale", ErrSingular)
	}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*s = *cand
	return fit, nil
}

func (s *Similarity) Apply(p Point, order Order) (Point, error) {
	if order == Inverse {
		if s.singular {
			return Point{}, ErrSingular
		}
		return Point{
			X: s.ai*p.X - s.bi*p.Y + s.txi,
			Y: s.bi*p.X + s.ai*p.Y + s.tyi,
		}, nil
	}
	return Point{
		X: s.a*p.X - s.b*p.Y + s.tx,
		Y: s.b*p.X + s.a*p.Y + s.ty,
	}, nil
}
