package trf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Det returns ad − bc.
func (m AffineMatrix) Det() float64 {
	return m.A*m.D - m.B*m.C
}

// Apply maps a point through the matrix.
func (m AffineMatrix) Apply(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// Homogeneous returns the row-major 3x3 form of the matrix.
func (m AffineMatrix) Homogeneous() [9]float64 {
	return [9]float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty, 0, 0, 1}
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix computes the inverse of an affine transform.
// It returns ErrSingular when the determinant vanishes relative to the squared
// norm of the linear part, so well-conditioned matrices in small units invert.
func InvertMatrix(m AffineMatrix) (AffineMatrix, error) {
	det := m.Det()
	if negligible(det, m.A*m.A+m.B*m.B+m.C*m.C+m.D*m.D) {
		return AffineMatrix{}, ErrSingular
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, nil
}

// Affine is the six-parameter planar transform.
type Affine struct {
	lsq
	m        AffineMatrix
	inv      AffineMatrix
	singular bool
}

// NewAffine wraps a matrix, caching its inverse.
func NewAffine(m AffineMatrix) *Affine {
	a := &Affine{}
	a.setMatrix(m)
	return a
}

func (t *Affine) setMatrix(m AffineMatrix) {
	t.m = m
	inv, err := InvertMatrix(m)
	t.inv = inv
	t.singular = err != nil
}

func (t *Affine) Kind() Kind                 { return KindAffine }
func (t *Affine) Dimensions() int            { return 2 }
func (t *Affine) MinPoints() int             { return KindAffine.MinPoints() }
func (t *Affine) ValidPointCount(n int) bool { return n >= t.MinPoints() }

// Matrix returns the forward matrix.
func (t *Affine) Matrix() AffineMatrix { return t.m }

// InverseMatrix returns the cached inverse, or ErrSingular.
func (t *Affine) InverseMatrix() (AffineMatrix, error) {
	if t.singular {
		return AffineMatrix{}, ErrSingular
	}
	return t.inv, nil
}

// Params returns [a, b, tx, c, d, ty].
func (t *Affine) Params() []float64 {
	return []float64{t.m.A, t.m.B, t.m.Tx, t.m.C, t.m.D, t.m.Ty}
}

func (t *Affine) SetParams(params []float64) error {
	if err := checkParamCount(KindAffine, params, 6); err != nil {
		return err
	}
	t.setMatrix(AffineMatrix{A: params[0], B: params[1], Tx: params[2], C: params[3], D: params[4], Ty: params[5]})
	return nil
}

func (t *Affine) Clone() Transform2D {
	c := *t
	return &c
}

// Compute fits a full affine transform using least squares.
// Solves the system: [x' y'] = [x y 1] * [[a c] [b d] [tx ty]]
func (t *Affine) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindAffine, t.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	n := len(src)
	a := mat.NewDense(2*n, 6, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range src {
		x, y := src[i].X, src[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1})
		b.SetVec(2*i, dst[i].X)
		b.SetVec(2*i+1, dst[i].Y)
	}

	sol, err := SolveLeastSquares(a, b, t.solver)
	if err != nil {
		return Fit{}, fmt.Errorf("fitting affine: %w", err)
	}

	cand := &Affine{lsq: t.lsq}
	cand.setMatrix(AffineMatrix{
		A: sol.AtVec(0), B: sol.AtVec(1), Tx: sol.AtVec(2),
		C: sol.AtVec(3), D: sol.AtVec(4), Ty: sol.AtVec(5),
	})
	if cand.singular {
		return Fit{}, fmt.Errorf("fitting affine: %w", ErrSingular)
	}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*t = *cand
	return fit, nil
}

func (t *Affine) Apply(p Point, order Order) (Point, error) {
	if order == Inverse {
		if t.singular {
			return Point{}, ErrSingular
		}
		return t.inv.Apply(p), nil
	}
	return t.m.Apply(p), nil
}
