package trf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultPolynomialDegree is the degree used by New2D(KindPolynomial).
const DefaultPolynomialDegree = 2

// MaxPolynomialDegree is the highest supported degree.
const MaxPolynomialDegree = 3

func polynomialTerms(degree int) int {
	return (degree + 1) * (degree + 2) / 2
}

// polyMap evaluates one direction of a polynomial transform. Inputs are
// shifted by (ox, oy) and scaled by s before the monomials are formed so
// the design matrix stays well conditioned for large coordinates.
type polyMap struct {
	ox, oy, s float64
	cx, cy    []float64
}

func identityPolyMap(degree int) polyMap {
	n := polynomialTerms(degree)
	m := polyMap{s: 1, cx: make([]float64, n), cy: make([]float64, n)}
	// x and y are terms 1 and 2.
	m.cx[1], m.cy[2] = 1, 1
	return m
}

func (m polyMap) clone() polyMap {
	m.cx = append([]float64(nil), m.cx...)
	m.cy = append([]float64(nil), m.cy...)
	return m
}

func (m polyMap) params() []float64 {
	out := []float64{m.ox, m.oy, m.s}
	out = append(out, m.cx...)
	return append(out, m.cy...)
}

func (m polyMap) eval(degree int, p Point) Point {
	row := make([]float64, len(m.cx))
	monomials(row, degree, (p.X-m.ox)*m.s, (p.Y-m.oy)*m.s)
	return Point{X: Dot(row, m.cx), Y: Dot(row, m.cy)}
}

// monomials fills dst with the terms 1, x, y, x², xy, y², ... of (x, y).
func monomials(dst []float64, degree int, x, y float64) {
	k := 0
	for i := 0; i <= degree; i++ {
		for j := 0; j <= i; j++ {
			dst[k] = math.Pow(x, float64(i-j)) * math.Pow(y, float64(j))
			k++
		}
	}
}

// fitPolyMap solves the x and y coefficient vectors on one design matrix.
func fitPolyMap(src, dst []Point, degree int, solver Solver) (polyMap, error) {
	cond, err := conditioner(src)
	if err != nil {
		return polyMap{}, err
	}
	c := Centroid(src)
	m := polyMap{ox: c.X, oy: c.Y, s: cond[0]}

	n := len(src)
	terms := polynomialTerms(degree)
	a := mat.NewDense(n, terms, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	row := make([]float64, terms)
	for i := range src {
		monomials(row, degree, (src[i].X-m.ox)*m.s, (src[i].Y-m.oy)*m.s)
		a.SetRow(i, row)
		bx.SetVec(i, dst[i].X)
		by.SetVec(i, dst[i].Y)
	}
	solX, err := SolveLeastSquares(a, bx, solver)
	if err != nil {
		return polyMap{}, err
	}
	solY, err := SolveLeastSquares(a, by, solver)
	if err != nil {
		return polyMap{}, err
	}
	m.cx = mat.Col(nil, 0, solX)
	m.cy = mat.Col(nil, 0, solY)
	return m, nil
}

// Polynomial maps each output coordinate through a bivariate polynomial of
// a fixed degree.
//
// A polynomial has no closed-form inverse, so Compute also fits a second
// polynomial from destination to source and Inverse order evaluates that.
type Polynomial struct {
	lsq
	degree  int
	forward polyMap
	inverse polyMap
}

// NewPolynomial returns the identity polynomial of the given degree.
// Its Inverse order is a separate polynomial fitted by Compute from
// destination to source, not an algebraic inverse of the forward map, so a
// round trip is exact only where both fits are.
func NewPolynomial(degree int) (*Polynomial, error) {
	if degree < 1 || degree > MaxPolynomialDegree {
		return nil, fmt.Errorf("polynomial degree %d outside 1..%d", degree, MaxPolynomialDegree)
	}
	return &Polynomial{
		degree:  degree,
		forward: identityPolyMap(degree),
		inverse: identityPolyMap(degree),
	}, nil
}

func (p *Polynomial) Kind() Kind                 { return KindPolynomial }
func (p *Polynomial) Dimensions() int            { return 2 }
func (p *Polynomial) Degree() int                { return p.degree }
func (p *Polynomial) MinPoints() int             { return polynomialTerms(p.degree) }
func (p *Polynomial) ValidPointCount(n int) bool { return n >= p.MinPoints() }

// Params returns [degree, forward..., inverse...] where each direction is
// [ox, oy, s, cx..., cy...].
func (p *Polynomial) Params() []float64 {
	out := []float64{float64(p.degree)}
	out = append(out, p.forward.params()...)
	return append(out, p.inverse.params()...)
}

func (p *Polynomial) SetParams(params []float64) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: polynomial parameters are empty", ErrDimensionMismatch)
	}
	degree := int(params[0])
	if float64(degree) != params[0] || degree < 1 || degree > MaxPolynomialDegree {
		return fmt.Errorf("%w: invalid polynomial degree %v", ErrDimensionMismatch, params[0])
	}
	n := polynomialTerms(degree)
	per := 3 + 2*n
	if err := checkParamCount(KindPolynomial, params, 1+2*per); err != nil {
		return err
	}
	decode := func(v []float64) polyMap {
		return polyMap{
			ox: v[0], oy: v[1], s: v[2],
			cx: append([]float64(nil), v[3:3+n]...),
			cy: append([]float64(nil), v[3+n:3+2*n]...),
		}
	}
	p.degree = degree
	p.forward = decode(params[1 : 1+per])
	p.inverse = decode(params[1+per:])
	return nil
}

func (p *Polynomial) Clone() Transform2D {
	return &Polynomial{
		lsq:     p.lsq,
		degree:  p.degree,
		forward: p.forward.clone(),
		inverse: p.inverse.clone(),
	}
}

func (p *Polynomial) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindPolynomial, p.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	forward, err := fitPolyMap(src, dst, p.degree, p.solver)
	if err != nil {
		return Fit{}, fmt.Errorf("fitting polynomial: %w", err)
	}
	inverse, err := fitPolyMap(dst, src, p.degree, p.solver)
	if err != nil {
		return Fit{}, fmt.Errorf("fitting inverse polynomial: %w", err)
	}

	cand := &Polynomial{lsq: p.lsq, degree: p.degree, forward: forward, inverse: inverse}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*p = *cand
	return fit, nil
}

func (p *Polynomial) Apply(pt Point, order Order) (Point, error) {
	if order == Inverse {
		return p.inverse.eval(p.degree, pt), nil
	}
	return p.forward.eval(p.degree, pt), nil
}
