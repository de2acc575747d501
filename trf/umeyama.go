package trf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Umeyama finds the similarity transformation between two sets of points
// that minimizes the mean squared error between them.
//
// The transformation relates two sets of n corresponding points {x_i}
// and {y_i} as:
//
//	y_i ≈ c * R * x_i + t,  i=0,...,n-1
//
// where c is the scale factor, R is the rotation matrix and t is
// the translation vector.
//
// The point sets are represented as two n×m matrices X and Y, where
// m is the number of dimensions and x_i and y_i are stored in the i-th
// row of X and Y, respectively. Typically, m is equal to 2 or 3.
//
// Degenerate input (all source points coincident) gives a zero variance and
// an infinite or NaN scale rather than an error; check Var before Estimate
// when that matters.
//
// Reference:
// "Least-Squares Estimation of Transformation Parameters Between Two Point Patterns"
// by Shinji Umeyama, IEEE Transactions on Pattern Analysis and Machine Intelligence,
// Vol. 13, No. 4, April 1991, [doi:10.1109/34.88573].
// [doi:10.1109/34.88573]: https://doi.org/10.1109/34.88573
type Umeyama struct {
	x, y     *mat.Dense
	n, m     int
	muX, muY *mat.VecDense
	varX     float64
	rigid    bool
}

// NewUmeyama prepares the estimation for the given point sets, computing
// their means and the variance of x.
func NewUmeyama(x, y *mat.Dense) (*Umeyama, error) {
	n, m := x.Dims()
	rowsY, colsY := y.Dims()
	if n != rowsY {
		return nil, fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, n, rowsY)
	}
	if m != colsY {
		return nil, fmt.Errorf("%w: %d-D source, %d-D destination", ErrDimensionMismatch, m, colsY)
	}
	muX := mat.NewVecDense(m, nil)
	muY := mat.NewVecDense(m, nil)

	colX := make([]float64, n)
	colY := make([]float64, n)

	var varX float64
	for j := 0; j < m; j++ {
		mat.Col(colX, j, x)
		mat.Col(colY, j, y)

		meanX, varXj := stat.PopMeanVariance(colX, nil)

		muX.SetVec(j, meanX)
		muY.SetVec(j, stat.Mean(colY, nil))

		varX += varXj
	}

	return &Umeyama{
		x:    x,
		y:    y,
		n:    n,
		m:    m,
		muX:  muX,
		muY:  muY,
		varX: varX,
	}, nil
}

// Var returns the variance of point set x: the mean squared norm of the
// centred source points.
func (u *Umeyama) Var() float64 {
	return u.varX
}

// WithoutScale fixes the scale to 1, turning the estimate into a rigid
// (rotation and translation only) alignment.
func (u *Umeyama) WithoutScale() *Umeyama {
	u.rigid = true
	return u
}

// Estimate computes the similarity transformation parameters.
func (u *Umeyama) Estimate() (*SimilarityND, error) {
	xc := mat.NewDense(u.n, u.m, nil)
	yc := mat.NewDense(u.n, u.m, nil)
	for i := 0; i < u.n; i++ {
		for j := 0; j < u.m; j++ {
			xc.Set(i, j, u.x.At(i, j)-u.muX.AtVec(j))
			yc.Set(i, j, u.y.At(i, j)-u.muY.AtVec(j))
		}
	}

	// Σ = (1/n)·Ycᵀ·Xc
	cov := mat.NewDense(u.m, u.m, nil)
	cov.Mul(yc.T(), xc)
	cov.Scale(1/float64(u.n), cov)

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return nil, fmt.Errorf("%w: SVD of covariance did not converge", ErrSingular)
	}
	var uu, v mat.Dense
	svd.UTo(&uu)
	svd.VTo(&v)
	values := svd.Values(nil)

	s := make([]float64, u.m)
	for i := range s {
		s[i] = 1
	}
	rank := 0
	for _, sv := range values {
		if values[0] > 0 && sv > rankTolerance*values[0] {
			rank++
		}
	}
	switch {
	case rank == u.m && mat.Det(cov) < 0:
		s[u.m-1] = -1
	case rank < u.m && mat.Det(&uu)*mat.Det(&v) < 0:
		// Rank-deficient sets (collinear, coplanar or coincident) leave the
		// last singular vectors free; pick them so R stays a rotation.
		s[u.m-1] = -1
	}
	sDiag := mat.NewDiagDense(u.m, s)

	r := mat.NewDense(u.m, u.m, nil)
	r.Product(&uu, sDiag, v.T())

	c := 1.0
	if !u.rigid {
		var trace float64
		for i := 0; i < u.m; i++ {
			trace += values[i] * s[i]
		}
		c = trace / u.varX
	}

	rMuX := mat.NewVecDense(u.m, nil)
	rMuX.MulVec(r, u.muX)
	t := mat.NewVecDense(u.m, nil)
	t.CopyVec(u.muY)
	t.AddScaledVec(t, -c, rMuX)

	return &SimilarityND{Scale: c, Rotation: r, Translation: t}, nil
}

// SimilarityND is an n-dimensional similarity y = Scale·Rotation·x + Translation.
type SimilarityND struct {
	Scale       float64
	Rotation    *mat.Dense
	Translation *mat.VecDense
}

// Dims returns the dimension of the space.
func (s *SimilarityND) Dims() int {
	return s.Translation.Len()
}

// Matrix returns the d×(d+1) block [Scale·Rotation | Translation].
func (s *SimilarityND) Matrix() *mat.Dense {
	d := s.Dims()
	out := mat.NewDense(d, d+1, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			out.Set(i, j, s.Scale*s.Rotation.At(i, j))
		}
		out.Set(i, d, s.Translation.AtVec(i))
	}
	return out
}

// ApplyVec maps one point given as a coordinate slice.
func (s *SimilarityND) ApplyVec(x []float64) ([]float64, error) {
	d := s.Dims()
	if len(x) != d {
		return nil, fmt.Errorf("%w: %d-D point for %d-D transform", ErrDimensionMismatch, len(x), d)
	}
	out := mat.NewVecDense(d, nil)
	out.MulVec(s.Rotation, mat.NewVecDense(d, append([]float64(nil), x...)))
	out.AddScaledVec(s.Translation, s.Scale, out)
	return mat.Col(nil, 0, out), nil
}

// Similarity2D converts a 2-D estimate to a Similarity.
func (s *SimilarityND) Similarity2D() (*Similarity, error) {
	if s.Dims() != 2 {
		return nil, fmt.Errorf("%w: %d-D estimate is not planar", ErrDimensionMismatch, s.Dims())
	}
	out := &Similarity{}
	out.setCoefficients(
		s.Scale*s.Rotation.At(0, 0),
		s.Scale*s.Rotation.At(1, 0),
		s.Translation.AtVec(0),
		s.Translation.AtVec(1),
	)
	return out, nil
}

// Helmert3D converts a 3-D estimate to a Helmert3D.
func (s *SimilarityND) Helmert3D() (*Helmert3D, error) {
	if s.Dims() != 3 {
		return nil, fmt.Errorf("%w: %d-D estimate is not spatial", ErrDimensionMismatch, s.Dims())
	}
	var r rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = s.Rotation.At(i, j)
		}
	}
	omega, phi, kappa := r.angles()
	h := &Helmert3D{}
	h.set(s.Scale, omega, phi, kappa, Point3D{
		X: s.Translation.AtVec(0),
		Y: s.Translation.AtVec(1),
		Z: s.Translation.AtVec(2),
	})
	return h, nil
}

func pointsDense2D(pts []Point) *mat.Dense {
	d := mat.NewDense(len(pts), 2, nil)
	for i, p := range pts {
		d.Set(i, 0, p.X)
		d.Set(i, 1, p.Y)
	}
	return d
}

func pointsDense3D(pts []Point3D) *mat.Dense {
	d := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d.Set(i, 0, p.X)
		d.Set(i, 1, p.Y)
		d.Set(i, 2, p.Z)
	}
	return d
}

// UmeyamaPoints2D estimates the planar similarity (or, with rigid, the
// rotation and translation only) mapping src onto dst.
func UmeyamaPoints2D(src, dst []Point, rigid bool) (*SimilarityND, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, len(src), len(dst))
	}
	if len(src) == 0 {
		return nil, &PointCountError{Kind: KindSimilarity, Have: 0, Need: 1}
	}
	u, err := NewUmeyama(pointsDense2D(src), pointsDense2D(dst))
	if err != nil {
		return nil, err
	}
	if rigid {
		u.WithoutScale()
	}
	return u.Estimate()
}

// UmeyamaPoints3D estimates the spatial similarity mapping src onto dst.
func UmeyamaPoints3D(src, dst []Point3D, rigid bool) (*SimilarityND, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, len(src), len(dst))
	}
	if len(src) == 0 {
		return nil, &PointCountError{Kind: KindRigid3D, Have: 0, Need: 1}
	}
	u, err := NewUmeyama(pointsDense3D(src), pointsDense3D(dst))
	if err != nil {
		return nil, err
	}
	if rigid {
		u.WithoutScale()
	}
	return u.Estimate()
}
