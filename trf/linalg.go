package trf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver selects the linear least-squares method used by the estimators.
type Solver int

const (
	// SolveNormal factors the normal equations AᵀA x = Aᵀb with Cholesky.
	SolveNormal Solver = iota
	// SolveSVD solves through the singular value decomposition of A.
	SolveSVD
)

func (s Solver) String() string {
	if s == SolveSVD {
		return "svd"
	}
	return "normal"
}

// ParseSolver resolves "normal" or "svd". The empty string means SolveNormal.
func ParseSolver(s string) (Solver, error) {
	switch s {
	case "", "normal":
		return SolveNormal, nil
	case "svd":
		return SolveSVD, nil
	}
	return 0, fmt.Errorf("unknown solver %q", s)
}

// rankTolerance is the relative singular value cutoff below which a
// direction of A is treated as missing.
const rankTolerance = 1e-12

// SolveLeastSquares returns x minimising |A·x − b|².
// A must have at least as many rows as columns.
func SolveLeastSquares(a *mat.Dense, b *mat.VecDense, solver Solver) (*mat.VecDense, error) {
	rows, cols := a.Dims()
	if b.Len() != rows {
		return nil, fmt.Errorf("%w: A is %dx%d, b has %d rows", ErrDimensionMismatch, rows, cols, b.Len())
	}
	if rows < cols {
		return nil, fmt.Errorf("%w: %d equations for %d unknowns", ErrSingular, rows, cols)
	}
	if solver == SolveSVD {
		return solveSVD(a, b)
	}
	return solveNormal(a, b)
}

func solveNormal(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	_, cols := a.Dims()

	var ata mat.SymDense
	ata.SymOuterK(1, a.T())

	atb := mat.NewVecDense(cols, nil)
	atb.MulVec(a.T(), b)

	var chol mat.Cholesky
	if ok := chol.Factorize(&ata); !ok {
		return nil, fmt.Errorf("%w: normal matrix is not positive definite", ErrSingular)
	}

	x := mat.NewVecDense(cols, nil)
	if err := chol.SolveVecTo(x, atb); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: normal matrix condition %g", ErrSingular, float64(cond))
		}
		return nil, err
	}
	return x, nil
}

func solveSVD(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	_, cols := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingular)
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return nil, fmt.Errorf("%w: zero matrix", ErrSingular)
	}
	if values[len(values)-1] <= rankTolerance*values[0] {
		return nil, fmt.Errorf("%w: rank deficient system", ErrSingular)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// x = V · Σ⁻¹ · Uᵀ · b
	utb := mat.NewVecDense(len(values), nil)
	utb.MulVec(u.T(), b)
	for i, s := range values {
		utb.SetVec(i, utb.AtVec(i)/s)
	}
	x := mat.NewVecDense(cols, nil)
	x.MulVec(&v, utb)
	return x, nil
}

// nullVector returns the right singular vector of the smallest singular
// value of a, the least-squares solution of A·x = 0 with |x| = 1.
func nullVector(a *mat.Dense) ([]float64, error) {
	rows, cols := a.Dims()
	kind := mat.SVDThin
	if rows < cols {
		kind = mat.SVDFull
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, kind); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingular)
	}
	var v mat.Dense
	svd.VTo(&v)
	return mat.Col(nil, cols-1, &v), nil
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float64) float64 { return floats.Dot(a, b) }

// Norm returns the Euclidean norm of a vector.
func Norm(a []float64) float64 { return floats.Norm(a, 2) }

// Cross returns the cross product of two 3D points.
func Cross(a, b Point3D) Point3D {
	return Point3D{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// homographyApply maps (x, y) through a row-major 3x3 homogeneous matrix.
func homographyApply(h [9]float64, x, y float64) (float64, float64, error) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < denominatorEpsilon {
		return 0, 0, ErrPointAtInfinity
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, nil
}

// denominatorEpsilon bounds how close to zero a homogeneous w may come.
const denominatorEpsilon = 1e-12

// perspectiveEpsilon is the largest h31, h32 a homography may carry and still
// be read as an affine.
const perspectiveEpsilon = 1e-12

// relativeEpsilon is the ratio to the magnitude of its inputs below which a
// determinant, variance or spread counts as zero.
const relativeEpsilon = 1e-12

// negligible reports whether v is zero next to magnitude, or has no finite
// reciprocal. A zero magnitude reduces the test to an exact zero check.
func negligible(v, magnitude float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return math.Abs(v) <= relativeEpsilon*magnitude || math.IsInf(1/v, 0)
}

func det3(h [9]float64) float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// invert3 returns the adjugate-based inverse of a 3x3 matrix.
func invert3(h [9]float64) ([9]float64, error) {
	det := det3(h)
	var norm2 float64
	for _, v := range h {
		norm2 += v * v
	}
	if negligible(det, norm2*math.Sqrt(norm2)) {
		return [9]float64{}, ErrSingular
	}
	inv := 1 / det
	return [9]float64{
		(h[4]*h[8] - h[5]*h[7]) * inv,
		(h[2]*h[7] - h[1]*h[8]) * inv,
		(h[1]*h[5] - h[2]*h[4]) * inv,
		(h[5]*h[6] - h[3]*h[8]) * inv,
		(h[0]*h[8] - h[2]*h[6]) * inv,
		(h[2]*h[3] - h[0]*h[5]) * inv,
		(h[3]*h[7] - h[4]*h[6]) * inv,
		(h[1]*h[6] - h[0]*h[7]) * inv,
		(h[0]*h[4] - h[1]*h[3]) * inv,
	}, nil
}

// mul3 multiplies two row-major 3x3 matrices: a·b.
func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}
