package trf

import (
	"fmt"
	"math"
)

// Transform is the contract shared by every transform kind.
//
// Parameters are mutated only by Compute and SetParams. Concurrent Apply calls
// are safe with each other; Compute and SetParams must be serialised by the
// caller against everything else on the same instance.
type Transform interface {
	Kind() Kind
	Dimensions() int
	MinPoints() int
	ValidPointCount(n int) bool
	// Params returns a copy of the persisted parameter vector.
	Params() []float64
	// SetParams replaces the parameters and re-derives cached inverses.
	// On error the transform is unchanged.
	SetParams(params []float64) error
}

// Applier maps single points.
type Applier[P any] interface {
	Apply(p P, order Order) (P, error)
}

// Estimator is a transform that can be fitted from correspondences and
// applied to points of type P.
type Estimator[P any] interface {
	Transform
	Applier[P]
	// Compute fits the parameters so that Apply(src[i], Direct) ≈ dst[i].
	// It fails with ErrSizeMismatch or a *PointCountError before touching
	// any state, and leaves the parameters unchanged on every failure.
	Compute(src, dst []P) (Fit, error)
	// Clone returns an independent copy.
	Clone() Estimator[P]
}

// Transform2D is implemented by every planar kind.
type Transform2D = Estimator[Point]

// Transform3D is implemented by every spatial kind.
type Transform3D = Estimator[Point3D]

// Coord is the set of point types transforms operate on.
type Coord interface {
	Point | Point3D
}

// Fit describes how well a fitted transform reproduces its correspondences.
type Fit struct {
	// Residuals[i] is the squared distance between the mapped source point
	// and the destination point.
	Residuals []float64 `json:"residuals"`
	RMSE      float64   `json:"rmse"`
}

// MaxResidual returns the largest squared residual.
func (f Fit) MaxResidual() float64 {
	var m float64
	for _, r := range f.Residuals {
		m = math.Max(m, r)
	}
	return m
}

// Residuals evaluates a transform against a correspondence set.
// The RMSE divides by dims·(N − minPoints) degrees of freedom, or by dims·N
// when the set has no redundancy.
func Residuals[P Coord](t Estimator[P], src, dst []P) (Fit, error) {
	if len(src) != len(dst) {
		return Fit{}, fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, len(src), len(dst))
	}
	fit := Fit{Residuals: make([]float64, len(src))}
	var sum float64
	for i := range src {
		got, err := t.Apply(src[i], Direct)
		if err != nil {
			return Fit{}, &PointError{Index: i, Err: err}
		}
		fit.Residuals[i] = squaredDistance(got, dst[i])
		sum += fit.Residuals[i]
	}
	fit.RMSE = rmse(sum, len(src), t.Dimensions(), t.MinPoints())
	return fit, nil
}

func rmse(sum float64, n, dims, minPoints int) float64 {
	if n == 0 {
		return 0
	}
	dof := dims * (n - minPoints)
	if dof <= 0 {
		dof = dims * n
	}
	return math.Sqrt(sum / float64(dof))
}

func squaredDistance[P Coord](a, b P) float64 {
	switch pa := any(a).(type) {
	case Point:
		pb := any(b).(Point)
		dx, dy := pa.X-pb.X, pa.Y-pb.Y
		return dx*dx + dy*dy
	case Point3D:
		pb := any(b).(Point3D)
		dx, dy, dz := pa.X-pb.X, pa.Y-pb.Y, pa.Z-pb.Z
		return dx*dx + dy*dy + dz*dz
	}
	return 0
}

// lsq carries the least-squares solver choice of an estimator.
type lsq struct {
	solver Solver
}

// SetSolver selects the least-squares method used by Compute.
func (l *lsq) SetSolver(s Solver) { l.solver = s }

// SolverSetter is implemented by estimators that solve a linear system.
type SolverSetter interface {
	SetSolver(s Solver)
}

// New2D returns an identity transform of a planar kind.
func New2D(kind Kind) (Transform2D, error) {
	switch kind {
	case KindTranslation:
		return NewTranslation(0, 0), nil
	case KindRotation:
		return NewRotation(0), nil
	case KindScaling:
		return NewScaling(1), nil
	case KindSimilarity:
		return NewSimilarity(0, 0, 1, 0), nil
	case KindAffine:
		return NewAffine(Identity()), nil
	case KindProjective:
		return NewProjective(), nil
	case KindPerspective:
		return NewPerspective(), nil
	case KindPolynomial:
		return NewPolynomial(DefaultPolynomialDegree)
	case KindMultiple:
		return NewMultiple[Point](), nil
	}
	return nil, fmt.Errorf("%w: %s is not a 2D kind", ErrDimensionMismatch, kind)
}

// New3D returns an identity transform of a spatial kind.
func New3D(kind Kind) (Transform3D, error) {
	switch kind {
	case KindRigid3D:
		return NewHelmert3D(), nil
	case KindMultiple:
		return NewMultiple[Point3D](), nil
	}
	return nil, fmt.Errorf("%w: %s is not a 3D kind", ErrDimensionMismatch, kind)
}

func checkParamCount(kind Kind, params []float64, want int) error {
	if len(params) != want {
		return fmt.Errorf("%w: %s takes %d parameters, got %d", ErrDimensionMismatch, kind, want, len(params))
	}
	return nil
}
