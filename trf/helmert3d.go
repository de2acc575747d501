package trf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// rot3 is a row-major 3x3 rotation matrix.
type rot3 [3][3]float64

// rotationFromAngles returns Rz(kappa)·Ry(phi)·Rx(omega).
func rotationFromAngles(omega, phi, kappa float64) rot3 {
	rx, ry, rz := axisRotations(omega, phi, kappa)
	return rz.mul(ry).mul(rx)
}

func axisRotations(omega, phi, kappa float64) (rx, ry, rz rot3) {
	so, co := math.Sincos(omega)
	sp, cp := math.Sincos(phi)
	sk, ck := math.Sincos(kappa)
	rx = rot3{{1, 0, 0}, {0, co, -so}, {0, so, co}}
	ry = rot3{{cp, 0, sp}, {0, 1, 0}, {-sp, 0, cp}}
	rz = rot3{{ck, -sk, 0}, {sk, ck, 0}, {0, 0, 1}}
	return rx, ry, rz
}

// axisDerivatives returns the derivatives of the three axis rotations with
// respect to their angle.
func axisDerivatives(omega, phi, kappa float64) (dx, dy, dz rot3) {
	so, co := math.Sincos(omega)
	sp, cp := math.Sincos(phi)
	sk, ck := math.Sincos(kappa)
	dx = rot3{{0, 0, 0}, {0, -so, -co}, {0, co, -so}}
	dy = rot3{{-sp, 0, cp}, {0, 0, 0}, {-cp, 0, -sp}}
	dz = rot3{{-sk, -ck, 0}, {ck, -sk, 0}, {0, 0, 0}}
	return dx, dy, dz
}

func (a rot3) mul(b rot3) rot3 {
	var out rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return out
}

func (a rot3) transpose() rot3 {
	var out rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func (a rot3) apply(p Point3D) Point3D {
	return Point3D{
		X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z,
		Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z,
		Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z,
	}
}

// angles recovers omega, phi and kappa. At gimbal lock (|phi| = π/2) kappa is
// fixed to zero and the whole in-plane rotation is carried by omega.
func (a rot3) angles() (omega, phi, kappa float64) {
	sp := math.Max(-1, math.Min(1, -a[2][0]))
	phi = math.Asin(sp)
	if math.Sqrt(a[2][1]*a[2][1]+a[2][2]*a[2][2]) > 1e-9 {
		return math.Atan2(a[2][1], a[2][2]), phi, math.Atan2(a[1][0], a[0][0])
	}
	return math.Atan2(-a[1][2], a[1][1]), phi, 0
}

const (
	helmertMaxIterations = 10
	helmertStepTolerance = 1e-12
)

// Helmert3D is the seven-parameter spatial similarity
//
//	p' = scale · Rz(kappa)·Ry(phi)·Rx(omega) · p + t
type Helmert3D struct {
	lsq
	scale             float64
	omega, phi, kappa float64
	t                 Point3D
	r, rt             rot3
}

// NewHelmert3D returns the identity mapping.
func NewHelmert3D() *Helmert3D {
	h := &Helmert3D{}
	h.set(1, 0, 0, 0, Point3D{})
	return h
}

// set replaces every parameter and recomputes the rotation together with
// its transpose.
func (h *Helmert3D) set(scale, omega, phi, kappa float64, t Point3D) {
	h.scale = scale
	h.omega, h.phi, h.kappa = omega, phi, kappa
	h.t = t
	h.r = rotationFromAngles(omega, phi, kappa)
	h.rt = h.r.transpose()
}

func (h *Helmert3D) Kind() Kind                 { return KindRigid3D }
func (h *Helmert3D) Dimensions() int            { return 3 }
func (h *Helmert3D) MinPoints() int             { return KindRigid3D.MinPoints() }
func (h *Helmert3D) ValidPointCount(n int) bool { return n >= h.MinPoints() }

func (h *Helmert3D) Scale() float64 { return h.scale }

// Angles returns omega, phi and kappa in radians.
func (h *Helmert3D) Angles() (omega, phi, kappa float64) { return h.omega, h.phi, h.kappa }

func (h *Helmert3D) Translation() Point3D { return h.t }

// Rotation returns the 3x3 rotation matrix, row-major.
func (h *Helmert3D) Rotation() [3][3]float64 { return h.r }

// Matrix returns the 4x4 homogeneous matrix, row-major.
func (h *Helmert3D) Matrix() [16]float64 {
	var m [16]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i*4+j] = h.scale * h.r[i][j]
		}
	}
	m[3], m[7], m[11] = h.t.X, h.t.Y, h.t.Z
	m[15] = 1
	return m
}

// Params returns [scale, omega, phi, kappa, tx, ty, tz].
func (h *Helmert3D) Params() []float64 {
	return []float64{h.scale, h.omega, h.phi, h.kappa, h.t.X, h.t.Y, h.t.Z}
}

func (h *Helmert3D) SetParams(params []float64) error {
	if err := checkParamCount(KindRigid3D, params, 7); err != nil {
		return err
	}
	h.set(params[0], params[1], params[2], params[3], Point3D{X: params[4], Y: params[5], Z: params[6]})
	return nil
}

func (h *Helmert3D) Clone() Transform3D {
	c := *h
	return &c
}

func (h *Helmert3D) Apply(p Point3D, order Order) (Point3D, error) {
	if order == Inverse {
		if negligible(h.scale, 0) {
			return Point3D{}, ErrSingular
		}
		return h.rt.apply(p.Sub(h.t)).Scale(1 / h.scale), nil
	}
	return h.r.apply(p).Scale(h.scale).Add(h.t), nil
}

// Compute starts from the closed-form Umeyama estimate and refines all seven
// parameters by Gauss-Newton.
func (h *Helmert3D) Compute(src, dst []Point3D) (Fit, error) {
	if err := checkPairs(KindRigid3D, h.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}

	u, err := NewUmeyama(pointsDense3D(src), pointsDense3D(dst))
	if err != nil {
		return Fit{}, err
	}
	// The spread is judged against the distance of the centroid from the
	// origin: coordinates far from it carry that much rounding.
	if negligible(u.Var(), mat.Dot(u.muX, u.muX)) {
		return Fit{}, fmt.Errorf("fitting rigid3d: %w: %w", ErrSingular, DegenerateInputError(u.Var()))
	}
	est, err := u.Estimate()
	if err != nil {
		return Fit{}, fmt.Errorf("fitting rigid3d: %w", err)
	}
	cand, err := est.Helmert3D()
	if err != nil {
		return Fit{}, err
	}
	cand.lsq = h.lsq
	cand.refine(src, dst)

	fit, err := Residuals[Point3D](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*h = *cand
	return fit, nil
}

// refine runs Gauss-Newton iterations on the 3N×7 system. A step that fails
// to solve or increases the squared error ends the iteration and keeps the
// current parameters.
func (h *Helmert3D) refine(src, dst []Point3D) {
	cost := h.sumSquares(src, dst)
	for iter := 0; iter < helmertMaxIterations; iter++ {
		j, f := h.jacobian(src, dst)
		f.ScaleVec(-1, f)
		step, err := SolveLeastSquares(j, f, h.solver)
		if err != nil {
			return
		}
		p := h.Params()
		for i := range p {
			p[i] += step.AtVec(i)
		}
		next := *h
		next.set(p[0], p[1], p[2], p[3], Point3D{X: p[4], Y: p[5], Z: p[6]})
		nextCost := next.sumSquares(src, dst)
		if nextCost > cost {
			return
		}
		*h = next
		cost = nextCost
		if mat.Norm(step, 2) < helmertStepTolerance {
			return
		}
	}
}

func (h *Helmert3D) sumSquares(src, dst []Point3D) float64 {
	var sum float64
	for i := range src {
		got, _ := h.Apply(src[i], Direct)
		sum += r3.Norm2(r3.Sub(vec3(got), vec3(dst[i])))
	}
	return sum
}

// jacobian returns the derivatives of the model with respect to
// [scale, omega, phi, kappa, tx, ty, tz] and the current residuals.
func (h *Helmert3D) jacobian(src, dst []Point3D) (*mat.Dense, *mat.VecDense) {
	rx, ry, rz := axisRotations(h.omega, h.phi, h.kappa)
	dx, dy, dz := axisDerivatives(h.omega, h.phi, h.kappa)
	dOmega := rz.mul(ry).mul(dx)
	dPhi := rz.mul(dy).mul(rx)
	dKappa := dz.mul(ry).mul(rx)

	n := len(src)
	j := mat.NewDense(3*n, 7, nil)
	f := mat.NewVecDense(3*n, nil)
	for i, p := range src {
		rp := h.r.apply(p)
		do := dOmega.apply(p).Scale(h.scale)
		dp := dPhi.apply(p).Scale(h.scale)
		dk := dKappa.apply(p).Scale(h.scale)
		model := rp.Scale(h.scale).Add(h.t)

		rows := [3][7]float64{
			{rp.X, do.X, dp.X, dk.X, 1, 0, 0},
			{rp.Y, do.Y, dp.Y, dk.Y, 0, 1, 0},
			{rp.Z, do.Z, dp.Z, dk.Z, 0, 0, 1},
		}
		for k := 0; k < 3; k++ {
			j.SetRow(3*i+k, rows[k][:])
		}
		f.SetVec(3*i, model.X-dst[i].X)
		f.SetVec(3*i+1, model.Y-dst[i].Y)
		f.SetVec(3*i+2, model.Z-dst[i].Z)
	}
	return j, f
}

// Compose returns the transform equivalent to applying first and then second.
// The result has scale s1·s2, rotation R2·R1 and translation s2·R2·t1 + t2.
// Its angles are re-derived from R2·R1 rather than summed, so a composed
// transform may report different but equivalent omega, phi, kappa.
func Compose(first, second *Helmert3D) *Helmert3D {
	r := second.r.mul(first.r)
	t := second.r.apply(first.t).Scale(second.scale).Add(second.t)
	omega, phi, kappa := r.angles()
	out := &Helmert3D{lsq: first.lsq}
	out.set(first.scale*second.scale, omega, phi, kappa, t)
	return out
}
