package trf

import (
	"fmt"
	"math"
)

// Translation shifts points by a constant offset.
type Translation struct {
	tx, ty float64
}

// NewTranslation creates a translation-only transform
func NewTranslation(tx, ty float64) *Translation {
	return &Translation{tx: tx, ty: ty}
}

func (t *Translation) Kind() Kind                 { return KindTranslation }
func (t *Translation) Dimensions() int            { return 2 }
func (t *Translation) MinPoints() int             { return KindTranslation.MinPoints() }
func (t *Translation) ValidPointCount(n int) bool { return n >= t.MinPoints() }
func (t *Translation) Offset() (tx, ty float64)   { return t.tx, t.ty }
func (t *Translation) Params() []float64          { return []float64{t.tx, t.ty} }

func (t *Translation) SetParams(params []float64) error {
	if err := checkParamCount(KindTranslation, params, 2); err != nil {
		return err
	}
	t.tx, t.ty = params[0], params[1]
	return nil
}

func (t *Translation) Clone() Transform2D {
	c := *t
	return &c
}

// Compute sets the offset to the mean of dst − src.
func (t *Translation) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindTranslation, t.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}
	var sx, sy float64
	for i := range src {
		sx += dst[i].X - src[i].X
		sy += dst[i].Y - src[i].Y
	}
	n := float64(len(src))
	cand := &Translation{tx: sx / n, ty: sy / n}
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*t = *cand
	return fit, nil
}

func (t *Translation) Apply(p Point, order Order) (Point, error) {
	if order == Inverse {
		return Point{X: p.X - t.tx, Y: p.Y - t.ty}, nil
	}
	return Point{X: p.X + t.tx, Y: p.Y + t.ty}, nil
}

// Rotation turns points about the origin.
type Rotation struct {
	angle    float64
	cos, sin float64
}

// NewRotation creates a rotation transform (angle in radians, around origin)
func NewRotation(angle float64) *Rotation {
	r := &Rotation{}
	r.setAngle(angle)
	return r
}

func (r *Rotation) setAngle(angle float64) {
	r.angle = angle
	r.cos = math.Cos(angle)
	r.sin = math.Sin(angle)
}

func (r *Rotation) Kind() Kind                 { return KindRotation }
func (r *Rotation) Dimensions() int            { return 2 }
func (r *Rotation) MinPoints() int             { return KindRotation.MinPoints() }
func (r *Rotation) ValidPointCount(n int) bool { return n >= r.MinPoints() }

// Angle returns the rotation in radians.
func (r *Rotation) Angle() float64    { return r.angle }
func (r *Rotation) Params() []float64 { return []float64{r.angle} }

func (r *Rotation) SetParams(params []float64) error {
	if err := checkParamCount(KindRotation, params, 1); err != nil {
		return err
	}
	r.setAngle(params[0])
	return nil
}

func (r *Rotation) Clone() Transform2D {
	c := *r
	return &c
}

// Compute finds the angle maximising Σ dst·R(src).
func (r *Rotation) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindRotation, r.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}
	var sinSum, cosSum float64
	for i := range src {
		sinSum += src[i].X*dst[i].Y - src[i].Y*dst[i].X
		cosSum += src[i].X*dst[i].X + src[i].Y*dst[i].Y
	}
	if sinSum == 0 && cosSum == 0 {
		return Fit{}, fmt.Errorf("%w: rotation undefined for points at the origin", ErrSingular)
	}
	cand := NewRotation(math.Atan2(sinSum, cosSum))
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*r = *cand
	return fit, nil
}

func (r *Rotation) Apply(p Point, order Order) (Point, error) {
	sin := r.sin
	if order == Inverse {
		sin = -sin
	}
	return Point{
		X: r.cos*p.X - sin*p.Y,
		Y: sin*p.X + r.cos*p.Y,
	}, nil
}

// Scaling multiplies coordinates by a uniform factor about the origin.
type Scaling struct {
	scale float64
}

// NewScaling creates a uniform scaling transform
func NewScaling(scale float64) *Scaling {
	return &Scaling{scale: scale}
}

func (s *Scaling) Kind() Kind                 { return KindScaling }
func (s *Scaling) Dimensions() int            { return 2 }
func (s *Scaling) MinPoints() int             { return KindScaling.MinPoints() }
func (s *Scaling) ValidPointCount(n int) bool { return n >= s.MinPoints() }
func (s *Scaling) Factor() float64            { return s.scale }
func (s *Scaling) Params() []float64          { return []float64{s.scale} }

func (s *Scaling) SetParams(params []float64) error {
	if err := checkParamCount(KindScaling, params, 1); err != nil {
		return err
	}
	s.scale = params[0]
	return nil
}

func (s *Scaling) Clone() Transform2D {
	c := *s
	return &c
}

// Compute sets the factor to Σ src·dst / Σ |src|².
func (s *Scaling) Compute(src, dst []Point) (Fit, error) {
	if err := checkPairs(KindScaling, s.MinPoints(), len(src), len(dst)); err != nil {
		return Fit{}, err
	}
	var num, den float64
	for i := range src {
		num += src[i].X*dst[i].X + src[i].Y*dst[i].Y
		den += src[i].X*src[i].X + src[i].Y*src[i].Y
	}
	if den == 0 {
		return Fit{}, fmt.Errorf("%w: scale undefined for points at the origin", ErrSingular)
	}
	cand := NewScaling(num / den)
	fit, err := Residuals[Point](cand, src, dst)
	if err != nil {
		return Fit{}, err
	}
	*s = *cand
	return fit, nil
}

func (s *Scaling) Apply(p Point, order Order) (Point, error) {
	if order == Inverse {
		if s.scale == 0 {
			return Point{}, ErrSingular
		}
		return Point{X: p.X / s.scale, Y: p.Y / s.scale}, nil
	}
	return Point{X: p.X * s.scale, Y: p.Y * s.scale}, nil
}
