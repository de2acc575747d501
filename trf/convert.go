package trf

import (
	"fmt"
	"math"
)

// similarityTolerance is how far an affine linear block may depart from
// a = d, b = −c and still count as an exact similarity.
const similarityTolerance = 1e-12

// affineOf returns the affine matrix of t when t is affine-representable.
// Projective kinds qualify only when their perspective row is (0, 0, w).
func affineOf(t Transform2D) (AffineMatrix, error) {
	switch v := t.(type) {
	case *Translation:
		return AffineMatrix{A: 1, Tx: v.tx, D: 1, Ty: v.ty}, nil
	case *Rotation:
		return AffineMatrix{A: v.cos, B: -v.sin, C: v.sin, D: v.cos}, nil
	case *Scaling:
		return AffineMatrix{A: v.scale, D: v.scale}, nil
	case *Similarity:
		return AffineMatrix{A: v.a, B: -v.b, Tx: v.tx, C: v.b, D: v.a, Ty: v.ty}, nil
	case *Affine:
		return v.m, nil
	case *Projective:
		return affineFromHomography(v.h)
	case *Perspective:
		return affineFromHomography(v.h)
	case *Multiple[Point]:
		out := Identity()
		for i, member := range v.members {
			m, err := affineOf(member)
			if err != nil {
				return AffineMatrix{}, fmt.Errorf("member %d: %w", i, err)
			}
			out = MultiplyMatrices(m, out)
		}
		return out, nil
	}
	return AffineMatrix{}, fmt.Errorf("%w: %s has no affine form", ErrNotSupported, t.Kind())
}

func affineFromHomography(h [9]float64) (AffineMatrix, error) {
	if math.Abs(h[6]) > perspectiveEpsilon || math.Abs(h[7]) > perspectiveEpsilon {
		return AffineMatrix{}, fmt.Errorf("%w: homography has a perspective component", ErrNotSupported)
	}
	if math.Abs(h[8]) < denominatorEpsilon {
		return AffineMatrix{}, fmt.Errorf("%w: homography has h33 = 0", ErrSingular)
	}
	w := h[8]
	return AffineMatrix{A: h[0] / w, B: h[1] / w, Tx: h[2] / w, C: h[3] / w, D: h[4] / w, Ty: h[5] / w}, nil
}

// ToAffine views t as an Affine. It is lossless for every kind it accepts.
func ToAffine(t Transform2D) (*Affine, error) {
	m, err := affineOf(t)
	if err != nil {
		return nil, err
	}
	return NewAffine(m), nil
}

// ToSimilarity views t as a Similarity. Kinds whose linear part is not a
// scaled rotation are projected onto the nearest one in the Frobenius norm
// and lossy is reported true.
func ToSimilarity(t Transform2D) (s *Similarity, lossy bool, err error) {
	m, err := affineOf(t)
	if err != nil {
		return nil, false, err
	}
	a, b := (m.A+m.D)/2, (m.C-m.B)/2
	lossy = math.Abs(m.A-m.D) > similarityTolerance || math.Abs(m.B+m.C) > similarityTolerance
	s = &Similarity{}
	s.setCoefficients(a, b, m.Tx, m.Ty)
	return s, lossy, nil
}

// ToProjective views t as a Projective with h33 = 1.
func ToProjective(t Transform2D) (*Projective, error) {
	h, err := HomogeneousMatrix(t)
	if err != nil {
		return nil, err
	}
	if math.Abs(h[8]) < denominatorEpsilon {
		return nil, fmt.Errorf("%w: homography has h33 = 0", ErrSingular)
	}
	p := NewProjective()
	p.set(normalizeH(h))
	return p, nil
}

// HomogeneousMatrix returns the row-major 3x3 matrix of any affine or
// projective kind.
func HomogeneousMatrix(t Transform2D) ([9]float64, error) {
	switch v := t.(type) {
	case *Projective:
		return v.h, nil
	case *Perspective:
		return v.h, nil
	case *Multiple[Point]:
		out := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
		for i, member := range v.members {
			h, err := HomogeneousMatrix(member)
			if err != nil {
				return [9]float64{}, fmt.Errorf("member %d: %w", i, err)
			}
			out = mul3(h, out)
		}
		return out, nil
	}
	m, err := affineOf(t)
	if err != nil {
		return [9]float64{}, err
	}
	return m.Homogeneous(), nil
}
