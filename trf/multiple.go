package trf

import (
	"fmt"
)

// Multiple chains member transforms. Direct order applies members first to
// last; Inverse order applies the inverse of each member, last to first.
//
// Members are cloned on construction so later changes to the originals do
// not leak into the chain.
type Multiple[P Coord] struct {
	members []Estimator[P]
}

// NewMultiple builds a composite from clones of the given members.
func NewMultiple[P Coord](members ...Estimator[P]) *Multiple[P] {
	m := &Multiple[P]{members: make([]Estimator[P], 0, len(members))}
	for _, t := range members {
		m.members = append(m.members, t.Clone())
	}
	return m
}

// Append adds a clone of t to the end of the chain.
func (m *Multiple[P]) Append(t Estimator[P]) {
	m.members = append(m.members, t.Clone())
}

// Members returns clones of the chained transforms in application order.
func (m *Multiple[P]) Members() []Estimator[P] {
	out := make([]Estimator[P], len(m.members))
	for i, t := range m.members {
		out[i] = t.Clone()
	}
	return out
}

func (m *Multiple[P]) Len() int                   { return len(m.members) }
func (m *Multiple[P]) Kind() Kind                 { return KindMultiple }
func (m *Multiple[P]) MinPoints() int             { return KindMultiple.MinPoints() }
func (m *Multiple[P]) ValidPointCount(n int) bool { return n >= m.MinPoints() }

func (m *Multiple[P]) Dimensions() int {
	var zero P
	if _, ok := any(zero).(Point3D); ok {
		return 3
	}
	return 2
}

// Params is empty; the state of a composite lives in its members.
func (m *Multiple[P]) Params() []float64 { return nil }

func (m *Multiple[P]) SetParams(params []float64) error {
	if len(params) == 0 {
		return nil
	}
	return fmt.Errorf("%w: multiple has no parameters of its own", ErrNotSupported)
}

func (m *Multiple[P]) Clone() Estimator[P] {
	return NewMultiple(m.members...)
}

// Compute is not defined for a chain: fit the members individually.
func (m *Multiple[P]) Compute(src, dst []P) (Fit, error) {
	return Fit{}, fmt.Errorf("%w: compute on multiple", ErrNotSupported)
}

func (m *Multiple[P]) Apply(p P, order Order) (P, error) {
	n := len(m.members)
	for i := 0; i < n; i++ {
		idx := i
		if order == Inverse {
			idx = n - 1 - i
		}
		t := m.members[idx]
		next, err := t.Apply(p, order)
		if err != nil {
			return p, fmt.Errorf("member %d (%s): %w", idx, t.Kind(), err)
		}
		p = next
	}
	return p, nil
}
