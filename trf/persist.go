package trf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultStorePath is the default path of the fitted-transform cache.
const DefaultStorePath = ".trfit-store.json"

// ErrNotFound is returned when a store has no transform under an id.
var ErrNotFound = errors.New("trf: transform not found")

// Record is the persisted form of a transform: its kind and parameter
// vector. Composites carry their members instead of parameters.
type Record struct {
	Kind       Kind      `json:"kind" yaml:"kind"`
	Dimensions int       `json:"dimensions" yaml:"dimensions"`
	Params     []float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Degree     int       `json:"degree,omitempty" yaml:"degree,omitempty"`
	Members    []Record  `json:"members,omitempty" yaml:"members,omitempty"`
}

// Encode captures the kind and parameters of t.
func Encode[P Coord](t Estimator[P]) (Record, error) {
	r := Record{Kind: t.Kind(), Dimensions: t.Dimensions()}
	switch v := any(t).(type) {
	case *Multiple[P]:
		for i, m := range v.members {
			mr, err := Encode(m)
			if err != nil {
				return Record{}, fmt.Errorf("member %d: %w", i, err)
			}
			r.Members = append(r.Members, mr)
		}
		return r, nil
	case *Polynomial:
		r.Degree = v.degree
	}
	r.Params = t.Params()
	return r, nil
}

// Decode2D rebuilds a planar transform from its record.
func Decode2D(r Record) (Transform2D, error) {
	if r.Dimensions != 0 && r.Dimensions != 2 {
		return nil, fmt.Errorf("%w: %d-D record for a 2D transform", ErrDimensionMismatch, r.Dimensions)
	}
	switch r.Kind {
	case KindMultiple:
		m := NewMultiple[Point]()
		for i, mr := range r.Members {
			member, err := Decode2D(mr)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			m.members = append(m.members, member)
		}
		return m, nil
	case KindPolynomial:
		degree := r.Degree
		if degree == 0 {
			degree = DefaultPolynomialDegree
		}
		p, err := NewPolynomial(degree)
		if err != nil {
			return nil, err
		}
		if err := p.SetParams(r.Params); err != nil {
			return nil, err
		}
		if p.degree != degree {
			return nil, fmt.Errorf("%w: record degree %d, parameters degree %d", ErrDimensionMismatch, degree, p.degree)
		}
		return p, nil
	}
	t, err := New2D(r.Kind)
	if err != nil {
		return nil, err
	}
	if err := t.SetParams(r.Params); err != nil {
		return nil, err
	}
	return t, nil
}

// Decode3D rebuilds a spatial transform from its record.
func Decode3D(r Record) (Transform3D, error) {
	if r.Dimensions != 0 && r.Dimensions != 3 {
		return nil, fmt.Errorf("%w: %d-D record for a 3D transform", ErrDimensionMismatch, r.Dimensions)
	}
	if r.Kind == KindMultiple {
		m := NewMultiple[Point3D]()
		for i, mr := range r.Members {
			member, err := Decode3D(mr)
			if err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
			m.members = append(m.members, member)
		}
		return m, nil
	}
	t, err := New3D(r.Kind)
	if err != nil {
		return nil, err
	}
	if err := t.SetParams(r.Params); err != nil {
		return nil, err
	}
	return t, nil
}

// StoredTransform is one fitted transform with the quality of its fit.
type StoredTransform struct {
	Record      Record  `json:"record"`
	RMSE        float64 `json:"rmse"`
	Points      int     `json:"points"`
	LastUpdated int64   `json:"lastUpdated"`
}

// Store is the JSON cache of fitted transforms, keyed by job id.
type Store struct {
	Transforms  map[string]StoredTransform `json:"transforms"`
	LastUpdated int64                      `json:"lastUpdated"`
}

// LoadStore loads a store from a JSON file. A missing file is not an error
// and yields a nil store.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing store file: %w", err)
	}
	return &s, nil
}

// SaveStore writes the store to a JSON file, creating its directory.
func SaveStore(path string, s *Store) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	s.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	return nil
}

// Put records a fitted transform under id.
func (s *Store) Put(id string, r Record, fit Fit) {
	if s.Transforms == nil {
		s.Transforms = make(map[string]StoredTransform)
	}
	now := time.Now().Unix()
	s.Transforms[id] = StoredTransform{
		Record:      r,
		RMSE:        fit.RMSE,
		Points:      len(fit.Residuals),
		LastUpdated: now,
	}
	s.LastUpdated = now
}

// Lookup returns the stored entry for id.
func (s *Store) Lookup(id string) (StoredTransform, error) {
	if s == nil {
		return StoredTransform{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	st, ok := s.Transforms[id]
	if !ok {
		return StoredTransform{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return st, nil
}

// Get2D decodes the planar transform stored under id.
func (s *Store) Get2D(id string) (Transform2D, error) {
	st, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	return Decode2D(st.Record)
}

// Get3D decodes the spatial transform stored under id.
func (s *Store) Get3D(id string) (Transform3D, error) {
	st, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	return Decode3D(st.Record)
}

// IDs returns the stored ids in sorted order.
func (s *Store) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Transforms))
	for id := range s.Transforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NeedsRefit reports whether the transform under id is missing or older
// than maxAge.
func (s *Store) NeedsRefit(id string, maxAge time.Duration) bool {
	st, err := s.Lookup(id)
	if err != nil || st.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(st.LastUpdated, 0)) > maxAge
}

// StoreStatus summarises which expected transforms have been fitted.
type StoreStatus struct {
	Fitted      []string  `json:"fitted"`
	Missing     []string  `json:"missing"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Status returns the fitted and missing ids among expected.
func (s *Store) Status(expected []string) StoreStatus {
	if s == nil {
		return StoreStatus{Missing: expected}
	}
	status := StoreStatus{
		Fitted:      s.IDs(),
		LastUpdated: time.Unix(s.LastUpdated, 0),
	}
	for _, id := range expected {
		if _, ok := s.Transforms[id]; !ok {
			status.Missing = append(status.Missing, id)
		}
	}
	return status
}
