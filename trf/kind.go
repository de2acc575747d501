package trf

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a family of transforms.
type Kind int

const (
	KindTranslation Kind = iota
	KindRotation
	KindScaling
	KindSimilarity
	KindAffine
	KindProjective
	KindPolynomial
	KindRigid3D
	KindPerspective
	KindMultiple
)

var kindNames = [...]string{
	KindTranslation: "translation",
	KindRotation:    "rotation",
	KindScaling:     "scaling",
	KindSimilarity:  "similarity",
	KindAffine:      "affine",
	KindProjective:  "projective",
	KindPolynomial:  "polynomial",
	KindRigid3D:     "rigid3d",
	KindPerspective: "perspective",
	KindMultiple:    "multiple",
}

// aliases accepted by ParseKind in addition to the canonical names
var kindAliases = map[string]Kind{
	"helmert2d":  KindSimilarity,
	"helmert3d":  KindRigid3D,
	"rigid":      KindRigid3D,
	"homography": KindPerspective,
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MinPoints returns the smallest correspondence-set size that admits a
// solution. Polynomial reports its default degree.
func (k Kind) MinPoints() int {
	switch k {
	case KindTranslation, KindRotation, KindScaling:
		return 1
	case KindSimilarity:
		return 2
	case KindAffine, KindRigid3D:
		return 3
	case KindProjective, KindPerspective:
		return 4
	case KindPolynomial:
		return polynomialTerms(DefaultPolynomialDegree)
	default:
		return 0
	}
}

// Dimensions returns 3 for rigid3d and 2 for every other kind.
func (k Kind) Dimensions() int {
	if k == KindRigid3D {
		return 3
	}
	return 2
}

// ParseKind resolves a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown transform kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid transform kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Order selects between the fitted mapping and its inverse.
type Order int

const (
	// Direct maps source coordinates to destination coordinates.
	Direct Order = iota
	// Inverse maps destination coordinates back to source coordinates.
	Inverse
)

func (o Order) String() string {
	if o == Inverse {
		return "inverse"
	}
	return "direct"
}

// Status is the coarse outcome of an estimation or application.
type Status int

const (
	Success Status = iota
	Failure
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// MarshalText lets Status appear as a word in JSON results.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*s = Success
	case "failure":
		*s = Failure
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// StatusOf maps an error to a Status.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	return Failure
}

// Reason returns a short machine-friendly label for a failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSizeMismatch):
		return "size_mismatch"
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrSingular):
		return "singular_transform"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRMSEExceeded):
		return "rmse_exceeded"
	default:
		return "failure"
	}
}
