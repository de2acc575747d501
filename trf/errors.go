package trf

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeMismatch is returned when source and destination differ in length.
	ErrSizeMismatch = errors.New("trf: source and destination sizes differ")

	// ErrInsufficientPoints is returned when fewer correspondences than the
	// kind's minimum are supplied. Compute returns it wrapped in a *PointCountError.
	ErrInsufficientPoints = errors.New("trf: insufficient points")

	// ErrSingular is returned when a forward matrix has a zero determinant and
	// an inverse or a parameter derivation is undefined.
	ErrSingular = errors.New("trf: singular transform")

	// ErrNotSupported is returned by operations a transform does not define,
	// e.g. Compute on a composite.
	ErrNotSupported = errors.New("trf: operation not supported")

	// ErrCancelled is returned by batch operations stopped through their context.
	ErrCancelled = errors.New("trf: cancelled")

	// ErrDimensionMismatch is returned when point sets or parameter vectors have
	// the wrong shape for the transform.
	ErrDimensionMismatch = errors.New("trf: dimension mismatch")

	// ErrRMSEExceeded is returned when a fit succeeds but is less accurate
	// than a job allows.
	ErrRMSEExceeded = errors.New("trf: rmse above limit")

	// ErrPointAtInfinity is returned when a projective mapping sends a point to
	// the line at infinity. It also matches ErrSingular.
	ErrPointAtInfinity = fmt.Errorf("%w: point maps to infinity", ErrSingular)
)

// PointCountError reports a correspondence set that is too small for a kind.
type PointCountError struct {
	Kind Kind
	Have int
	Need int
}

func (e *PointCountError) Error() string {
	return fmt.Sprintf("trf: %s needs at least %d points, got %d", e.Kind, e.Need, e.Have)
}

func (e *PointCountError) Unwrap() error { return ErrInsufficientPoints }

// PointError attaches the index of the failing element to a batch failure.
type PointError struct {
	Index int
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("point %d: %v", e.Index, e.Err)
}

func (e *PointError) Unwrap() error { return e.Err }

// DegenerateInputError represents input data with variance too low to
// estimate a scale from.
type DegenerateInputError float64

func (e DegenerateInputError) Error() string {
	return fmt.Sprintf("trf: variance too low: %v", float64(e))
}

// checkPairs validates a correspondence set against a minimum size.
func checkPairs(kind Kind, minPoints, nSrc, nDst int) error {
	if nSrc != nDst {
		return fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, nSrc, nDst)
	}
	if nSrc < minPoints {
		return &PointCountError{Kind: kind, Have: nSrc, Need: minPoints}
	}
	return nil
}
