package trf

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/multierr"
)

// GeoOptions controls how fitted transforms are applied to GeoJSON.
type GeoOptions struct {
	Order Order
	// Simplify, when positive, runs Douglas-Peucker with this tolerance (in
	// destination units) over every transformed line and ring.
	Simplify float64
}

func applyOrbPoint(t Applier[Point], p orb.Point, order Order) (orb.Point, error) {
	q, err := t.Apply(Point{X: p[0], Y: p[1]}, order)
	if err != nil {
		return p, err
	}
	return orb.Point{q.X, q.Y}, nil
}

func applyOrbPoints(t Applier[Point], pts []orb.Point, order Order) ([]orb.Point, error) {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		q, err := applyOrbPoint(t, p, order)
		if err != nil {
			return nil, &PointError{Index: i, Err: err}
		}
		out[i] = q
	}
	return out, nil
}

// ApplyGeometry maps every vertex of g. A Bound is returned as the
// transformed polygon of its corners since its image is rarely axis-aligned.
func ApplyGeometry(t Applier[Point], g orb.Geometry, order Order) (orb.Geometry, error) {
	switch v := g.(type) {
	case orb.Point:
		return applyOrbPoint(t, v, order)
	case orb.MultiPoint:
		pts, err := applyOrbPoints(t, v, order)
		return orb.MultiPoint(pts), err
	case orb.LineString:
		pts, err := applyOrbPoints(t, v, order)
		return orb.LineString(pts), err
	case orb.Ring:
		pts, err := applyOrbPoints(t, v, order)
		return orb.Ring(pts), err
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			pts, err := applyOrbPoints(t, ls, order)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i, err)
			}
			out[i] = pts
		}
		return out, nil
	case orb.Polygon:
		return applyPolygon(t, v, order)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, poly := range v {
			p, err := applyPolygon(t, poly, order)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
			out[i] = p
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, member := range v {
			m, err := ApplyGeometry(t, member, order)
			if err != nil {
				return nil, fmt.Errorf("geometry %d: %w", i, err)
			}
			out[i] = m
		}
		return out, nil
	case orb.Bound:
		return applyPolygon(t, v.ToPolygon(), order)
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: geometry type %s", ErrNotSupported, g.GeoJSONType())
}

func applyPolygon(t Applier[Point], poly orb.Polygon, order Order) (orb.Polygon, error) {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		pts, err := applyOrbPoints(t, ring, order)
		if err != nil {
			return nil, fmt.Errorf("ring %d: %w", i, err)
		}
		out[i] = pts
	}
	return out, nil
}

// ApplyFeatureCollection returns a copy of fc with every geometry mapped.
// Features whose geometry fails keep their original geometry; the failures
// are combined in feature order.
func ApplyFeatureCollection(t Applier[Point], fc *geojson.FeatureCollection, opts GeoOptions) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	var errs error
	for i, f := range fc.Features {
		g := f.Geometry
		mapped, err := ApplyGeometry(t, g, opts.Order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("feature %d: %w", i, err))
		} else {
			g = mapped
			if opts.Simplify > 0 && g != nil {
				g = simplify.DouglasPeucker(opts.Simplify).Simplify(orb.Clone(g))
			}
		}

		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		nf.Properties = f.Properties.Clone()
		out.Append(nf)
	}
	return out, errs
}

// CorrespondencesFromFeatures reads control points from two-vertex
// LineStrings: the first vertex is the source point and the second the
// destination. Features of other geometry types are ignored.
func CorrespondencesFromFeatures(fc *geojson.FeatureCollection) (src, dst []Point, err error) {
	for i, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok {
			continue
		}
		if len(ls) != 2 {
			return nil, nil, fmt.Errorf("feature %d: control link has %d vertices, want 2", i, len(ls))
		}
		src = append(src, Point{X: ls[0][0], Y: ls[0][1]})
		dst = append(dst, Point{X: ls[1][0], Y: ls[1][1]})
	}
	return src, dst, nil
}

// LinksFeatureCollection renders correspondences as two-vertex LineStrings,
// the inverse of CorrespondencesFromFeatures. When fit is non-empty each link
// carries its squared residual.
func LinksFeatureCollection(src, dst []Point, fit Fit) (*geojson.FeatureCollection, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %d source, %d destination", ErrSizeMismatch, len(src), len(dst))
	}
	fc := geojson.NewFeatureCollection()
	for i := range src {
		f := geojson.NewFeature(orb.LineString{{src[i].X, src[i].Y}, {dst[i].X, dst[i].Y}})
		f.Properties["index"] = i
		if i < len(fit.Residuals) {
			f.Properties["residual"] = fit.Residuals[i]
		}
		fc.Append(f)
	}
	return fc, nil
}
