package trf

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestApplyGeometry(t *testing.T) {
	shift := NewTranslation(10, 20)
	square := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	shifted := orb.Ring{{10, 20}, {11, 20}, {11, 21}, {10, 21}, {10, 20}}

	tests := []struct {
		name string
		in   orb.Geometry
		want orb.Geometry
	}{
		{"point", orb.Point{1, 2}, orb.Point{11, 22}},
		{"multipoint", orb.MultiPoint{{0, 0}, {1, 1}}, orb.MultiPoint{{10, 20}, {11, 21}}},
		{"linestring", orb.LineString{{0, 0}, {2, 0}}, orb.LineString{{10, 20}, {12, 20}}},
		{"ring", square, shifted},
		{"multilinestring", orb.MultiLineString{{{0, 0}, {1, 0}}}, orb.MultiLineString{{{10, 20}, {11, 20}}}},
		{"polygon", orb.Polygon{square}, orb.Polygon{shifted}},
		{"multipolygon", orb.MultiPolygon{{square}}, orb.MultiPolygon{{shifted}}},
		{"collection", orb.Collection{orb.Point{0, 0}, orb.Polygon{square}}, orb.Collection{orb.Point{10, 20}, orb.Polygon{shifted}}},
		{"bound", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}.ToPolygon()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyGeometry(shift, tt.in, Direct)
			require.NoError(t, err)
			if tt.name == "bound" {
				want, err := ApplyGeometry(shift, tt.want, Direct)
				require.NoError(t, err)
				assert.Equal(t, want, got)
				return
			}
			assert.Equal(t, tt.want, got)

			back, err := ApplyGeometry(shift, got, Inverse)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}

	got, err := ApplyGeometry(shift, nil, Direct)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyGeometry_PointError(t *testing.T) {
	tr := &rejectNegative{Translation: *NewTranslation(0, 0)}
	_, err := ApplyGeometry(tr, orb.Polygon{{{0, 0}, {1, 0}, {-1, 1}, {0, 0}}}, Direct)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSingular)
	assert.Contains(t, err.Error(), "ring 0")

	var pe *PointError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Index)
}

func TestApplyFeatureCollection(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	good := geojson.NewFeature(orb.LineString{{0, 0}, {1, 0}, {2, 0.001}, {3, 0}})
	good.ID = "wall"
	good.Properties["name"] = "north wall"
	fc.Append(good)
	bad := geojson.NewFeature(orb.Point{-5, 0})
	fc.Append(bad)

	tr := &rejectNegative{Translation: *NewTranslation(1, 1)}
	out, err := ApplyFeatureCollection(tr, fc, GeoOptions{Simplify: 0.01})

	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "feature 1")

	require.Len(t, out.Features, 2)
	assert.Equal(t, "wall", out.Features[0].ID)
	assert.Equal(t, "north wall", out.Features[0].Properties["name"])
	assert.Equal(t, orb.LineString{{1, 1}, {4, 1}}, out.Features[0].Geometry)
	assert.Equal(t, orb.Point{-5, 0}, out.Features[1].Geometry)

	// Input is untouched.
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}, {2, 0.001}, {3, 0}}, fc.Features[0].Geometry)
	out.Features[0].Properties["name"] = "changed"
	assert.Equal(t, "north wall", fc.Features[0].Properties["name"])
}

func TestCorrespondences_RoundTrip(t *testing.T) {
	src := []Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	dst := []Point{{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 4, Y: 5}}

	fc, err := LinksFeatureCollection(src, dst, Fit{Residuals: []float64{0.5, 0, 0}})
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, 0.5, fc.Features[0].Properties["residual"])
	assert.Equal(t, 2, fc.Features[2].Properties["index"])

	// Through the wire format and back.
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	decoded, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	decoded.Append(geojson.NewFeature(orb.Point{9, 9}))

	gotSrc, gotDst, err := CorrespondencesFromFeatures(decoded)
	require.NoError(t, err)
	assert.Equal(t, src, gotSrc)
	assert.Equal(t, dst, gotDst)

	_, err = LinksFeatureCollection(src, dst[:1], Fit{})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestCorrespondencesFromFeatures_BadLink(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}, {2, 2}}))
	_, _, err := CorrespondencesFromFeatures(fc)
	assert.ErrorContains(t, err, "3 vertices")
}
