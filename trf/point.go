package trf

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Number is the set of coordinate representations a point may use.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// Point2 represents a 2D coordinate
type Point2[T Number] struct {
	X T `json:"x"`
	Y T `json:"y"`
}

// Point3 represents a 3D coordinate
type Point3[T Number] struct {
	X T `json:"x"`
	Y T `json:"y"`
	Z T `json:"z"`
}

// Point is the float64 2D point every 2D transform works on.
type Point = Point2[float64]

// Point3D is the float64 3D point every 3D transform works on.
type Point3D = Point3[float64]

func (p Point2[T]) Add(q Point2[T]) Point2[T] { return Point2[T]{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point2[T]) Sub(q Point2[T]) Point2[T] { return Point2[T]{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point2[T]) Scale(f T) Point2[T]       { return Point2[T]{X: p.X * f, Y: p.Y * f} }
func (p Point2[T]) Equal(q Point2[T]) bool    { return p.X == q.X && p.Y == q.Y }

func (p Point3[T]) Add(q Point3[T]) Point3[T] {
	return Point3[T]{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

func (p Point3[T]) Sub(q Point3[T]) Point3[T] {
	return Point3[T]{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

func (p Point3[T]) Scale(f T) Point3[T] { return Point3[T]{X: p.X * f, Y: p.Y * f, Z: p.Z * f} }
func (p Point3[T]) Equal(q Point3[T]) bool {
	return p.X == q.X && p.Y == q.Y && p.Z == q.Z
}

// Float2 converts a point of any representation to a float64 point.
func Float2[T Number](p Point2[T]) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// Float3 converts a point of any representation to a float64 point.
func Float3[T Number](p Point3[T]) Point3D {
	return Point3D{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// Floats2 converts a slice of points to float64 points.
func Floats2[T Number](pts []Point2[T]) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Float2(p)
	}
	return out
}

// Floats3 converts a slice of points to float64 points.
func Floats3[T Number](pts []Point3[T]) []Point3D {
	out := make([]Point3D, len(pts))
	for i, p := range pts {
		out[i] = Float3(p)
	}
	return out
}

func vec2(p Point) r2.Vec     { return r2.Vec{X: p.X, Y: p.Y} }
func fromVec2(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

func vec3(p Point3D) r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	return r2.Norm(r2.Sub(vec2(p2), vec2(p1)))
}

// Distance3D calculates Euclidean distance between two 3D points
func Distance3D(p1, p2 Point3D) float64 {
	return r3.Norm(r3.Sub(vec3(p2), vec3(p1)))
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sum r2.Vec
	for _, p := range points {
		sum = r2.Add(sum, vec2(p))
	}
	return fromVec2(r2.Scale(1/float64(len(points)), sum))
}
