// Package geo holds the planar geometry shared by the tracker, the route
// corridor and the handoff manager. Coordinates are metres in the simulator
// world frame; only x and y contribute to distances.
package geo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrNonFinite is returned for points with NaN or infinite coordinates.
var ErrNonFinite = errors.New("non-finite coordinate")

// Point is a location in the world frame (metres).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pt is shorthand for Point{X: x, Y: y, Z: z}.
func Pt(x, y, z float64) Point {
	return Point{X: x, Y: y, Z: z}
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}

// Validate reports ErrNonFinite if any coordinate is NaN or ±Inf.
func (p Point) Validate() error {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrNonFinite, p)
		}
	}
	return nil
}

func (p Point) vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// PlanarDistance returns the Euclidean distance between a and b in the x/y
// plane, in metres.
func PlanarDistance(a, b Point) float64 {
	return r2.Norm(r2.Sub(a.vec(), b.vec()))
}

// PlanarDistanceKm is PlanarDistance in kilometres.
func PlanarDistanceKm(a, b Point) float64 {
	return PlanarDistance(a, b) / 1000.0
}

// Within reports whether b lies within radius metres of a (inclusive).
func Within(a, b Point, radius float64) bool {
	return PlanarDistance(a, b) <= radius
}

// Midpoint returns the point halfway between a and b, z included.
func Midpoint(a, b Point) Point {
	m := r2.Scale(0.5, r2.Add(a.vec(), b.vec()))
	return Point{X: m.X, Y: m.Y, Z: (a.Z + b.Z) / 2}
}

// Offset returns p moved by dx, dy metres, keeping z.
func Offset(p Point, dx, dy float64) Point {
	v := r2.Add(p.vec(), r2.Vec{X: dx, Y: dy})
	return Point{X: v.X, Y: v.Y, Z: p.Z}
}

// FromSlice converts a [x, y, z] JSON array into a Point. Two-element
// slices get z = 0.
func FromSlice(v []float64) (Point, error) {
	switch len(v) {
	case 2:
		return Point{X: v[0], Y: v[1]}, nil
	case 3:
		return Point{X: v[0], Y: v[1], Z: v[2]}, nil
	default:
		return Point{}, fmt.Errorf("location needs 2 or 3 coordinates, got %d", len(v))
	}
}

// Slice returns p as [x, y, z].
func (p Point) Slice() []float64 {
	return []float64{p.X, p.Y, p.Z}
}
