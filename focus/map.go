// Package focus interpolates focus corrections across the sample plane
// from a set of measured calibration points.
package focus

import (
	"errors"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/qscan/coord"
)

// An Offsetter supplies the focus offset at a lateral position. The
// bool is false outside the calibrated region.
type Offsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

// A Map is a triangulated calibration surface. Queries inside the
// calibrated region interpolate linearly on the containing triangle;
// queries outside report no offset rather than extrapolating.
type Map struct {
	minX, minY, maxX, maxY float64
	points                 []coord.Point
	triangles              []coord.Triangle
}

// NewMap triangulates the calibration points. Point Z values are used
// as-is; pass them through OffsetFrom first when they are absolute
// focus positions rather than offsets.
func NewMap(points []coord.Point) (*Map, error) {
	if len(points) < 3 {
		return nil, errors.New("need at least 3 points to build a focus map")
	}

	points2d := make([]delaunay.Point, len(points))
	byXY := make(map[delaunay.Point]coord.Point, len(points))

	m := &Map{
		minX:   points[0].X,
		minY:   points[0].Y,
		maxX:   points[0].X,
		maxY:   points[0].Y,
		points: points,
	}
	var d delaunay.Point
	for i, p := range points {
		m.minX = math.Min(m.minX, p.X)
		m.minY = math.Min(m.minY, p.Y)
		m.maxX = math.Max(m.maxX, p.X)
		m.maxY = math.Max(m.maxY, p.Y)

		d.X = p.X
		d.Y = p.Y
		byXY[d] = p
		points2d[i] = d
	}
	m.minX -= coord.Epsilon
	m.minY -= coord.Epsilon
	m.maxX += coord.Epsilon
	m.maxY += coord.Epsilon

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, err
	}

	m.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i < len(tri.Triangles); i += 3 {
		m.triangles = append(m.triangles, coord.Triangle{
			A: byXY[tri.Points[tri.Triangles[i]]],
			B: byXY[tri.Points[tri.Triangles[i+1]]],
			C: byXY[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return m, nil
}

func (m *Map) OffsetZ(x, y float64) (bool, float64) {
	if x < m.minX || m.maxX < x || y < m.minY || m.maxY < y {
		return false, 0
	}
	for _, t := range m.triangles {
		if !t.ContainsXY(x, y) {
			continue
		}
		return true, t.Z(x, y)
	}

	return false, 0
}

// Points returns the calibration points the map was built from.
func (m *Map) Points() []coord.Point {
	out := make([]coord.Point, len(m.points))
	copy(out, m.points)
	return out
}

// Bounds returns the calibrated lateral region, expanded by the
// containment tolerance.
func (m *Map) Bounds() (minX, minY, maxX, maxY float64) {
	return m.minX, m.minY, m.maxX, m.maxY
}

// OffsetFrom rebases absolute focus positions to offsets relative to
// z, typically the focus position when calibration started.
func OffsetFrom(z float64, points []coord.Point) []coord.Point {
	p := make([]coord.Point, len(points))
	copy(p, points)

	for i := range p {
		p[i].Z -= z
	}
	return p
}
