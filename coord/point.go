// Package coord holds the small amount of 3D geometry behind focus
// interpolation: calibration points on the sample plane and the
// triangles that interpolate between them.
package coord

// A Point is a calibration sample: a lateral position and the focus
// value measured there.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

func (p Point) Cross(op Point) Point {
	return Point{
		X: p.Y*op.Z - p.Z*op.Y,
		Y: p.Z*op.X - p.X*op.Z,
		Z: p.X*op.Y - p.Y*op.X,
	}
}

func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}
