package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/mastercactapus/qscan/scan"
)

// AxisOptions configure a simulated positioner.
type AxisOptions struct {
	// Min and Max bound accepted positions at the device level.
	Min, Max float64

	// Scale converts position units to the control value: one control
	// unit moves Scale position units. Required, non-zero.
	Scale float64

	// Offset is the control value at position zero.
	Offset float64

	// Invert flips the travel direction at construction, keeping the
	// mid-range position on the same control value.
	Invert bool

	// Settle is how long a move takes.
	Settle time.Duration
}

// Axis is a deterministic scan.Axis with a voltage-style control
// mapping. It also reports position, so it satisfies
// scan.PositionReader.
type Axis struct {
	min, max float64
	settle   time.Duration

	mx      sync.Mutex
	scale   float64
	offset  float64
	pos     float64
	control float64
}

var (
	_ scan.Axis           = (*Axis)(nil)
	_ scan.PositionReader = (*Axis)(nil)
)

func NewAxis(opt AxisOptions) (*Axis, error) {
	if opt.Max <= opt.Min {
		return nil, fmt.Errorf("range [%g, %g] must have max greater than min", opt.Min, opt.Max)
	}
	if opt.Scale == 0 {
		return nil, fmt.Errorf("scale must be non-zero")
	}
	a := &Axis{
		min:    opt.Min,
		max:    opt.Max,
		settle: opt.Settle,
		scale:  opt.Scale,
		offset: opt.Offset,
	}
	if opt.Invert {
		a.Invert()
	}
	return a, nil
}

// MoveTo writes the control value for pos and waits out the settle
// time before returning.
func (a *Axis) MoveTo(pos float64) error {
	a.mx.Lock()
	if pos < a.min || pos > a.max {
		a.mx.Unlock()
		return fmt.Errorf("position %g outside [%g, %g]", pos, a.min, a.max)
	}
	a.pos = pos
	a.control = a.controlFor(pos)
	a.mx.Unlock()

	time.Sleep(a.settle)
	return nil
}

func (a *Axis) LastCommanded() float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.pos
}

// ReadPosition reports the position the device settled at. The
// simulation settles exactly on target.
func (a *Axis) ReadPosition() (float64, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.pos, nil
}

// Control returns the control value last written to the output.
func (a *Axis) Control() float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.control
}

// ControlFor converts a position to its control value under the
// current calibration.
func (a *Axis) ControlFor(pos float64) float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.controlFor(pos)
}

func (a *Axis) controlFor(pos float64) float64 {
	return pos/a.scale + a.offset
}

// Invert reverses the travel direction. The calibration is recentered
// so the middle of the range keeps its control value; every other
// position mirrors around it.
func (a *Axis) Invert() {
	a.mx.Lock()
	defer a.mx.Unlock()
	center := (a.min + a.max) / 2
	cv := a.controlFor(center)
	a.scale = -a.scale
	a.offset = cv - center/a.scale
}
