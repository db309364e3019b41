package scan

import (
	"fmt"
	"sync"
	"time"
)

// DefaultSettle is the pause after a slow-axis move before the next
// image row begins.
const DefaultSettle = 10 * time.Millisecond

// An Offsetter supplies a focus offset for a lateral position. The
// bool is false outside the mapped region.
type Offsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

// AxisConfig binds a named axis to its device and hard bounds. Every
// commanded position must lie within [Min, Max] inclusive; requests
// outside are rejected before the device is touched.
type AxisConfig struct {
	Name     string
	Min, Max float64
	Device   Axis
}

// Config configures a Controller.
type Config struct {
	Sampler *Sampler
	Axes    []AxisConfig

	// Settle overrides DefaultSettle between image rows.
	Settle time.Duration
}

type boundAxis struct {
	name     string
	min, max float64
	dev      Axis
	live     PositionReader // nil when unsupported
}

func (a *boundAxis) check(pos float64) error {
	if pos < a.min || pos > a.max {
		return fmt.Errorf("%w: position %v outside [%v, %v] for axis %q", ErrInvalid, pos, a.min, a.max, a.name)
	}
	return nil
}

// A Controller serializes all axis and counter operations behind a
// single busy guard. At most one operation may run at a time; starting
// another fails fast with ErrBusy. The command context may only read
// snapshots and call RequestStop while a worker drives an operation.
type Controller struct {
	sampler *Sampler
	settle  time.Duration

	axes  map[string]*boundAxis
	names []string

	mx    sync.Mutex
	state opState
	stop  bool
	row   int
	frame int

	stateCh chan Status
}

func New(cfg Config) (*Controller, error) {
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("%w: no sampler", ErrInvalid)
	}
	if len(cfg.Axes) == 0 {
		return nil, fmt.Errorf("%w: no axes", ErrInvalid)
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}

	c := &Controller{
		sampler: cfg.Sampler,
		settle:  cfg.Settle,
		axes:    make(map[string]*boundAxis, len(cfg.Axes)),
		names:   make([]string, 0, len(cfg.Axes)),
		stateCh: make(chan Status, 1),
	}
	for _, ac := range cfg.Axes {
		if ac.Name == "" {
			return nil, fmt.Errorf("%w: axis with empty name", ErrInvalid)
		}
		if ac.Device == nil {
			return nil, fmt.Errorf("%w: axis %q has no device", ErrInvalid, ac.Name)
		}
		if ac.Max <= ac.Min {
			return nil, fmt.Errorf("%w: axis %q bounds [%v, %v]", ErrInvalid, ac.Name, ac.Min, ac.Max)
		}
		if _, ok := c.axes[ac.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate axis %q", ErrInvalid, ac.Name)
		}
		ax := &boundAxis{name: ac.Name, min: ac.Min, max: ac.Max, dev: ac.Device}
		// capability detected once, not per call
		if pr, ok := ac.Device.(PositionReader); ok {
			ax.live = pr
		}
		c.axes[ac.Name] = ax
		c.names = append(c.names, ac.Name)
	}
	return c, nil
}

func (c *Controller) axis(name string) (*boundAxis, error) {
	ax := c.axes[name]
	if ax == nil {
		return nil, fmt.Errorf("%w: unknown axis %q", ErrInvalid, name)
	}
	return ax, nil
}

// acquire moves the controller from idle into st, failing fast when any
// other operation owns the hardware.
func (c *Controller) acquire(st opState) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state != stateIdle {
		return ErrBusy
	}
	c.state = st
	c.stop = false
	c.row = 0
	c.frame = 0
	c.notifyLocked()
	return nil
}

func (c *Controller) release() {
	c.mx.Lock()
	c.state = stateIdle
	c.stop = false
	c.notifyLocked()
	c.mx.Unlock()
}

// RequestStop asks the current operation to stop at its next row or
// frame boundary. A no-op when nothing is running.
func (c *Controller) RequestStop() {
	c.mx.Lock()
	if c.state != stateIdle {
		c.stop = true
	}
	c.mx.Unlock()
}

func (c *Controller) stopRequested() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.stop
}

func (c *Controller) setRow(i int) {
	c.mx.Lock()
	c.row = i
	c.notifyLocked()
	c.mx.Unlock()
}

func (c *Controller) setFrame(i int) {
	c.mx.Lock()
	c.frame = i
	c.notifyLocked()
	c.mx.Unlock()
}

// SetAxis moves the named axis to an absolute position. It returns
// only after the device reports completion.
func (c *Controller) SetAxis(name string, pos float64) error {
	if err := c.acquire(stateMoving); err != nil {
		return err
	}
	defer c.release()
	ax, err := c.axis(name)
	if err != nil {
		return err
	}
	if err = ax.check(pos); err != nil {
		return err
	}
	return ax.dev.MoveTo(pos)
}

// StepAxis moves the named axis relative to its last-commanded
// position.
func (c *Controller) StepAxis(name string, delta float64) error {
	if err := c.acquire(stateMoving); err != nil {
		return err
	}
	defer c.release()
	ax, err := c.axis(name)
	if err != nil {
		return err
	}
	pos := ax.dev.LastCommanded() + delta
	if err = ax.check(pos); err != nil {
		return err
	}
	return ax.dev.MoveTo(pos)
}

// Position returns the last-commanded value of every axis. It does not
// take the busy guard and never reads hardware; not all axis devices
// support live readback.
func (c *Controller) Position() map[string]float64 {
	pos := make(map[string]float64, len(c.names))
	for _, name := range c.names {
		pos[name] = c.axes[name].dev.LastCommanded()
	}
	return pos
}

// LivePosition reads the named axis position from hardware, for
// devices with the PositionReader capability. Results are undefined
// while an operation is moving the axis.
func (c *Controller) LivePosition(name string) (float64, error) {
	ax, err := c.axis(name)
	if err != nil {
		return 0, err
	}
	if ax.live == nil {
		return 0, ErrUnsupported
	}
	return ax.live.ReadPosition()
}

// LineOptions configure a single-axis line scan.
type LineOptions struct {
	Axis        string
	Start, Stop float64
	Pixels      int

	// Time is the duration of the whole line; each pixel dwells for
	// Time/Pixels.
	Time time.Duration
}

// Line is the completed result of a line scan.
type Line struct {
	Axis      string        `json:"axis"`
	Positions []float64     `json:"positions"`
	Rates     []float64     `json:"rates"`
	Dwell     time.Duration `json:"dwell"`
	Started   time.Time     `json:"started"`
}

// ScanLine scans one axis between Start and Stop in Pixels evenly
// spaced positions, inclusive of both ends, sampling one batch per
// pixel. The counter is stopped and the guard released on every exit
// path.
func (c *Controller) ScanLine(opt LineOptions) (*Line, error) {
	if err := c.acquire(stateLine); err != nil {
		return nil, err
	}
	defer c.release()

	ax, err := c.axis(opt.Axis)
	if err != nil {
		return nil, err
	}
	if err = validateSpan(ax, opt.Start, opt.Stop); err != nil {
		return nil, err
	}
	if opt.Pixels < 1 {
		return nil, fmt.Errorf("%w: pixels %d must be at least 1", ErrInvalid, opt.Pixels)
	}
	if opt.Time <= 0 {
		return nil, fmt.Errorf("%w: scan time %v must be greater than zero", ErrInvalid, opt.Time)
	}

	dwell := opt.Time / time.Duration(opt.Pixels)
	if err = c.sampler.ConfigureDwell(dwell); err != nil {
		return nil, err
	}
	if err = c.sampler.Start(); err != nil {
		return nil, err
	}
	defer c.sampler.Stop()

	line := &Line{
		Axis:      opt.Axis,
		Positions: linspace(opt.Start, opt.Stop, opt.Pixels),
		Dwell:     dwell,
		Started:   time.Now(),
	}
	line.Rates, err = c.scanRow(ax, line.Positions)
	if err != nil {
		return nil, err
	}
	return line, nil
}

// scanRow samples one batch per position, returning counts per second.
// Order is strictly sequential; a row never re-reads a position.
func (c *Controller) scanRow(ax *boundAxis, positions []float64) ([]float64, error) {
	rates := make([]float64, len(positions))
	for i, pos := range positions {
		if err := ax.dev.MoveTo(pos); err != nil {
			return nil, err
		}
		b, err := c.sampler.SampleBatch()
		if err != nil {
			return nil, err
		}
		rates[i] = b.Rate(c.sampler.ClockRate())
	}
	return rates, nil
}

func validateSpan(ax *boundAxis, start, stop float64) error {
	if err := ax.check(start); err != nil {
		return err
	}
	return ax.check(stop)
}

// linspace returns n points from start to stop, inclusive of both
// ends. Descending spans are legal and produce a descending grid.
func linspace(start, stop float64, n int) []float64 {
	pts := make([]float64, n)
	if n == 1 {
		pts[0] = start
		return pts
	}
	step := (stop - start) / float64(n-1)
	for i := range pts {
		pts[i] = start + step*float64(i)
	}
	pts[n-1] = stop
	return pts
}
