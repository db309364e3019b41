package scan

type opState int

const (
	stateIdle opState = iota
	stateMoving
	stateLine
	stateImage
	stateSweep
)

func (s opState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateMoving:
		return "moving"
	case stateLine:
		return "line"
	case stateImage:
		return "image"
	case stateSweep:
		return "sweep"
	}
	return "unknown"
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State    string `json:"state"`
	Busy     bool   `json:"busy"`
	Scanning bool   `json:"scanning"`

	// Row and Frame hold the next row/frame index while an image or
	// sweep scan is iterating.
	Row   int `json:"row"`
	Frame int `json:"frame"`

	Positions map[string]float64 `json:"positions"`
}

// Status returns a snapshot of the controller state. Always available,
// even while busy.
func (c *Controller) Status() Status {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.statusLocked()
}

// State returns the status fan-out channel. Updates are dropped when no
// receiver is ready; hosts needing every row should drain the scan
// iterators instead.
func (c *Controller) State() <-chan Status {
	return c.stateCh
}

// Busy reports whether any operation currently owns the hardware.
func (c *Controller) Busy() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state != stateIdle
}

// Scanning reports whether a scan operation is actively iterating.
func (c *Controller) Scanning() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state == stateLine || c.state == stateImage || c.state == stateSweep
}

func (c *Controller) statusLocked() Status {
	pos := make(map[string]float64, len(c.names))
	for _, name := range c.names {
		pos[name] = c.axes[name].dev.LastCommanded()
	}
	return Status{
		State:     c.state.String(),
		Busy:      c.state != stateIdle,
		Scanning:  c.state == stateLine || c.state == stateImage || c.state == stateSweep,
		Row:       c.row,
		Frame:     c.frame,
		Positions: pos,
	}
}

func (c *Controller) notifyLocked() {
	select {
	case c.stateCh <- c.statusLocked():
	default:
	}
}
