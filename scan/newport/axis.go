package newport

import (
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	serial "github.com/tarm/serial"

	"github.com/mastercactapus/qscan/scan"
)

const (
	// DefaultTimeout bounds a single move.
	DefaultTimeout = 10 * time.Second

	pollInterval = 100 * time.Millisecond

	// tolerance is how close (in µm) the stage must report to its
	// target before a move counts as complete.
	tolerance = 0.1

	baudRate = 921600
)

// Options configure a micrometer axis. Positions are in micrometers.
type Options struct {
	// Port is the serial device path.
	Port string

	// Min and Max bound accepted positions. The zero value for both
	// selects the full 25mm travel.
	Min, Max float64

	// Timeout bounds one move; a move still unconverged by then is
	// logged and treated as complete at wherever the stage reports.
	Timeout time.Duration
}

// Axis is a scan.Axis over one micrometer channel. Moves block through
// mechanical settling, so dwell clocks only start once the stage has
// arrived.
type Axis struct {
	conn     *Conn
	min, max float64
	timeout  time.Duration

	mx   sync.Mutex
	last float64
}

var (
	_ scan.Axis           = (*Axis)(nil)
	_ scan.PositionReader = (*Axis)(nil)
)

// Open connects to the controller and runs its init sequence,
// including the home search the stage requires before it will move.
func Open(opt Options) (*Axis, error) {
	port, err := serial.OpenPort(&serial.Config{Name: opt.Port, Baud: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opt.Port, err)
	}
	a, err := New(port, opt)
	if err != nil {
		port.Close()
		return nil, err
	}
	return a, nil
}

// New runs the init sequence over an existing connection. Most callers
// want Open; New exists for transports that are not serial ports.
func New(rw io.ReadWriter, opt Options) (*Axis, error) {
	if opt.Min == 0 && opt.Max == 0 {
		opt.Max = 25000
	}
	if opt.Max <= opt.Min {
		return nil, fmt.Errorf("range [%g, %g] must have max greater than min", opt.Min, opt.Max)
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}

	a := &Axis{
		conn:    NewConn(rw),
		min:     opt.Min,
		max:     opt.Max,
		timeout: opt.Timeout,
	}

	// configuration state, compensation values, then home
	for _, cmd := range []string{"1PW1", "1HT", "1BA0.003", "1FF05", "1PW0", "1OR"} {
		if err := a.conn.Send(cmd); err != nil {
			return nil, fmt.Errorf("init %s: %w", cmd, err)
		}
	}
	return a, nil
}

// MoveTo drives the stage to pos and polls until it reports within
// tolerance. A move that has not converged by the timeout is logged
// and left where it is rather than failed; the stage is still usable.
func (a *Axis) MoveTo(pos float64) error {
	if pos < a.min || pos > a.max {
		return fmt.Errorf("position %g outside [%g, %g]", pos, a.min, a.max)
	}

	// the controller takes millimeters
	if err := a.conn.Send("1SE" + strconv.FormatFloat(pos/1000, 'f', -1, 64)); err != nil {
		return err
	}
	if err := a.conn.Send("SE"); err != nil {
		return err
	}

	deadline := time.Now().Add(a.timeout)
	for {
		time.Sleep(pollInterval)
		cur, err := a.readPosition()
		if err != nil {
			return err
		}
		if math.Abs(cur-pos) < tolerance {
			a.setLast(cur)
			return nil
		}
		if time.Now().After(deadline) {
			log.Printf("micrometer timed out at %.2fµm en route to %.2fµm", cur, pos)
			a.setLast(cur)
			return nil
		}
	}
}

// setLast keeps LastCommanded reads from blocking behind a move in
// progress.
func (a *Axis) setLast(v float64) {
	a.mx.Lock()
	a.last = v
	a.mx.Unlock()
}

// LastCommanded reports where the stage settled after the last move.
func (a *Axis) LastCommanded() float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.last
}

// ReadPosition queries the stage for its current position in µm.
func (a *Axis) ReadPosition() (float64, error) {
	return a.readPosition()
}

func (a *Axis) readPosition() (float64, error) {
	reply, err := a.conn.Query("1TP")
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, fmt.Errorf("short position reply %q", reply)
	}
	// reply echoes the command: 1TP followed by millimeters
	s := reply[3:]
	if len(s) > 9 {
		s = s[:9]
	}
	mm, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse position reply %q: %w", reply, err)
	}
	return mm * 1000, nil
}

// Close ends any queued motion and closes the port.
func (a *Axis) Close() error {
	var errs error
	if err := a.conn.Send("SE"); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := a.conn.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}
