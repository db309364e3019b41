package scan

import (
	"fmt"
	"io"
	"time"
)

// ImageOptions configure a two-axis raster scan: one line scan along
// the fast axis per slow-axis position.
type ImageOptions struct {
	FastAxis  string
	FastStart float64
	FastStop  float64

	SlowAxis  string
	SlowStart float64
	SlowStop  float64

	FastPixels int
	SlowPixels int

	// RowTime is the duration of one fast-axis pass; each pixel dwells
	// for RowTime/FastPixels.
	RowTime time.Duration

	// StartRow resumes a previously stopped scan at this row of the
	// same grid. The controller keeps no memory of where a scan left
	// off; resumption state is the caller's.
	StartRow int

	// Focus, when set, re-positions FocusAxis at the start of each row
	// to its position at scan start plus the map's offset, queried at
	// (fast midpoint, slow position).
	Focus     Offsetter
	FocusAxis string
}

// Row is one completed fast-axis pass of an image scan.
type Row struct {
	Index   int       `json:"index"`
	SlowPos float64   `json:"slow_pos"`
	Rates   []float64 `json:"rates"`
}

// An ImageScan produces rows one at a time. It holds the controller's
// busy guard for its entire iteration: a half-consumed scan still owns
// the hardware. Callers must drain it to io.EOF (or to an error); a
// stop request ends it early at the next row boundary.
type ImageScan struct {
	c   *Controller
	opt ImageOptions

	fast []float64
	slow []float64

	fastAx  *boundAxis
	slowAx  *boundAxis
	focusAx *boundAxis

	focusBase float64
	dwell     time.Duration
	started   time.Time

	row  int
	done bool
}

// ScanImage validates options, takes the busy guard, starts the
// counter, and returns the row sequence. Rows are produced lazily by
// Read; nothing moves until the first Read.
func (c *Controller) ScanImage(opt ImageOptions) (*ImageScan, error) {
	if err := c.acquire(stateImage); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			c.release()
		}
	}()

	fastAx, err := c.axis(opt.FastAxis)
	if err != nil {
		return nil, err
	}
	slowAx, err := c.axis(opt.SlowAxis)
	if err != nil {
		return nil, err
	}
	if err = validateSpan(fastAx, opt.FastStart, opt.FastStop); err != nil {
		return nil, err
	}
	if err = validateSpan(slowAx, opt.SlowStart, opt.SlowStop); err != nil {
		return nil, err
	}
	if opt.FastPixels < 1 || opt.SlowPixels < 1 {
		return nil, fmt.Errorf("%w: pixel counts %dx%d must be at least 1", ErrInvalid, opt.FastPixels, opt.SlowPixels)
	}
	if opt.RowTime <= 0 {
		return nil, fmt.Errorf("%w: row time %v must be greater than zero", ErrInvalid, opt.RowTime)
	}
	if opt.StartRow < 0 || opt.StartRow >= opt.SlowPixels {
		return nil, fmt.Errorf("%w: start row %d outside [0, %d)", ErrInvalid, opt.StartRow, opt.SlowPixels)
	}

	im := &ImageScan{
		c:      c,
		opt:    opt,
		fast:   linspace(opt.FastStart, opt.FastStop, opt.FastPixels),
		slow:   linspace(opt.SlowStart, opt.SlowStop, opt.SlowPixels),
		fastAx: fastAx,
		slowAx: slowAx,
		dwell:  opt.RowTime / time.Duration(opt.FastPixels),
		row:    opt.StartRow,
	}
	if opt.Focus != nil {
		im.focusAx, err = c.axis(opt.FocusAxis)
		if err != nil {
			return nil, err
		}
		im.focusBase = im.focusAx.dev.LastCommanded()
	}

	if err = c.sampler.ConfigureDwell(im.dwell); err != nil {
		return nil, err
	}
	if err = c.sampler.Start(); err != nil {
		return nil, err
	}

	im.started = time.Now()
	c.setRow(im.row)
	ok = true
	return im, nil
}

// Read produces the next row. It returns io.EOF after the final row,
// or after a stop request: the row produced when the request was
// observed is the last one delivered, and rows already delivered are
// never re-sent. Cleanup (counter stop, guard release) has completed
// by the time io.EOF or an error is returned.
func (im *ImageScan) Read() (Row, error) {
	if im.done {
		return Row{}, io.EOF
	}
	if im.c.stopRequested() {
		im.finish()
		return Row{}, io.EOF
	}

	pos := im.slow[im.row]
	if err := im.slowAx.dev.MoveTo(pos); err != nil {
		im.finish()
		return Row{}, err
	}
	if im.focusAx != nil {
		if err := im.refocus(pos); err != nil {
			im.finish()
			return Row{}, err
		}
	}
	time.Sleep(im.c.settle)

	rates, err := im.c.scanRow(im.fastAx, im.fast)
	if err != nil {
		im.finish()
		return Row{}, err
	}

	row := Row{Index: im.row, SlowPos: pos, Rates: rates}
	im.row++
	im.c.setRow(im.row)
	if im.row >= len(im.slow) || im.c.stopRequested() {
		im.finish()
	}
	return row, nil
}

func (im *ImageScan) refocus(slowPos float64) error {
	mid := (im.opt.FastStart + im.opt.FastStop) / 2
	ok, dz := im.opt.Focus.OffsetZ(mid, slowPos)
	if !ok {
		return nil
	}
	target := im.focusBase + dz
	if err := im.focusAx.check(target); err != nil {
		return err
	}
	return im.focusAx.dev.MoveTo(target)
}

// finish stops the counter and releases the guard exactly once.
func (im *ImageScan) finish() {
	if im.done {
		return
	}
	im.done = true
	im.c.sampler.Stop()
	im.c.release()
}

// Fast returns the fast-axis pixel grid.
func (im *ImageScan) Fast() []float64 { return im.fast }

// Slow returns the slow-axis row grid.
func (im *ImageScan) Slow() []float64 { return im.slow }

// Dwell returns the per-pixel dwell time.
func (im *ImageScan) Dwell() time.Duration { return im.dwell }

// Started returns when the counter was started for this scan.
func (im *ImageScan) Started() time.Time { return im.started }
