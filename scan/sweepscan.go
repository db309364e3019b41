package scan

import (
	"fmt"
	"io"
	"time"

	"github.com/mastercactapus/qscan/sweep"
)

// SweepOptions configure a repeated bidirectional sweep along one axis.
type SweepOptions struct {
	Axis  string
	Plan  *sweep.Plan
	Scans int
}

// Frame is one completed up-and-down pass, binned to pixel rates.
type Frame struct {
	Index int       `json:"index"`
	Up    []float64 `json:"up"`
	Down  []float64 `json:"down"`
}

// A SweepScan produces frames one at a time. Like ImageScan it holds
// the busy guard until drained to io.EOF or an error.
type SweepScan struct {
	c    *Controller
	ax   *boundAxis
	plan *sweep.Plan

	scans   int
	started time.Time

	frame int
	done  bool
}

// ScanSweep validates options against the axis bounds and takes the
// busy guard. The counter is configured per pass, not here: the up and
// down directions dwell for different times.
func (c *Controller) ScanSweep(opt SweepOptions) (*SweepScan, error) {
	if err := c.acquire(stateSweep); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			c.release()
		}
	}()

	if opt.Plan == nil {
		return nil, fmt.Errorf("%w: sweep plan required", ErrInvalid)
	}
	if opt.Scans < 1 {
		return nil, fmt.Errorf("%w: scan count %d must be at least 1", ErrInvalid, opt.Scans)
	}
	ax, err := c.axis(opt.Axis)
	if err != nil {
		return nil, err
	}
	if err = validateSpan(ax, opt.Plan.Min, opt.Plan.Max); err != nil {
		return nil, err
	}

	s := &SweepScan{
		c:       c,
		ax:      ax,
		plan:    opt.Plan,
		scans:   opt.Scans,
		started: time.Now(),
	}
	c.setFrame(0)
	ok = true
	return s, nil
}

// Read produces the next frame: re-home to the plan minimum, sweep up,
// sweep down, re-home, bin both directions. It returns io.EOF after
// the final frame or after a stop request observed at a frame
// boundary; cleanup has completed by then.
func (s *SweepScan) Read() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}
	if s.c.stopRequested() {
		s.finish()
		return Frame{}, io.EOF
	}

	if err := s.ax.dev.MoveTo(s.plan.Min); err != nil {
		s.finish()
		return Frame{}, err
	}
	time.Sleep(s.c.settle)

	upCounts, err := s.pass(s.plan.SampleGridUp, s.plan.SampleDwellUp)
	if err != nil {
		s.finish()
		return Frame{}, err
	}
	downCounts, err := s.pass(s.plan.SampleGridDown, s.plan.SampleDwellDown)
	if err != nil {
		s.finish()
		return Frame{}, err
	}
	if err = s.ax.dev.MoveTo(s.plan.Min); err != nil {
		s.finish()
		return Frame{}, err
	}

	up, err := s.plan.BinUp(upCounts)
	if err != nil {
		s.finish()
		return Frame{}, err
	}
	down, err := s.plan.BinDown(downCounts)
	if err != nil {
		s.finish()
		return Frame{}, err
	}

	f := Frame{Index: s.frame, Up: up, Down: down}
	s.frame++
	s.c.setFrame(s.frame)
	if s.frame >= s.scans || s.c.stopRequested() {
		s.finish()
	}
	return f, nil
}

// pass runs the counter for one direction, sampling raw counts at each
// grid point. Each direction configures its own dwell, so the counter
// starts and stops within the pass.
func (s *SweepScan) pass(grid []float64, dwell time.Duration) ([]float64, error) {
	if err := s.c.sampler.ConfigureDwell(dwell); err != nil {
		return nil, err
	}
	if err := s.c.sampler.Start(); err != nil {
		return nil, err
	}
	defer s.c.sampler.Stop()

	counts := make([]float64, len(grid))
	for i, pos := range grid {
		if err := s.ax.dev.MoveTo(pos); err != nil {
			return nil, err
		}
		b, err := s.c.sampler.SampleBatch()
		if err != nil {
			return nil, err
		}
		counts[i] = b.Counts
	}
	return counts, nil
}

func (s *SweepScan) finish() {
	if s.done {
		return
	}
	s.done = true
	s.c.sampler.Stop()
	s.c.release()
}

// Plan returns the sweep plan this scan executes.
func (s *SweepScan) Plan() *sweep.Plan { return s.plan }

// Started returns when the first frame was requested.
func (s *SweepScan) Started() time.Time { return s.started }
