// Package sim provides software stand-ins for counting and positioning
// hardware. Batches take real time (cycles divided by the clock rate)
// so paced acquisition behaves like it would against instruments.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/mastercactapus/qscan/scan"
)

// CounterOptions configure a simulated batch counter.
type CounterOptions struct {
	// Clock is the timebase in cycles per second. Required.
	Clock float64

	// Rate is the mean count rate in counts per second.
	Rate float64

	// Source, when set, supplies the count rate per batch instead of
	// Rate.
	Source func() float64
}

// Counter is a deterministic scan.Counter. Each batch yields
// rate*cycles/clock counts after sleeping the batch duration.
type Counter struct {
	clock  float64
	rate   float64
	source func() float64

	mx      sync.Mutex
	cycles  uint64
	running bool
}

var _ scan.Counter = (*Counter)(nil)

func NewCounter(opt CounterOptions) (*Counter, error) {
	if opt.Clock <= 0 {
		return nil, fmt.Errorf("clock rate %g must be greater than zero", opt.Clock)
	}
	if opt.Rate < 0 {
		return nil, fmt.Errorf("count rate %g must not be negative", opt.Rate)
	}
	return &Counter{clock: opt.Clock, rate: opt.Rate, source: opt.Source}, nil
}

func (c *Counter) ClockRate() float64 { return c.clock }

func (c *Counter) ConfigureBatch(cycles uint64) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.running {
		return fmt.Errorf("counter is running")
	}
	if cycles < 1 {
		return fmt.Errorf("batch of %d cycles must be at least 1", cycles)
	}
	c.cycles = cycles
	return nil
}

func (c *Counter) Start() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.cycles == 0 {
		return fmt.Errorf("counter not configured")
	}
	c.running = true
	return nil
}

func (c *Counter) Stop() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.running = false
	return nil
}

func (c *Counter) ReadBatch() (scan.BatchResult, error) {
	c.mx.Lock()
	if !c.running {
		c.mx.Unlock()
		return scan.BatchResult{}, fmt.Errorf("counter not running")
	}
	cycles := c.cycles
	rate := c.rate
	if c.source != nil {
		rate = c.source()
	}
	c.mx.Unlock()

	dur := float64(cycles) / c.clock
	time.Sleep(time.Duration(dur * float64(time.Second)))
	return scan.BatchResult{Counts: rate * dur, Cycles: cycles}, nil
}
