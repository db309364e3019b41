package scan

import (
	"fmt"
	"sync"
	"time"
)

// fakeCounter is a scripted Counter recording configuration and
// lifecycle calls.
type fakeCounter struct {
	clock     float64
	counts    float64
	readDelay time.Duration

	mx         sync.Mutex
	cycles     uint64
	running    bool
	starts     int
	stops      int
	reads      int
	configured []uint64
	readErr    error
}

func newFakeCounter(clock, counts float64) *fakeCounter {
	return &fakeCounter{clock: clock, counts: counts}
}

func (c *fakeCounter) ClockRate() float64 { return c.clock }

func (c *fakeCounter) ConfigureBatch(cycles uint64) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.running {
		return fmt.Errorf("configure while running")
	}
	c.cycles = cycles
	c.configured = append(c.configured, cycles)
	return nil
}

func (c *fakeCounter) Start() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.running = true
	c.starts++
	return nil
}

func (c *fakeCounter) Stop() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.running = false
	c.stops++
	return nil
}

func (c *fakeCounter) ReadBatch() (BatchResult, error) {
	c.mx.Lock()
	c.reads++
	err := c.readErr
	b := BatchResult{Counts: c.counts, Cycles: c.cycles}
	c.mx.Unlock()

	if c.readDelay > 0 {
		time.Sleep(c.readDelay)
	}
	if err != nil {
		return BatchResult{}, err
	}
	return b, nil
}

func (c *fakeCounter) stopCount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.stops
}

// fakeAxis records every commanded position. failMove, when set, may
// veto or observe a move before it is recorded.
type fakeAxis struct {
	failMove func(pos float64) error

	mx    sync.Mutex
	pos   float64
	moves []float64
}

func (a *fakeAxis) MoveTo(pos float64) error {
	if a.failMove != nil {
		if err := a.failMove(pos); err != nil {
			return err
		}
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	a.moves = append(a.moves, pos)
	a.pos = pos
	return nil
}

func (a *fakeAxis) LastCommanded() float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.pos
}

func (a *fakeAxis) allMoves() []float64 {
	a.mx.Lock()
	defer a.mx.Unlock()
	out := make([]float64, len(a.moves))
	copy(out, a.moves)
	return out
}

// fakePosAxis adds live readback.
type fakePosAxis struct {
	fakeAxis
	readPos float64
	readErr error
}

func (a *fakePosAxis) ReadPosition() (float64, error) { return a.readPos, a.readErr }
