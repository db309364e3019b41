package scan

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// A Sampler turns raw counter batches into counts, elapsed time, and
// rates with a single aggregation policy shared by every scan type.
//
// All sampling happens on the worker context that owns the current
// operation. Stop may be called from any context: it marks the sampler
// not-running, waits for a read already in flight to complete, and only
// then releases the device, so reads are never torn.
type Sampler struct {
	c     Counter
	clock float64

	readMx sync.Mutex // held for the duration of each device read

	mx      sync.Mutex
	running bool
	cycles  uint64
}

func NewSampler(c Counter) *Sampler {
	return &Sampler{c: c, clock: c.ClockRate()}
}

func (s *Sampler) ClockRate() float64 { return s.clock }

// CyclesPerBatch reports the batch size set by the last ConfigureDwell.
func (s *Sampler) CyclesPerBatch() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cycles
}

func (s *Sampler) Running() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.running
}

// ConfigureDwell sets the batch size to round(d * clock rate) cycles.
// The device must not be running; reconfiguring an already-configured
// but stopped device is fine.
func (s *Sampler) ConfigureDwell(d time.Duration) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.running {
		return ErrRunning
	}
	cycles := uint64(math.Round(d.Seconds() * s.clock))
	if cycles < 1 {
		return fmt.Errorf("%w: dwell %v is under one clock cycle at %v Hz", ErrInvalid, d, s.clock)
	}
	err := s.c.ConfigureBatch(cycles)
	if err != nil {
		return err
	}
	s.cycles = cycles
	return nil
}

// Start is idempotent.
func (s *Sampler) Start() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.running {
		return nil
	}
	err := s.c.Start()
	if err != nil {
		return err
	}
	s.running = true
	return nil
}

// Stop is idempotent. It always succeeds in marking the sampler
// not-running, even if the device refuses to release; that failure is
// logged, not returned.
func (s *Sampler) Stop() {
	s.mx.Lock()
	if !s.running {
		s.mx.Unlock()
		return
	}
	s.running = false
	s.mx.Unlock()

	// wait out a read in flight
	s.readMx.Lock()
	s.readMx.Unlock()

	if err := s.c.Stop(); err != nil {
		log.Println("ERROR: stop counter:", err)
	}
}

// SampleBatch reads one batch. If the sampler was stopped concurrently
// it returns a zero result and no error.
func (s *Sampler) SampleBatch() (BatchResult, error) {
	s.readMx.Lock()
	defer s.readMx.Unlock()
	if !s.Running() {
		return BatchResult{}, nil
	}
	return s.c.ReadBatch()
}

// SampleBatches reads n batches and returns them individually.
func (s *Sampler) SampleBatches(n int) ([]BatchResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: batch count %d must be at least 1", ErrInvalid, n)
	}
	batches := make([]BatchResult, 0, n)
	for i := 0; i < n; i++ {
		b, err := s.SampleBatch()
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// SampleTotal reads n batches and sums counts and cycles into one
// result.
func (s *Sampler) SampleTotal(n int) (BatchResult, error) {
	batches, err := s.SampleBatches(n)
	if err != nil {
		return BatchResult{}, err
	}
	return Total(batches), nil
}
