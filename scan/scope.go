package scan

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultMaxSamples caps scope accumulation when MaxSamples is unset.
const DefaultMaxSamples = 1000000

// ScopeOptions configure continuous sampling.
type ScopeOptions struct {
	// Dwell is the counting time per emitted sample.
	Dwell time.Duration

	// Rate emits counts-per-second instead of raw counts.
	Rate bool

	// Batches aggregates this many counter batches per emitted sample.
	// Zero means 1.
	Batches int
}

// Sample is one scope reading. At is wall-clock seconds since sampling
// first began; gaps between stop and restart show up as jumps.
type Sample struct {
	At    float64 `json:"at"`
	Value float64 `json:"value"`
}

// A Scope samples the counter continuously until stopped or full.
// Stopping and restarting appends to the accumulated samples; Reset
// clears them. It runs independently of the Controller and must not
// share the Controller's Sampler while a scan is active.
type Scope struct {
	sampler *Sampler

	// MaxSamples caps accumulation; reaching it stops the stream like
	// an external stop would. Set before Start; zero means
	// DefaultMaxSamples.
	MaxSamples int

	mx       sync.Mutex
	running  bool
	stop     bool
	epoch    time.Time
	samples  []Sample
	measured float64
	done     chan struct{}

	ch chan Sample
}

// NewScope returns a stopped scope with no samples.
func NewScope(s *Sampler) *Scope {
	done := make(chan struct{})
	close(done)
	return &Scope{
		sampler: s,
		done:    done,
		ch:      make(chan Sample, 1024),
	}
}

// Start configures the counter for opt.Dwell and begins sampling in the
// background. It returns ErrRunning if sampling is already active.
func (s *Scope) Start(opt ScopeOptions) error {
	if opt.Batches == 0 {
		opt.Batches = 1
	}
	if opt.Batches < 1 {
		return fmt.Errorf("%w: batches %d must be at least 1", ErrInvalid, opt.Batches)
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.running {
		return ErrRunning
	}
	if err := s.sampler.ConfigureDwell(opt.Dwell); err != nil {
		return err
	}
	if err := s.sampler.Start(); err != nil {
		return err
	}
	if s.epoch.IsZero() {
		s.epoch = time.Now()
	}
	max := s.MaxSamples
	if max <= 0 {
		max = DefaultMaxSamples
	}

	s.running = true
	s.stop = false
	s.done = make(chan struct{})
	go s.loop(opt, max, s.done)
	return nil
}

func (s *Scope) loop(opt ScopeOptions, max int, done chan struct{}) {
	defer close(done)
	defer s.sampler.Stop()
	defer func() {
		s.mx.Lock()
		s.running = false
		s.stop = false
		s.mx.Unlock()
	}()

	clock := s.sampler.ClockRate()
	for {
		if s.stopping() {
			return
		}
		s.mx.Lock()
		full := len(s.samples) >= max
		s.mx.Unlock()
		if full {
			log.Println("scope full at", max, "samples, stopping")
			return
		}

		b, err := s.sampler.SampleTotal(opt.Batches)
		if err != nil {
			log.Println("ERROR: scope sample:", err)
			return
		}
		if !s.sampler.Running() {
			// Stopped out from under us mid-read; the batch is
			// zeroes, not data.
			return
		}

		smp := Sample{At: time.Since(s.epoch).Seconds(), Value: b.Counts}
		if opt.Rate {
			smp.Value = b.Rate(clock)
		}

		s.mx.Lock()
		s.samples = append(s.samples, smp)
		s.measured += b.Seconds(clock)
		s.mx.Unlock()

		select {
		case s.ch <- smp:
		default:
		}
	}
}

func (s *Scope) stopping() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.stop
}

// Stop requests the worker end at the next sample boundary. It never
// interrupts a read in progress. Safe to call when already stopped.
func (s *Scope) Stop() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.running {
		return
	}
	s.stop = true
}

// Reset discards accumulated samples and the measured-time total. It
// returns ErrRunning while sampling is active.
func (s *Scope) Reset() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.running {
		return ErrRunning
	}
	s.samples = nil
	s.measured = 0
	s.epoch = time.Time{}
	return nil
}

// Samples returns a copy of everything accumulated so far.
func (s *Scope) Samples() []Sample {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Measured returns the total counting time across all samples, from
// the batches' own cycle counts rather than wall time.
func (s *Scope) Measured() time.Duration {
	s.mx.Lock()
	defer s.mx.Unlock()
	return time.Duration(s.measured * float64(time.Second))
}

// Running reports whether the worker is active.
func (s *Scope) Running() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.running
}

// Done returns a channel closed when the current run ends. Before the
// first Start it is already closed.
func (s *Scope) Done() <-chan struct{} {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.done
}

// C delivers samples as they are taken, dropping when the receiver
// lags. Samples lost here are still in Samples.
func (s *Scope) C() <-chan Sample { return s.ch }
