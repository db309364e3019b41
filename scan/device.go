package scan

import "math"

// A Counter is a hardware event counter read in fixed-size batches of
// clock cycles.
//
// ConfigureBatch must be accepted before Start and again between a Stop
// and the next Start. ReadBatch blocks for one full batch.
type Counter interface {
	ClockRate() float64

	ConfigureBatch(cycles uint64) error
	Start() error
	Stop() error

	ReadBatch() (BatchResult, error)
}

// An Axis is a single positionable actuator.
//
// MoveTo returns after the device reports completion, including any
// settle delay the device itself enforces, and errors on positions
// outside the device's own range. LastCommanded must be safe to call
// concurrently with MoveTo.
type Axis interface {
	MoveTo(pos float64) error
	LastCommanded() float64
}

// A PositionReader is an Axis that supports live position readback.
type PositionReader interface {
	ReadPosition() (float64, error)
}

// BatchResult is one counter batch: integrated counts over the number
// of clock cycles actually read. Cycles may be less than the configured
// batch size on rare hardware under-delivery, never more.
type BatchResult struct {
	Counts float64 `json:"counts"`
	Cycles uint64  `json:"cycles"`
}

// Rate returns counts per second over the batch, or NaN if no cycles
// were read.
func (r BatchResult) Rate(clockRate float64) float64 {
	if r.Cycles == 0 {
		return math.NaN()
	}
	return r.Counts * clockRate / float64(r.Cycles)
}

// Seconds returns the measurement time the batch spanned.
func (r BatchResult) Seconds(clockRate float64) float64 {
	return float64(r.Cycles) / clockRate
}

// Total sums counts and cycles across batches into a single result.
func Total(batches []BatchResult) BatchResult {
	var t BatchResult
	for _, b := range batches {
		t.Counts += b.Counts
		t.Cycles += b.Cycles
	}
	return t
}
