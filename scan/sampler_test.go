package scan

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampler_ConfigureDwell(t *testing.T) {
	c := newFakeCounter(100, 0)
	s := NewSampler(c)

	assert.NoError(t, s.ConfigureDwell(time.Second))
	assert.Equal(t, uint64(100), s.CyclesPerBatch())
	assert.Equal(t, []uint64{100}, c.configured)

	// 2.5 cycles rounds to 3, not down to 2
	assert.NoError(t, s.ConfigureDwell(25*time.Millisecond))
	assert.Equal(t, uint64(3), s.CyclesPerBatch())

	// under one cycle
	err := s.ConfigureDwell(time.Millisecond)
	assert.True(t, errors.Is(err, ErrInvalid))

	assert.NoError(t, s.Start())
	err = s.ConfigureDwell(time.Second)
	assert.Equal(t, ErrRunning, err)
}

func TestSampler_StartStop(t *testing.T) {
	c := newFakeCounter(1000, 5)
	s := NewSampler(c)
	assert.NoError(t, s.ConfigureDwell(time.Millisecond))

	assert.NoError(t, s.Start())
	assert.NoError(t, s.Start())
	assert.Equal(t, 1, c.starts)
	assert.True(t, s.Running())

	b, err := s.SampleBatch()
	assert.NoError(t, err)
	assert.Equal(t, BatchResult{Counts: 5, Cycles: 1}, b)

	s.Stop()
	s.Stop()
	assert.Equal(t, 1, c.stops)
	assert.False(t, s.Running())

	// sampling while stopped yields zeroes, not an error
	b, err = s.SampleBatch()
	assert.NoError(t, err)
	assert.Equal(t, BatchResult{}, b)
	assert.Equal(t, 1, c.reads)
}

func TestSampler_SampleTotal(t *testing.T) {
	c := newFakeCounter(1000, 2)
	s := NewSampler(c)
	assert.NoError(t, s.ConfigureDwell(10*time.Millisecond))
	assert.NoError(t, s.Start())

	b, err := s.SampleTotal(3)
	assert.NoError(t, err)
	assert.Equal(t, BatchResult{Counts: 6, Cycles: 30}, b)
	assert.Equal(t, 3, c.reads)

	_, err = s.SampleBatches(0)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestSampler_ReadError(t *testing.T) {
	c := newFakeCounter(1000, 1)
	s := NewSampler(c)
	assert.NoError(t, s.ConfigureDwell(time.Millisecond))
	assert.NoError(t, s.Start())

	c.readErr = errors.New("device gone")
	_, err := s.SampleBatch()
	assert.EqualError(t, err, "device gone")
}

func TestBatchResult(t *testing.T) {
	b := BatchResult{Counts: 50, Cycles: 100}
	assert.Equal(t, 50.0, b.Rate(100))
	assert.Equal(t, 1.0, b.Seconds(100))
	assert.Equal(t, 0.5, b.Seconds(200))

	// an empty batch has no rate, and must not divide by zero
	assert.True(t, math.IsNaN(BatchResult{}.Rate(100)))

	tot := Total([]BatchResult{{Counts: 1, Cycles: 10}, {Counts: 2, Cycles: 30}})
	assert.Equal(t, BatchResult{Counts: 3, Cycles: 40}, tot)
}
