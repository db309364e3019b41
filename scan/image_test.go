package scan

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImageScan(t *testing.T) {
	counter := newFakeCounter(1000, 10)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: -40, Max: 40, Device: fast},
			{Name: "y", Min: -40, Max: 40, Device: slow},
		},
	})
	assert.NoError(t, err)

	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 4,
		SlowAxis: "y", SlowStart: 0, SlowStop: 2,
		FastPixels: 3, SlowPixels: 3,
		RowTime: 30 * time.Millisecond,
	})
	assert.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4}, im.Fast())
	assert.Equal(t, []float64{0, 1, 2}, im.Slow())
	assert.Equal(t, 10*time.Millisecond, im.Dwell())

	var rows []Row
	for {
		row, err := im.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		rows = append(rows, row)
	}
	assert.Len(t, rows, 3)
	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, 0.0, rows[0].SlowPos)
	assert.Equal(t, 2, rows[2].Index)
	assert.Equal(t, 2.0, rows[2].SlowPos)

	// 10 counts over 10 cycles at 1kHz is 1000cps
	assert.Equal(t, []float64{1000, 1000, 1000}, rows[1].Rates)

	assert.Equal(t, []float64{0, 1, 2}, slow.allMoves())
	assert.Equal(t, []float64{0, 2, 4, 0, 2, 4, 0, 2, 4}, fast.allMoves())

	assert.False(t, c.Busy())
	assert.Equal(t, 1, counter.starts)
	assert.Equal(t, 1, counter.stops)

	_, err = im.Read()
	assert.Equal(t, io.EOF, err)
}

func TestImageScan_Stop(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
		},
	})
	assert.NoError(t, err)

	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 2,
		SlowAxis: "y", SlowStart: 0, SlowStop: 8,
		FastPixels: 2, SlowPixels: 5,
		RowTime: 10 * time.Millisecond,
	})
	assert.NoError(t, err)

	r0, err := im.Read()
	assert.NoError(t, err)
	assert.Equal(t, 0, r0.Index)
	r1, err := im.Read()
	assert.NoError(t, err)
	assert.Equal(t, 1, r1.Index)

	c.RequestStop()

	_, err = im.Read()
	assert.Equal(t, io.EOF, err)

	// only the delivered rows were scanned, and the hardware is free
	assert.Equal(t, []float64{0, 2}, slow.allMoves())
	assert.False(t, c.Busy())
	assert.Equal(t, 1, counter.stops)

	// a new operation can start right away
	assert.NoError(t, c.SetAxis("y", 0))
}

func TestImageScan_StopDuringRow(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
		},
	})
	assert.NoError(t, err)

	// request lands while the first row is mid-scan
	fast.failMove = func(pos float64) error {
		if pos == 2 {
			c.RequestStop()
		}
		return nil
	}

	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 2,
		SlowAxis: "y", SlowStart: 0, SlowStop: 8,
		FastPixels: 2, SlowPixels: 5,
		RowTime: 10 * time.Millisecond,
	})
	assert.NoError(t, err)

	// the interrupted row is still delivered in full, and is the last
	row, err := im.Read()
	assert.NoError(t, err)
	assert.Equal(t, 0, row.Index)
	assert.Len(t, row.Rates, 2)

	_, err = im.Read()
	assert.Equal(t, io.EOF, err)
	assert.False(t, c.Busy())
	assert.Equal(t, 1, counter.stops)
}

func TestImageScan_Resume(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
		},
	})
	assert.NoError(t, err)

	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 2,
		SlowAxis: "y", SlowStart: 0, SlowStop: 3,
		FastPixels: 2, SlowPixels: 4,
		RowTime: 10 * time.Millisecond,
		StartRow: 2,
	})
	assert.NoError(t, err)

	var rows []Row
	for {
		row, err := im.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		rows = append(rows, row)
	}

	// rows keep their place on the full grid
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, 2.0, rows[0].SlowPos)
	assert.Equal(t, 3, rows[1].Index)
	assert.Equal(t, 3.0, rows[1].SlowPos)
	assert.Equal(t, []float64{2, 3}, slow.allMoves())
}

func TestImageScan_DeviceError(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{failMove: func(pos float64) error {
		if pos == 2 {
			return errors.New("stage fault")
		}
		return nil
	}}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
		},
	})
	assert.NoError(t, err)

	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 2,
		SlowAxis: "y", SlowStart: 0, SlowStop: 8,
		FastPixels: 2, SlowPixels: 5,
		RowTime: 10 * time.Millisecond,
	})
	assert.NoError(t, err)

	_, err = im.Read()
	assert.NoError(t, err)

	// second row faults; the scan cleans up before reporting
	_, err = im.Read()
	assert.EqualError(t, err, "stage fault")
	assert.False(t, c.Busy())
	assert.Equal(t, 1, counter.stops)

	_, err = im.Read()
	assert.Equal(t, io.EOF, err)
}

func TestImageScan_Validation(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
		},
	})
	assert.NoError(t, err)

	good := ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 2,
		SlowAxis: "y", SlowStart: 0, SlowStop: 2,
		FastPixels: 2, SlowPixels: 2,
		RowTime: 10 * time.Millisecond,
	}

	bad := good
	bad.FastStop = 11
	_, err = c.ScanImage(bad)
	assert.True(t, errors.Is(err, ErrInvalid))

	bad = good
	bad.SlowPixels = 0
	_, err = c.ScanImage(bad)
	assert.True(t, errors.Is(err, ErrInvalid))

	bad = good
	bad.RowTime = 0
	_, err = c.ScanImage(bad)
	assert.True(t, errors.Is(err, ErrInvalid))

	bad = good
	bad.StartRow = 2
	_, err = c.ScanImage(bad)
	assert.True(t, errors.Is(err, ErrInvalid))

	bad = good
	bad.Focus = fixedOffset{}
	bad.FocusAxis = "nope"
	_, err = c.ScanImage(bad)
	assert.True(t, errors.Is(err, ErrInvalid))

	// every rejection released the guard without touching hardware
	assert.Equal(t, 0, counter.starts)
	assert.False(t, c.Busy())

	_, err = c.ScanImage(good)
	assert.NoError(t, err)
}

type fixedOffset struct{ dz float64 }

func (f fixedOffset) OffsetZ(x, y float64) (bool, float64) { return true, f.dz }

type recordOffset struct {
	calls [][2]float64
	dz    float64
}

func (r *recordOffset) OffsetZ(x, y float64) (bool, float64) {
	r.calls = append(r.calls, [2]float64{x, y})
	return true, r.dz
}

func TestImageScan_Focus(t *testing.T) {
	counter := newFakeCounter(1000, 1)
	fast := &fakeAxis{}
	slow := &fakeAxis{}
	focus := &fakeAxis{}
	c, err := New(Config{
		Sampler: NewSampler(counter),
		Axes: []AxisConfig{
			{Name: "x", Min: 0, Max: 10, Device: fast},
			{Name: "y", Min: 0, Max: 10, Device: slow},
			{Name: "z", Min: 0, Max: 10, Device: focus},
		},
	})
	assert.NoError(t, err)
	assert.NoError(t, c.SetAxis("z", 5))

	off := &recordOffset{dz: 0.5}
	im, err := c.ScanImage(ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 4,
		SlowAxis: "y", SlowStart: 0, SlowStop: 1,
		FastPixels: 2, SlowPixels: 2,
		RowTime: 10 * time.Millisecond,
		Focus:   off, FocusAxis: "z",
	})
	assert.NoError(t, err)

	for {
		_, err = im.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
	}

	// queried at the fast midpoint of each row
	assert.Equal(t, [][2]float64{{2, 0}, {2, 1}}, off.calls)

	// offset applied on top of the focus position at scan start
	assert.Equal(t, []float64{5, 5.5, 5.5}, focus.allMoves())
}
