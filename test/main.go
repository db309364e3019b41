package main

import (
	"fmt"
	"io"
	"time"

	"github.com/mastercactapus/qscan/scan"
	"github.com/mastercactapus/qscan/scan/sim"
)

func main() {
	counter, err := sim.NewCounter(sim.CounterOptions{Clock: 1e6, Rate: 5e5})
	if err != nil {
		panic(err)
	}

	newAxis := func() *sim.Axis {
		a, err := sim.NewAxis(sim.AxisOptions{Min: 0, Max: 20, Scale: 8, Settle: time.Millisecond})
		if err != nil {
			panic(err)
		}
		return a
	}

	c, err := scan.New(scan.Config{
		Sampler: scan.NewSampler(counter),
		Axes: []scan.AxisConfig{
			{Name: "x", Min: 0, Max: 20, Device: newAxis()},
			{Name: "y", Min: 0, Max: 20, Device: newAxis()},
		},
	})
	if err != nil {
		panic(err)
	}

	img, err := c.ScanImage(scan.ImageOptions{
		FastAxis: "x", FastStart: 0, FastStop: 10, FastPixels: 8,
		SlowAxis: "y", SlowStart: 0, SlowStop: 10, SlowPixels: 4,
		RowTime: 80 * time.Millisecond,
	})
	if err != nil {
		panic(err)
	}

	for {
		row, err := img.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		fmt.Printf("row %d y=%v rates=%v\n", row.Index, row.SlowPos, row.Rates)
	}
}
