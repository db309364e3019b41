package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mastercactapus/qscan/scan"
)

type metrics struct {
	scans   *prometheus.CounterVec
	rows    *prometheus.CounterVec
	errors  *prometheus.CounterVec
	samples prometheus.Counter
}

func newMetrics(c *scan.Controller, sc *scan.Scope) *metrics {
	m := &metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qscan_scans_total",
			Help: "Scans accepted by the controller, by kind.",
		}, []string{"kind"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qscan_rows_total",
			Help: "Rows and frames delivered by scans, by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qscan_scan_errors_total",
			Help: "Scans ended by a device or sampler error, by kind.",
		}, []string{"kind"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qscan_scope_samples_total",
			Help: "Samples emitted by the scope.",
		}),
	}
	prometheus.MustRegister(m.scans, m.rows, m.errors, m.samples,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qscan_busy",
			Help: "1 while an operation owns the controller.",
		}, func() float64 {
			if c.Busy() {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qscan_scope_running",
			Help: "1 while the scope is sampling.",
		}, func() float64 {
			if sc.Running() {
				return 1
			}
			return 0
		}),
	)
	return m
}
