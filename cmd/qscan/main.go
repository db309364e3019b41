package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/mastercactapus/qscan/remote"
	"github.com/mastercactapus/qscan/scan"
	"github.com/mastercactapus/qscan/scan/newport"
	"github.com/mastercactapus/qscan/scan/sim"
)

func main() {
	log.SetFlags(log.Lshortfile)

	addr := flag.String("addr", ":9091", "Address to bind the qscan server to.")
	cfgFile := flag.String("config", "", "YAML configuration file. Empty runs a simulated bench.")
	dir := flag.String("data", "./data", "Directory for scan records.")
	flag.Parse()

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		log.Fatal(err)
	}
	if *cfgFile == "" {
		log.Println("no configuration file, using simulated devices")
	}

	var counter scan.Counter
	switch cfg.Counter.Backend {
	case "sim":
		counter, err = sim.NewCounter(sim.CounterOptions{Clock: cfg.Counter.Clock, Rate: cfg.Counter.Rate})
		if err != nil {
			log.Fatal(err)
		}
	case "remote":
		counter = remote.DialCounter(cfg.Counter.URL, cfg.Counter.Clock)
	}

	axes := make([]scan.AxisConfig, 0, len(cfg.Axes))
	for _, ac := range cfg.Axes {
		var dev scan.Axis
		switch ac.Backend {
		case "sim":
			dev, err = sim.NewAxis(sim.AxisOptions{
				Min: ac.Min, Max: ac.Max,
				Scale: ac.Scale, Offset: ac.Offset, Invert: ac.Invert,
				Settle: time.Duration(ac.Settle),
			})
		case "newport":
			dev, err = newport.Open(newport.Options{
				Port: ac.Port,
				Min:  ac.Min, Max: ac.Max,
				Timeout: time.Duration(ac.Timeout),
			})
		}
		if err != nil {
			log.Fatalf("axis '%s': %v", ac.Name, err)
		}
		axes = append(axes, scan.AxisConfig{Name: ac.Name, Min: ac.Min, Max: ac.Max, Device: dev})
	}

	smp := scan.NewSampler(counter)
	ctrl, err := scan.New(scan.Config{Sampler: smp, Axes: axes, Settle: time.Duration(cfg.Settle)})
	if err != nil {
		log.Fatal(err)
	}
	scope := scan.NewScope(smp)
	if cfg.Scope.Max > 0 {
		scope.MaxSamples = cfg.Scope.Max
	}

	api := newAPI(ctrl, scope, *dir)

	log.Println("Listening on", *addr)
	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
