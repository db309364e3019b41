package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastercactapus/qscan/coord"
	"github.com/mastercactapus/qscan/focus"
	"github.com/mastercactapus/qscan/scan"
	"github.com/mastercactapus/qscan/sweep"
)

type api struct {
	http.Handler
	c       *scan.Controller
	scope   *scan.Scope
	dataDir string
	sse     *sse.Server
	metrics *metrics

	mx    sync.Mutex
	focus *focus.Map
}

func newAPI(c *scan.Controller, scope *scan.Scope, dir string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		c:       c,
		scope:   scope,
		dataDir: dir,
		metrics: newMetrics(c, scope),
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	fs := http.FileServer(http.Dir(dir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/position", a.position).Methods("GET")
	r.HandleFunc("/api/axis/{name}", a.moveAxis).Methods("POST")
	r.HandleFunc("/api/scan/line", a.scanLine).Methods("POST")
	r.HandleFunc("/api/scan/image", a.scanImage).Methods("POST")
	r.HandleFunc("/api/scan/sweep", a.scanSweep).Methods("POST")
	r.HandleFunc("/api/stop", a.stop).Methods("POST")
	r.HandleFunc("/api/scope/start", a.scopeStart).Methods("POST")
	r.HandleFunc("/api/scope/stop", a.scopeStop).Methods("POST")
	r.HandleFunc("/api/scope/reset", a.scopeReset).Methods("POST")
	r.HandleFunc("/api/scope/data", a.scopeData).Methods("GET")
	r.HandleFunc("/api/focus", a.setFocus).Methods("POST")
	r.HandleFunc("/api/focus", a.clearFocus).Methods("DELETE")
	r.PathPrefix("/events/").Handler(a.sse)
	r.Handle("/metrics", promhttp.Handler())

	go a.watchState()
	go a.watchScope()

	return a
}

func (a *api) watchState() {
	for st := range a.c.State() {
		a.sendEvent("/events/state", st)
	}
}

func (a *api) watchScope() {
	for smp := range a.scope.C() {
		a.metrics.samples.Inc()
		a.sendEvent("/events/scope", smp)
	}
}

func (a *api) sendEvent(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}

// errCode maps engine errors onto HTTP statuses.
func errCode(err error) int {
	switch {
	case errors.Is(err, scan.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrBusy), errors.Is(err, scan.ErrRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *api) respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	a.respond(w, a.c.Status())
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	a.respond(w, a.c.Position())
}

func (a *api) moveAxis(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	posStr, stepStr := req.FormValue("position"), req.FormValue("step")
	if (posStr == "") == (stepStr == "") {
		http.Error(w, "need exactly one of position or step", http.StatusBadRequest)
		return
	}
	arg := posStr
	if arg == "" {
		arg = stepStr
	}
	val, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if posStr != "" {
		err = a.c.SetAxis(name, val)
	} else {
		err = a.c.StepAxis(name, val)
	}
	if err != nil {
		log.Printf("ERROR: move '%s': %+v", name, err)
		http.Error(w, err.Error(), errCode(err))
		return
	}
	a.respond(w, a.c.Position())
}

func (a *api) scanLine(w http.ResponseWriter, req *http.Request) {
	if a.scope.Running() {
		http.Error(w, "scope is sampling", http.StatusConflict)
		return
	}

	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}

	var opt scan.LineOptions
	opt.Axis = req.FormValue("axis")
	opt.Start = parse("start")
	opt.Stop = parse("stop")
	opt.Pixels = int(parse("pixels"))
	opt.Time = seconds(parse("time"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	line, err := a.c.ScanLine(opt)
	if err != nil {
		a.metrics.errors.WithLabelValues("line").Inc()
		log.Printf("ERROR: line scan: %+v", err)
		http.Error(w, err.Error(), errCode(err))
		return
	}
	a.metrics.scans.WithLabelValues("line").Inc()
	a.metrics.rows.WithLabelValues("line").Inc()
	a.sendEvent("/events/rows", line)
	a.respond(w, line)
}

type imageRecord struct {
	Kind       string     `json:"kind"`
	Started    time.Time  `json:"started"`
	FastAxis   string     `json:"fast_axis"`
	SlowAxis   string     `json:"slow_axis"`
	Fast       []float64  `json:"fast"`
	Slow       []float64  `json:"slow"`
	DwellSec   float64    `json:"dwell_seconds"`
	StartRow   int        `json:"start_row"`
	FocusAxis  string     `json:"focus_axis,omitempty"`
	Rows       []scan.Row `json:"rows"`
	StopReason string     `json:"stop_reason"`
}

func (a *api) scanImage(w http.ResponseWriter, req *http.Request) {
	if a.scope.Running() {
		http.Error(w, "scope is sampling", http.StatusConflict)
		return
	}

	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}

	var opt scan.ImageOptions
	opt.FastAxis = req.FormValue("fastAxis")
	opt.FastStart = parse("fastStart")
	opt.FastStop = parse("fastStop")
	opt.FastPixels = int(parse("fastPixels"))
	opt.SlowAxis = req.FormValue("slowAxis")
	opt.SlowStart = parse("slowStart")
	opt.SlowStop = parse("slowStop")
	opt.SlowPixels = int(parse("slowPixels"))
	opt.RowTime = seconds(parse("rowTime"))
	if req.FormValue("startRow") != "" {
		opt.StartRow = int(parse("startRow"))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opt.FocusAxis = req.FormValue("focusAxis")
	if opt.FocusAxis != "" {
		fm := a.focusMap()
		if fm == nil {
			http.Error(w, "no focus map installed", http.StatusBadRequest)
			return
		}
		opt.Focus = fm
	}

	img, err := a.c.ScanImage(opt)
	if err != nil {
		log.Printf("ERROR: image scan: %+v", err)
		http.Error(w, err.Error(), errCode(err))
		return
	}
	a.metrics.scans.WithLabelValues("image").Inc()

	rec := &imageRecord{
		Kind:       "image",
		Started:    img.Started(),
		FastAxis:   opt.FastAxis,
		SlowAxis:   opt.SlowAxis,
		Fast:       img.Fast(),
		Slow:       img.Slow(),
		DwellSec:   img.Dwell().Seconds(),
		StartRow:   opt.StartRow,
		FocusAxis:  opt.FocusAxis,
		Rows:       []scan.Row{},
		StopReason: "completed",
	}

	for {
		row, err := img.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.metrics.errors.WithLabelValues("image").Inc()
			log.Printf("ERROR: image scan: %+v", err)
			rec.StopReason = err.Error()
			break
		}
		rec.Rows = append(rec.Rows, row)
		a.metrics.rows.WithLabelValues("image").Inc()
		a.sendEvent("/events/rows", row)
	}
	if rec.StopReason == "completed" && len(rec.Rows) < opt.SlowPixels-opt.StartRow {
		rec.StopReason = "stopped"
	}

	a.writeRecord(w, req.FormValue("name"), "image", rec)
}

type sweepRecord struct {
	Kind       string       `json:"kind"`
	Started    time.Time    `json:"started"`
	Axis       string       `json:"axis"`
	Plan       *sweep.Plan  `json:"plan"`
	Scans      int          `json:"scans"`
	Frames     []scan.Frame `json:"frames"`
	StopReason string       `json:"stop_reason"`
}

func (a *api) scanSweep(w http.ResponseWriter, req *http.Request) {
	if a.scope.Running() {
		http.Error(w, "scope is sampling", http.StatusConflict)
		return
	}

	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}

	var po sweep.Options
	po.Min = parse("min")
	po.Max = parse("max")
	po.PixelsUp = int(parse("pixelsUp"))
	po.PixelsDown = int(parse("pixelsDown"))
	po.Subpixels = int(parse("subpixels"))
	po.TimeUp = seconds(parse("timeUp"))
	po.TimeDown = seconds(parse("timeDown"))
	scans := 1
	if req.FormValue("scans") != "" {
		scans = int(parse("scans"))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := sweep.New(po)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opt := scan.SweepOptions{Axis: req.FormValue("axis"), Plan: plan, Scans: scans}
	sw, err := a.c.ScanSweep(opt)
	if err != nil {
		log.Printf("ERROR: sweep scan: %+v", err)
		http.Error(w, err.Error(), errCode(err))
		return
	}
	a.metrics.scans.WithLabelValues("sweep").Inc()

	rec := &sweepRecord{
		Kind:       "sweep",
		Started:    sw.Started(),
		Axis:       opt.Axis,
		Plan:       plan,
		Scans:      scans,
		Frames:     []scan.Frame{},
		StopReason: "completed",
	}

	for {
		frame, err := sw.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.metrics.errors.WithLabelValues("sweep").Inc()
			log.Printf("ERROR: sweep scan: %+v", err)
			rec.StopReason = err.Error()
			break
		}
		rec.Frames = append(rec.Frames, frame)
		a.metrics.rows.WithLabelValues("sweep").Inc()
		a.sendEvent("/events/frames", frame)
	}
	if rec.StopReason == "completed" && len(rec.Frames) < scans {
		rec.StopReason = "stopped"
	}

	a.writeRecord(w, req.FormValue("name"), "sweep", rec)
}

// writeRecord encodes rec to the response and into the data directory.
// A failed file write is logged; the client still gets its data.
func (a *api) writeRecord(w http.ResponseWriter, name, kind string, rec interface{}) {
	if name == "" {
		name = fmt.Sprintf("%s-%s.json", kind, time.Now().Format("20060102-150405"))
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}

	out := io.Writer(w)
	ok, fullName := safePath(a.dataDir, name)
	if ok {
		os.MkdirAll(filepath.Dir(fullName), 0755)
		f, err := os.Create(fullName)
		if err != nil {
			log.Printf("ERROR: create '%s': %+v", fullName, err)
		} else {
			defer f.Close()
			out = io.MultiWriter(w, f)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(out).Encode(rec)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func (a *api) stop(w http.ResponseWriter, req *http.Request) {
	a.c.RequestStop()
	a.scope.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) scopeStart(w http.ResponseWriter, req *http.Request) {
	if a.c.Busy() {
		http.Error(w, "controller busy", http.StatusConflict)
		return
	}

	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}

	var opt scan.ScopeOptions
	opt.Dwell = seconds(parse("dwell"))
	opt.Rate = req.FormValue("rate") == "1"
	if req.FormValue("batches") != "" {
		opt.Batches = int(parse("batches"))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = a.scope.Start(opt)
	if err != nil {
		log.Printf("ERROR: scope start: %+v", err)
		http.Error(w, err.Error(), errCode(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) scopeStop(w http.ResponseWriter, req *http.Request) {
	a.scope.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) scopeReset(w http.ResponseWriter, req *http.Request) {
	err := a.scope.Reset()
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scopeResult struct {
	Running     bool          `json:"running"`
	MeasuredSec float64       `json:"measured_seconds"`
	Samples     []scan.Sample `json:"samples"`
}

func (a *api) scopeData(w http.ResponseWriter, req *http.Request) {
	a.respond(w, scopeResult{
		Running:     a.scope.Running(),
		MeasuredSec: a.scope.Measured().Seconds(),
		Samples:     a.scope.Samples(),
	})
}

func (a *api) focusMap() *focus.Map {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.focus
}

func (a *api) setFocus(w http.ResponseWriter, req *http.Request) {
	var points []coord.Point
	err := json.NewDecoder(req.Body).Decode(&points)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// rebase=<axis> turns absolute calibration positions into offsets
	// from that axis's current position.
	if name := req.URL.Query().Get("rebase"); name != "" {
		base, ok := a.c.Position()[name]
		if !ok {
			http.Error(w, "unknown axis '"+name+"'", http.StatusBadRequest)
			return
		}
		points = focus.OffsetFrom(base, points)
	}

	m, err := focus.NewMap(points)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	a.focus = m
	a.mx.Unlock()
	a.respond(w, points)
}

func (a *api) clearFocus(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	a.focus = nil
	a.mx.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}
