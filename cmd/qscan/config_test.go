package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "qscan.yml")
	err := os.WriteFile(name, []byte(body), 0644)
	assert.NoError(t, err)
	return name
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := loadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, "sim", cfg.Counter.Backend)
	assert.Equal(t, 1e6, cfg.Counter.Clock)
	assert.Len(t, cfg.Axes, 3)
}

func TestLoadConfig(t *testing.T) {
	name := writeConfig(t, `
counter:
  backend: remote
  url: ws://counter:9090/ws
  clock: 2.5e7
settle: 20ms
scope:
  max: 5000
axes:
  - name: x
    min: -40
    max: 40
    scale: 8
    offset: 1
    invert: true
    settle: 5ms
  - name: stage
    backend: newport
    min: 0
    max: 25000
    port: /dev/ttyUSB0
    timeout: 30s
`)

	cfg, err := loadConfig(name)
	assert.NoError(t, err)
	assert.Equal(t, "remote", cfg.Counter.Backend)
	assert.Equal(t, "ws://counter:9090/ws", cfg.Counter.URL)
	assert.Equal(t, 2.5e7, cfg.Counter.Clock)
	assert.Equal(t, Duration(20*time.Millisecond), cfg.Settle)
	assert.Equal(t, 5000, cfg.Scope.Max)

	// backend defaults to sim per axis
	assert.Equal(t, "sim", cfg.Axes[0].Backend)
	assert.True(t, cfg.Axes[0].Invert)
	assert.Equal(t, Duration(5*time.Millisecond), cfg.Axes[0].Settle)

	assert.Equal(t, "newport", cfg.Axes[1].Backend)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Axes[1].Port)
	assert.Equal(t, Duration(30*time.Second), cfg.Axes[1].Timeout)
}

func TestLoadConfig_Validation(t *testing.T) {
	// remote counter without a url
	_, err := loadConfig(writeConfig(t, "counter: {backend: remote}\naxes: [{name: x}]"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "counter: {backend: nidaq}\naxes: [{name: x}]"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "axes: []"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "axes: [{min: 0, max: 1}]"))
	assert.Error(t, err)

	// newport axis without a port
	_, err = loadConfig(writeConfig(t, "axes: [{name: s, backend: newport}]"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "settle: fast\naxes: [{name: x}]"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
