package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "10ms" or "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	err := value.Decode(&s)
	if err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

type Config struct {
	Counter CounterConfig `yaml:"counter"`
	Axes    []AxisConfig  `yaml:"axes"`

	// Settle is the pause between image rows.
	Settle Duration    `yaml:"settle"`
	Scope  ScopeConfig `yaml:"scope"`
}

type CounterConfig struct {
	// Backend is "sim" or "remote".
	Backend string `yaml:"backend"`

	// Clock is the counter timebase in Hz.
	Clock float64 `yaml:"clock"`

	// Rate is the simulated mean count rate, counts per second.
	Rate float64 `yaml:"rate"`

	// URL is the websocket address of the remote counter daemon.
	URL string `yaml:"url"`
}

type AxisConfig struct {
	Name string `yaml:"name"`

	// Backend is "sim" or "newport".
	Backend string  `yaml:"backend"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`

	// sim fields
	Scale  float64  `yaml:"scale"`
	Offset float64  `yaml:"offset"`
	Invert bool     `yaml:"invert"`
	Settle Duration `yaml:"settle"`

	// newport fields
	Port    string   `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
}

type ScopeConfig struct {
	// Max caps accumulated scope samples; zero keeps the engine
	// default.
	Max int `yaml:"max"`
}

// defaultConfig is a fully simulated bench, usable with no file at
// all.
func defaultConfig() *Config {
	return &Config{
		Counter: CounterConfig{Backend: "sim", Clock: 1e6, Rate: 5e5},
		Axes: []AxisConfig{
			{Name: "x", Backend: "sim", Min: 0, Max: 20, Scale: 8, Settle: Duration(5 * time.Millisecond)},
			{Name: "y", Backend: "sim", Min: 0, Max: 20, Scale: 8, Settle: Duration(5 * time.Millisecond)},
			{Name: "z", Backend: "sim", Min: 0, Max: 20, Scale: 8, Settle: Duration(5 * time.Millisecond)},
		},
	}
}

func loadConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Counter.Backend == "" {
		cfg.Counter.Backend = "sim"
	}
	if cfg.Counter.Clock == 0 {
		cfg.Counter.Clock = 1e6
	}
	switch cfg.Counter.Backend {
	case "sim":
	case "remote":
		if cfg.Counter.URL == "" {
			return nil, fmt.Errorf("%s: remote counter needs a url", path)
		}
	default:
		return nil, fmt.Errorf("%s: unknown counter backend '%s'", path, cfg.Counter.Backend)
	}

	if len(cfg.Axes) == 0 {
		return nil, fmt.Errorf("%s: no axes configured", path)
	}
	for i := range cfg.Axes {
		ax := &cfg.Axes[i]
		if ax.Name == "" {
			return nil, fmt.Errorf("%s: axis %d has no name", path, i)
		}
		if ax.Backend == "" {
			ax.Backend = "sim"
		}
		switch ax.Backend {
		case "sim":
		case "newport":
			if ax.Port == "" {
				return nil, fmt.Errorf("%s: axis '%s' needs a port", path, ax.Name)
			}
		default:
			return nil, fmt.Errorf("%s: axis '%s': unknown backend '%s'", path, ax.Name, ax.Backend)
		}
	}

	return &cfg, nil
}
