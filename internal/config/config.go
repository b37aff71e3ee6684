// Package config loads tree and window settings from YAML and key=value
// arguments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/viant/mtree/mtree"
	"github.com/viant/mtree/vector"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the CLI and the window.
type Config struct {
	MinCapacity int                     `yaml:"min_capacity"`
	MaxCapacity int                     `yaml:"max_capacity"`
	Split       mtree.SplitMode         `yaml:"split"`
	Distance    vector.DistanceFunction `yaml:"distance"`
	Window      int                     `yaml:"window"`
	Normalize   bool                    `yaml:"normalize"`
	LogLevel    string                  `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MinCapacity: mtree.DefaultMinCapacity,
		MaxCapacity: mtree.DefaultMaxCapacity,
		Split:       mtree.LinearHyperplane,
		Distance:    vector.DistanceFunctionEuclidean,
		Window:      1000,
		LogLevel:    "info",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply overrides settings from key=value arguments, e.g.
// "max_capacity=32" or "split=balanced". Blank arguments are skipped.
func (c *Config) Apply(args ...string) error {
	for _, raw := range args {
		a := strings.TrimSpace(raw)
		if a == "" {
			continue
		}
		key, val, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("config: argument %q is not key=value", a)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		var err error
		switch key {
		case "min_capacity", "min":
			c.MinCapacity, err = strconv.Atoi(val)
		case "max_capacity", "max":
			c.MaxCapacity, err = strconv.Atoi(val)
		case "split":
			c.Split, err = mtree.ParseSplitMode(val)
		case "distance":
			c.Distance, err = vector.ParseDistanceFunction(val)
		case "window":
			c.Window, err = strconv.Atoi(val)
		case "normalize":
			c.Normalize, err = strconv.ParseBool(val)
		case "log_level":
			c.LogLevel = val
		default:
			err = errors.New("unknown key")
		}
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	return c.Validate()
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	if err := mtree.CheckCapacity(c.MinCapacity, c.MaxCapacity); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := vector.ParseDistanceFunction(string(c.Distance)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Window < 1 {
		return fmt.Errorf("config: window %d < 1", c.Window)
	}
	return nil
}

// TreeOptions converts the settings to tree options.
func (c Config) TreeOptions() []mtree.Option {
	return []mtree.Option{
		mtree.WithCapacity(c.MinCapacity, c.MaxCapacity),
		mtree.WithSplitMode(c.Split),
	}
}
