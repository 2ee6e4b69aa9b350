// Package config holds the run settings of treemon: defaults, an optional
// YAML file and command-line overrides, merged in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ja7ad/treemon/pkg/system/topology"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// Interval is the sleep between two ticks, e.g. "1s" or "250ms".
	Interval time.Duration `yaml:"interval"`
	// CPUInfo is the topology source.
	CPUInfo string `yaml:"cpuinfo"`
	// TimestampFormat is a Go time layout for the Time columns.
	TimestampFormat string `yaml:"timestamp_format"`
	// DirFormat is the Go time layout of the run directory prefix.
	DirFormat string `yaml:"dir_format"`
	LogLevel  string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Interval:        time.Second,
		CPUInfo:         topology.DefaultPath,
		TimestampFormat: time.DateTime,
		DirFormat:       "2006_01_02-15_04",
		LogLevel:        "info",
	}
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	if override.Interval != 0 {
		c.Interval = override.Interval
	}
	if override.CPUInfo != "" {
		c.CPUInfo = override.CPUInfo
	}
	if override.TimestampFormat != "" {
		c.TimestampFormat = override.TimestampFormat
	}
	if override.DirFormat != "" {
		c.DirFormat = override.DirFormat
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	return c
}

// Load reads a YAML file and merges it over Default. Unknown keys are errors.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var fc Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return Default().Merge(fc), nil
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrInvalid, c.Interval)
	}
	if strings.TrimSpace(c.CPUInfo) == "" {
		return fmt.Errorf("%w: cpuinfo path is empty", ErrInvalid)
	}
	if c.TimestampFormat == "" || c.DirFormat == "" {
		return fmt.Errorf("%w: time layouts must not be empty", ErrInvalid)
	}
	if strings.ContainsRune(time.Now().Format(c.DirFormat), os.PathSeparator) {
		return fmt.Errorf("%w: dir_format %q yields a path separator", ErrInvalid, c.DirFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error", or offsets such as "info+2").
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return l, nil
}
