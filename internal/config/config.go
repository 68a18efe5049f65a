// Package config loads heap runtime settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/heap/gc"
	"github.com/joshuapare/blockgc/internal/buf"
	"github.com/joshuapare/blockgc/internal/logger"
)

// Environment overrides.
const (
	EnvAlwaysGC = "BLOCKGC_ALWAYS_GC"
	EnvDebug    = "BLOCKGC_DEBUG"
	EnvLogAlloc = "BLOCKGC_LOG_ALLOC"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete runtime configuration.
type Config struct {
	Alloc AllocConfig `yaml:"alloc" json:"alloc"`
	GC    GCConfig    `yaml:"gc"    json:"gc"`
	Log   LogConfig   `yaml:"log"   json:"log"`
}

// AllocConfig holds allocator defaults.
type AllocConfig struct {
	BlockSize     int  `yaml:"block_size"     json:"block_size"`
	InitialBlocks int  `yaml:"initial_blocks" json:"initial_blocks"`
	Alignment     int  `yaml:"alignment"      json:"alignment"`
	MaxPages      int  `yaml:"max_pages"      json:"max_pages"`
	Debug         bool `yaml:"debug"          json:"debug"`
	NoZero        bool `yaml:"no_zero"        json:"no_zero"`
}

// GCConfig holds collector tuning.
type GCConfig struct {
	MinThreshold  int     `yaml:"min_threshold"  json:"min_threshold"`
	MaxThreshold  int     `yaml:"max_threshold"  json:"max_threshold"`
	GrowthFactor  float64 `yaml:"growth_factor"  json:"growth_factor"`
	AlwaysCollect bool    `yaml:"always_collect" json:"always_collect"`
	Debug         bool    `yaml:"debug"          json:"debug"`
	MarkerBlocks  int     `yaml:"marker_blocks"  json:"marker_blocks"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"     json:"enabled"`
	Level      string `yaml:"level"       json:"level"`
	JSON       bool   `yaml:"json"        json:"json"`
	Dir        string `yaml:"dir"         json:"dir"`
	AllocTrace bool   `yaml:"alloc_trace" json:"alloc_trace"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Alloc: AllocConfig{
			BlockSize:     32,
			InitialBlocks: alloc.DefaultInitialBlocks,
			MaxPages:      alloc.DefaultMaxPages,
		},
		GC: GCConfig{
			MinThreshold: gc.DefaultMinThreshold,
			MaxThreshold: gc.DefaultMaxThreshold,
			GrowthFactor: gc.DefaultGrowthFactor,
			MarkerBlocks: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.Merge(data); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge decodes YAML over cfg. Unknown keys are rejected.
func (c *Config) Merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv applies the environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v, ok := envBool(getenv(EnvAlwaysGC)); ok {
		c.GC.AlwaysCollect = v
	}
	if v, ok := envBool(getenv(EnvDebug)); ok {
		c.Alloc.Debug = v
		c.GC.Debug = v
	}
	if v, ok := envBool(getenv(EnvLogAlloc)); ok {
		c.Log.AllocTrace = v
	}
}

// envBool parses an override. Any non-empty value that is not a boolean
// counts as true.
func envBool(s string) (bool, bool) {
	if s == "" {
		return false, false
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v, true
	}
	return true, true
}

// Validate checks the configuration for values the runtime would reject.
func (c Config) Validate() error {
	a := c.Alloc
	switch {
	case a.BlockSize < 0:
		return fmt.Errorf("%w: alloc.block_size %d is negative", ErrInvalid, a.BlockSize)
	case a.InitialBlocks < 0:
		return fmt.Errorf("%w: alloc.initial_blocks %d is negative", ErrInvalid, a.InitialBlocks)
	case a.Alignment < 0 || (a.Alignment != 0 && !buf.IsPow2(a.Alignment)):
		return fmt.Errorf("%w: alloc.alignment %d is not a power of two", ErrInvalid, a.Alignment)
	case a.Alignment != 0 && a.BlockSize%a.Alignment != 0:
		return fmt.Errorf("%w: alloc.block_size %d is not a multiple of alignment %d",
			ErrInvalid, a.BlockSize, a.Alignment)
	case a.MaxPages < 0 || a.MaxPages > 64:
		return fmt.Errorf("%w: alloc.max_pages %d outside 0..64", ErrInvalid, a.MaxPages)
	}

	g := c.GC
	switch {
	case g.MinThreshold < 0:
		return fmt.Errorf("%w: gc.min_threshold %d is negative", ErrInvalid, g.MinThreshold)
	case g.MaxThreshold != 0 && g.MaxThreshold < g.MinThreshold:
		return fmt.Errorf("%w: gc.max_threshold %d below min_threshold %d",
			ErrInvalid, g.MaxThreshold, g.MinThreshold)
	case g.GrowthFactor < 0:
		return fmt.Errorf("%w: gc.growth_factor %g is negative", ErrInvalid, g.GrowthFactor)
	case g.MarkerBlocks < 0:
		return fmt.Errorf("%w: gc.marker_blocks %d is negative", ErrInvalid, g.MarkerBlocks)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return l, nil
}

// AllocOptions returns allocator options named name.
func (c Config) AllocOptions(name string) alloc.Options {
	return alloc.Options{
		Name:          name,
		BlockSize:     c.Alloc.BlockSize,
		InitialBlocks: c.Alloc.InitialBlocks,
		Alignment:     c.Alloc.Alignment,
		MaxPages:      c.Alloc.MaxPages,
		Debug:         c.Alloc.Debug,
		NoZero:        c.Alloc.NoZero,
	}
}

// GCOptions returns collector options. Lock and Evaluators are left to the
// caller.
func (c Config) GCOptions() gc.Options {
	return gc.Options{
		MinThreshold:  c.GC.MinThreshold,
		MaxThreshold:  c.GC.MaxThreshold,
		GrowthFactor:  c.GC.GrowthFactor,
		AlwaysCollect: c.GC.AlwaysCollect,
		Debug:         c.GC.Debug,
		MarkerBlocks:  c.GC.MarkerBlocks,
	}
}

// LoggerOptions returns logger options. Output goes to Log.Dir when set.
func (c Config) LoggerOptions() (logger.Options, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return logger.Options{}, err
	}
	return logger.Options{
		Enabled: c.Log.Enabled,
		LogDir:  c.Log.Dir,
		Level:   level,
		JSON:    c.Log.JSON,
	}, nil
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
