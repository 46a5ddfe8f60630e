// Package config loads the harness configuration file.
//
// Priority order, highest first:
//  1. Command-line flags that were explicitly set
//  2. The YAML file (.pocharness.yaml, or --config)
//  3. Defaults
//
// The file is decoded over the defaults, so keys it omits keep their default
// value. Unknown keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pocharness/internal/sandbox"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = ".pocharness.yaml"

// Defaults for settings that have no sandbox counterpart.
const (
	DefaultCorpus      = "poc"
	DefaultConcurrency = 4
	DefaultRepeat      = 1
)

// Config is the harness configuration.
type Config struct {
	Corpus      string `yaml:"corpus"`
	Concurrency int    `yaml:"concurrency"`
	Repeat      int    `yaml:"repeat"`

	Timeout     time.Duration `yaml:"timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
	MemoryLimit ByteSize      `yaml:"memory_limit"`
	OutputLimit ByteSize      `yaml:"output_limit"`
	StallWindow time.Duration `yaml:"stall_window"`

	WorkDir      string `yaml:"work_dir"`
	KeepWorkDirs bool   `yaml:"keep_work_dirs"`

	Build BuildConfig `yaml:"build"`

	FlakyAllowlist string `yaml:"flaky_allowlist"`
	History        string `yaml:"history"`
	HistoryWindow  int    `yaml:"history_window"`
	MetricsFile    string `yaml:"metrics_file"`
}

// BuildConfig configures the cargo builder.
type BuildConfig struct {
	Command   string        `yaml:"command"`
	Toolchain string        `yaml:"toolchain"`
	Target    string        `yaml:"target"`
	Timeout   time.Duration `yaml:"timeout"`
	LinkPath  string        `yaml:"link_path"`
	Sanitizer string        `yaml:"sanitizer"`
	RustFlags string        `yaml:"rustflags"`
}

// Default returns the built-in configuration.
func Default() *Config {
	limits := sandbox.DefaultLimits()
	return &Config{
		Corpus:      DefaultCorpus,
		Concurrency: DefaultConcurrency,
		Repeat:      DefaultRepeat,
		Timeout:     limits.Timeout,
		GracePeriod: limits.GracePeriod,
		MemoryLimit: ByteSize(limits.MemoryLimit),
		OutputLimit: ByteSize(limits.OutputLimit),
		StallWindow: limits.StallWindow,
		Build: BuildConfig{
			Command:   sandbox.DefaultBuildCommand,
			Timeout:   sandbox.DefaultBuildTimeout,
			LinkPath:  sandbox.DefaultLinkPath,
			RustFlags: sandbox.DefaultRustFlags,
		},
	}
}

// Load reads the config file at path over the defaults. An empty path means
// DefaultFile, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Repeat < 1 {
		return fmt.Errorf("repeat must be >= 1, got %d", c.Repeat)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("history_window must be >= 0, got %d", c.HistoryWindow)
	}
	if c.OutputLimit > ByteSize(maxInt) {
		return fmt.Errorf("output_limit %s is too large", c.OutputLimit)
	}
	if c.Build.Timeout <= 0 {
		return fmt.Errorf("build.timeout must be positive, got %s", c.Build.Timeout)
	}
	if c.Build.Command == "" {
		return errors.New("build.command must not be empty")
	}
	return c.Limits().Validate()
}

const maxInt = int(^uint(0) >> 1)

// Limits returns the per-case quotas.
func (c *Config) Limits() sandbox.Limits {
	l := sandbox.DefaultLimits()
	l.Timeout = c.Timeout
	l.GracePeriod = c.GracePeriod
	l.MemoryLimit = uint64(c.MemoryLimit)
	l.OutputLimit = int(c.OutputLimit)
	l.StallWindow = c.StallWindow
	return l
}

// Builder returns the cargo builder described by the build section.
func (c *Config) Builder() *sandbox.CargoBuilder {
	b := sandbox.NewCargoBuilder()
	b.Command = c.Build.Command
	b.Toolchain = c.Build.Toolchain
	b.Target = c.Build.Target
	b.Sanitizer = c.Build.Sanitizer
	b.RustFlags = c.Build.RustFlags
	b.LinkPath = c.Build.LinkPath
	b.Timeout = c.Build.Timeout
	b.OutputLimit = int(c.OutputLimit)
	return b
}
