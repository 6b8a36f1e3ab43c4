// Package config handles YAML scenario parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"metronome/internal/collector"
	"metronome/internal/core"
)

// Defaults applied by Normalize.
const (
	DefaultTransport  = "dummy"
	DefaultCorrelator = "header"
	ShutdownAuto      = "auto"
)

// Config is the root of a scenario file.
type Config struct {
	Run        string                `yaml:"run"`
	Generator  GeneratorConfig       `yaml:"generator"`
	Transport  TransportConfig       `yaml:"transport"`
	Messages   []MessageConfig       `yaml:"messages"`
	Sequences  []SequenceConfig      `yaml:"sequences,omitempty"`
	Correlator *CorrelatorConfig     `yaml:"correlator,omitempty"`
	Validation map[string]string     `yaml:"validation,omitempty"` // JSONPath -> expected value
	Reporters  []ReporterConfig      `yaml:"reporters,omitempty"`
	Thresholds *collector.Thresholds `yaml:"thresholds,omitempty"`

	// BaseDir resolves relative file references. LoadConfig sets it to the
	// directory of the scenario file.
	BaseDir string `yaml:"-"`

	duration core.Period
	shutdown time.Duration
}

// GeneratorConfig controls dispatch.
type GeneratorConfig struct {
	Threads        int            `yaml:"threads"`
	Speed          float64        `yaml:"speed"`
	FailFast       bool           `yaml:"failFast"`
	ShutdownPeriod string         `yaml:"shutdownPeriod"`
	Profile        *ProfileConfig `yaml:"profile,omitempty"`
}

// ProfileConfig is a (threads, speed) table given as CSV, inline entries or
// load phases. Exactly one source must be set.
type ProfileConfig struct {
	AutoReplay bool          `yaml:"autoReplay"`
	CSV        string        `yaml:"csv,omitempty"`
	Entries    []EntryConfig `yaml:"entries,omitempty"`
	Phases     []Phase       `yaml:"phases,omitempty"`
}

// EntryConfig is one profile row. At is in iterations or milliseconds,
// matching the run duration.
type EntryConfig struct {
	At      int64   `yaml:"at"`
	Threads int     `yaml:"threads"`
	Speed   float64 `yaml:"speed"`
}

// TotalDuration returns the sum of all phase durations.
func (p *ProfileConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, ph := range p.Phases {
		total += ph.Duration
	}
	return total
}

// Phase represents a single phase in the load profile.
type Phase struct {
	Name        string        `yaml:"name"`
	Duration    time.Duration `yaml:"duration"`
	Actors      int           `yaml:"actors"`
	StartActors int           `yaml:"startActors"`
	EndActors   int           `yaml:"endActors"`
	RPS         int           `yaml:"rps"`
}

// TransportConfig selects a transport by registry name.
type TransportConfig struct {
	Type       string          `yaml:"type"`
	PoolSize   int             `yaml:"poolSize"`
	Properties core.Properties `yaml:"properties,omitempty"`
}

// MessageConfig is a message template. Payload and File are exclusive.
type MessageConfig struct {
	Name         string            `yaml:"name"`
	Payload      string            `yaml:"payload"`
	File         string            `yaml:"file,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Multiplicity int               `yaml:"multiplicity"`
}

// SequenceConfig declares a per-iteration variable.
type SequenceConfig struct {
	Name       string          `yaml:"name"`
	Type       string          `yaml:"type"`
	Properties core.Properties `yaml:"properties,omitempty"`
}

// CorrelatorConfig selects how replies are matched to requests.
type CorrelatorConfig struct {
	Type         string        `yaml:"type"`
	Header       string        `yaml:"header,omitempty"`
	Boundary     string        `yaml:"boundary,omitempty"`
	RequestPath  string        `yaml:"requestPath,omitempty"`
	ResponsePath string        `yaml:"responsePath,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ReporterConfig instantiates a reporter and binds its destinations.
type ReporterConfig struct {
	Type         string              `yaml:"type"`
	Properties   core.Properties     `yaml:"properties,omitempty"`
	Destinations []DestinationConfig `yaml:"destinations,omitempty"`
}

// DestinationConfig is one destination with the periods it publishes on.
type DestinationConfig struct {
	Type       string          `yaml:"type"`
	Periods    []string        `yaml:"periods"`
	Properties core.Properties `yaml:"properties,omitempty"`
}

// LoadConfig reads, parses and validates a scenario file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty config", core.ErrConfig)
		}
		return nil, fmt.Errorf("%w: parsing config file: %v", core.ErrConfig, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseString is Parse for inline scenarios.
func ParseString(s string) (*Config, error) {
	return Parse(bytes.NewBufferString(s))
}

// Normalize fills defaults and validates the whole scenario, reporting every
// problem at once.
func (c *Config) Normalize() error {
	var result *multierror.Error

	profile := c.Generator.Profile
	if c.Run == "" && profile != nil && len(profile.Phases) > 0 {
		c.Run = profile.TotalDuration().String()
	}
	d, err := core.ParseRunDuration(c.Run)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("run: %w", err))
	}
	c.duration = d

	result = multierror.Append(result, c.normalizeGenerator()...)

	if c.Transport.Type == "" {
		c.Transport.Type = DefaultTransport
	}
	if c.Transport.PoolSize < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: transport.poolSize must not be negative", core.ErrConfig))
	}
	if c.Transport.PoolSize == 0 {
		c.Transport.PoolSize = c.MaxThreads()
	}

	for i := range c.Messages {
		m := &c.Messages[i]
		if m.Name == "" {
			m.Name = fmt.Sprintf("message-%d", i+1)
		}
		if m.Payload != "" && m.File != "" {
			result = multierror.Append(result, fmt.Errorf("%w: message %q sets both payload and file", core.ErrConfig, m.Name))
		}
		if m.Multiplicity < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: message %q multiplicity must not be negative", core.ErrConfig, m.Name))
		}
	}

	seen := make(map[string]bool, len(c.Sequences))
	for i, s := range c.Sequences {
		switch {
		case s.Name == "":
			result = multierror.Append(result, fmt.Errorf("%w: sequences[%d] needs a name", core.ErrConfig, i))
		case seen[s.Name]:
			result = multierror.Append(result, fmt.Errorf("%w: duplicate sequence %q", core.ErrConfig, s.Name))
		case s.Type == "":
			result = multierror.Append(result, fmt.Errorf("%w: sequence %q needs a type", core.ErrConfig, s.Name))
		}
		seen[s.Name] = true
	}

	if cc := c.Correlator; cc != nil {
		if cc.Type == "" {
			cc.Type = DefaultCorrelator
		}
		switch cc.Type {
		case "header", "prefix":
		case "json":
			if cc.RequestPath == "" {
				result = multierror.Append(result, fmt.Errorf("%w: json correlator needs requestPath", core.ErrConfig))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("%w: unknown correlator %q (known: header, prefix, json)", core.ErrConfig, cc.Type))
		}
		if cc.Timeout < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: correlator timeout must not be negative", core.ErrConfig))
		}
		if c.Transport.Type == "mqtt" {
			if cc.Type == "header" {
				result = multierror.Append(result, fmt.Errorf("%w: mqtt replies carry no headers, use the prefix or json correlator", core.ErrConfig))
			}
			if c.Transport.Properties.String("responseTopic", "") == "" {
				result = multierror.Append(result, fmt.Errorf("%w: correlating mqtt replies needs transport.properties.responseTopic", core.ErrConfig))
			}
		}
	}

	for i, r := range c.Reporters {
		if r.Type == "" {
			result = multierror.Append(result, fmt.Errorf("%w: reporters[%d] needs a type", core.ErrConfig, i))
		}
		for j, dc := range r.Destinations {
			if dc.Type == "" {
				result = multierror.Append(result, fmt.Errorf("%w: reporters[%d].destinations[%d] needs a type", core.ErrConfig, i, j))
			}
			if len(dc.Periods) == 0 {
				result = multierror.Append(result, fmt.Errorf("%w: reporters[%d].destinations[%d] needs at least one period", core.ErrConfig, i, j))
			}
			for _, p := range dc.Periods {
				if _, err := core.ParsePeriod(p); err != nil {
					result = multierror.Append(result, fmt.Errorf("reporters[%d].destinations[%d]: %w", i, j, err))
				}
			}
		}
	}

	if err := c.Thresholds.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c *Config) normalizeGenerator() []error {
	var errs []error
	g := &c.Generator
	if g.Threads < 0 {
		errs = append(errs, fmt.Errorf("%w: generator.threads must not be negative", core.ErrConfig))
	}
	if g.Threads == 0 && g.Profile == nil {
		g.Threads = 1
	}
	if g.Speed < 0 {
		errs = append(errs, fmt.Errorf("%w: generator.speed must not be negative", core.ErrConfig))
	}

	switch s := strings.TrimSpace(g.ShutdownPeriod); s {
	case "", ShutdownAuto:
		c.shutdown = 0
	default:
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%w: generator.shutdownPeriod %q must be a positive duration or %q", core.ErrConfig, s, ShutdownAuto))
		}
		c.shutdown = d
	}

	if p := g.Profile; p != nil {
		sources := 0
		for _, set := range []bool{p.CSV != "", len(p.Entries) > 0, len(p.Phases) > 0} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			errs = append(errs, fmt.Errorf("%w: generator.profile needs exactly one of csv, entries or phases", core.ErrConfig))
		}
		if len(p.Phases) > 0 && c.duration.Type == core.PeriodIteration {
			errs = append(errs, fmt.Errorf("%w: load phases need a time-based run", core.ErrConfig))
		}
	}
	return errs
}

// Duration returns the parsed run duration.
func (c *Config) Duration() core.Period { return c.duration }

// ShutdownPeriod returns the configured shutdown period, zero for auto.
func (c *Config) ShutdownPeriod() time.Duration { return c.shutdown }

// MaxThreads returns the largest slot count the scenario may use.
func (c *Config) MaxThreads() int {
	n := c.Generator.Threads
	if p := c.Generator.Profile; p != nil {
		for _, e := range p.Entries {
			if e.Threads > n {
				n = e.Threads
			}
		}
		for _, ph := range p.Phases {
			for _, v := range []int{ph.Actors, ph.StartActors, ph.EndActors} {
				if v > n {
					n = v
				}
			}
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Resolve makes path relative to BaseDir unless it is absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.BaseDir == "" {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}
