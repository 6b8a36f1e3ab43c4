package reporting

import (
	"fmt"
	"time"

	"metronome/internal/accumulator"
	"metronome/internal/core"
	"metronome/internal/window"
)

// Result keys published by statistics reporters.
const (
	Average = "Average"
	Minimum = "Minimum"
	Maximum = "Maximum"
)

// WindowType selects how a statistics window is bounded.
type WindowType string

const (
	WindowIteration WindowType = "iteration"
	WindowTime      WindowType = "time"
)

// StatsConfig configures a statistics reporter.
type StatsConfig struct {
	Average bool
	Minimum bool
	Maximum bool
	// WindowSize bounds the statistics to the last N iterations or the last
	// N milliseconds. Zero means the whole run.
	WindowSize int
	WindowType WindowType
	// Histogram dividers. Empty disables the histogram.
	Histogram       []float64
	HistogramPrefix string
}

// DefaultStatsConfig enables average, minimum and maximum over the whole run.
func DefaultStatsConfig() StatsConfig {
	return StatsConfig{
		Average:         true,
		Minimum:         true,
		Maximum:         true,
		WindowType:      WindowIteration,
		HistogramPrefix: "in",
	}
}

// Stats publishes average, minimum and maximum of a per-iteration value,
// optionally windowed, plus an optional histogram in percent.
type Stats struct {
	*Base

	cfg      StatsConfig
	unit     string
	compute  func(b *Base, mu *core.MeasurementUnit) (float64, bool)
	harmonic bool

	hist *accumulator.Histogram
}

func newStats(name, unit string, cfg StatsConfig, harmonic bool, compute func(*Base, *core.MeasurementUnit) (float64, bool)) (*Stats, error) {
	if cfg.WindowSize < 0 {
		return nil, fmt.Errorf("%w: %s window size %d", core.ErrConfig, name, cfg.WindowSize)
	}
	switch cfg.WindowType {
	case "":
		cfg.WindowType = WindowIteration
	case WindowIteration, WindowTime:
	default:
		return nil, fmt.Errorf("%w: %s window type %q", core.ErrConfig, name, cfg.WindowType)
	}
	if cfg.HistogramPrefix == "" {
		cfg.HistogramPrefix = "in"
	}
	s := &Stats{cfg: cfg, unit: unit, compute: compute, harmonic: harmonic}
	if len(cfg.Histogram) > 0 {
		h, err := accumulator.NewHistogram(cfg.Histogram)
		if err != nil {
			return nil, fmt.Errorf("%s histogram: %w", name, err)
		}
		s.hist = h
	}
	s.Base = NewBase(name, s, false)
	return s, nil
}

// NewResponseTime reports the duration of the last send of every iteration
// in milliseconds.
func NewResponseTime(cfg StatsConfig) (*Stats, error) {
	return newStats("response-time", "ms", cfg, false, func(_ *Base, mu *core.MeasurementUnit) (float64, bool) {
		return float64(mu.LastTime()) / float64(time.Millisecond), true
	})
}

// NewThroughput reports threads divided by the last response time, in
// iterations per second. Its average is a harmonic mean. Iterations with a
// zero response time are not sampled.
func NewThroughput(cfg StatsConfig) (*Stats, error) {
	return newStats("throughput", "iterations/s", cfg, true, func(b *Base, mu *core.MeasurementUnit) (float64, bool) {
		last := mu.LastTime()
		if last <= 0 {
			return 0, false
		}
		threads := 1
		if t := b.Tracker(); t != nil && t.Threads() > 0 {
			threads = t.Threads()
		}
		return float64(threads) / last.Seconds(), true
	})
}

func (s *Stats) Observe(mu *core.MeasurementUnit, results map[string]any) error {
	v, ok := s.compute(s.Base, mu)
	if !ok {
		return nil
	}
	results[core.DefaultResult] = v
	if s.cfg.Average {
		results[Average] = v
	}
	if s.cfg.Minimum {
		results[Minimum] = v
	}
	if s.cfg.Maximum {
		results[Maximum] = v
	}
	if s.hist != nil {
		s.hist.Add(v)
	}
	return nil
}

func (s *Stats) AccumulatorFor(key string, value any) ResultAccumulator {
	if _, isFloat := value.(float64); !isFloat || key == core.FailuresResult || key == core.DefaultResult {
		return nil
	}
	if s.cfg.WindowSize == 0 {
		return Numeric(s.plain(key))
	}
	if s.cfg.WindowType == WindowTime {
		length := time.Duration(s.cfg.WindowSize) * time.Millisecond
		var opts []window.Option
		if t := s.Tracker(); t != nil {
			opts = append(opts, window.WithClock(t.Clock()))
		}
		acc, err := accumulator.NewTimeWindowed(length, func() accumulator.Accumulator[float64] { return s.plain(key) }, opts...)
		if err != nil {
			return nil
		}
		return Numeric(acc)
	}
	var acc accumulator.Accumulator[float64]
	var err error
	switch {
	case key == Maximum:
		acc, err = accumulator.NewSlidingMax(s.cfg.WindowSize)
	case key == Minimum:
		acc, err = accumulator.NewSlidingMin(s.cfg.WindowSize)
	case s.harmonic && key == Average:
		acc, err = accumulator.NewSlidingHarmonic(s.cfg.WindowSize)
	default:
		acc, err = accumulator.NewSlidingAvg(s.cfg.WindowSize)
	}
	if err != nil {
		return nil
	}
	return Numeric(acc)
}

func (s *Stats) plain(key string) accumulator.Accumulator[float64] {
	switch {
	case key == Maximum:
		return accumulator.NewMax()
	case key == Minimum:
		return accumulator.NewMin()
	case s.harmonic && key == Average:
		return accumulator.NewHarmonic()
	default:
		return accumulator.NewAvg()
	}
}

func (s *Stats) Measure(core.PeriodType) (*core.Measurement, error) {
	m := s.NewMeasurement()
	s.PublishAccumulated(m)
	for _, key := range []string{core.DefaultResult, Average, Minimum, Maximum} {
		if v, ok := m.Get(key); ok {
			if f, isFloat := v.(float64); isFloat {
				m.Set(key, core.Quantity{Number: f, Unit: s.unit})
			}
		}
	}
	if s.hist != nil {
		pct := s.hist.Percentages()
		for _, r := range s.hist.Ranges() {
			m.Set(s.cfg.HistogramPrefix+r.String(), core.Quantity{Number: pct[r], Unit: "%"})
		}
	}
	return m, nil
}

func (s *Stats) ResetState() {
	if s.hist != nil {
		s.hist.Reset()
	}
}
