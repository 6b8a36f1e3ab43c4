package reporting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"metronome/internal/core"
)

// Constructor builds a reporter from properties.
type Constructor func(props core.Properties) (Reporter, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{
		"response-time":         responseTimeFromProperties,
		"throughput":            throughputFromProperties,
		"iterations-per-second": iterationsFromProperties,
		"warm-up":               warmUpFromProperties,
	}
)

// Register adds or replaces a named reporter.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = c
}

// New builds the named reporter.
func New(name string, props core.Properties) (Reporter, error) {
	registryMu.RLock()
	c, ok := constructors[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown reporter %q (known: %v)", core.ErrConfig, name, Names())
	}
	r, err := c(props)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(props) {
		if result, ok := strings.CutPrefix(key, "accumulator."); ok && result != "" {
			if err := r.base().SetAccumulator(result, props[key]); err != nil {
				return nil, fmt.Errorf("reporter %q: %w", name, err)
			}
		}
	}
	return r, nil
}

// Names lists the registered reporters.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for k := range constructors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func statsConfigFromProperties(props core.Properties) (StatsConfig, error) {
	cfg := DefaultStatsConfig()
	var err error
	if cfg.Average, err = props.Bool("averageEnabled", cfg.Average); err != nil {
		return cfg, err
	}
	if cfg.Minimum, err = props.Bool("minimumEnabled", cfg.Minimum); err != nil {
		return cfg, err
	}
	if cfg.Maximum, err = props.Bool("maximumEnabled", cfg.Maximum); err != nil {
		return cfg, err
	}
	if cfg.WindowSize, err = props.Int("windowSize", 0); err != nil {
		return cfg, err
	}
	cfg.WindowType = WindowType(props.String("windowType", string(WindowIteration)))
	cfg.HistogramPrefix = props.String("histogramPrefix", cfg.HistogramPrefix)
	if h := props.String("histogram", ""); h != "" {
		for _, part := range strings.Split(h, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return cfg, fmt.Errorf("%w: histogram divider %q", core.ErrConfig, part)
			}
			cfg.Histogram = append(cfg.Histogram, f)
		}
	}
	return cfg, nil
}

func responseTimeFromProperties(props core.Properties) (Reporter, error) {
	cfg, err := statsConfigFromProperties(props)
	if err != nil {
		return nil, err
	}
	return NewResponseTime(cfg)
}

func throughputFromProperties(props core.Properties) (Reporter, error) {
	cfg, err := statsConfigFromProperties(props)
	if err != nil {
		return nil, err
	}
	return NewThroughput(cfg)
}

func iterationsFromProperties(core.Properties) (Reporter, error) {
	return NewIterationsPerSecond(), nil
}

func warmUpFromProperties(props core.Properties) (Reporter, error) {
	cfg := DefaultWarmUpConfig()
	var err error
	if cfg.MinDuration, err = props.Duration("minimalWarmUpDuration", cfg.MinDuration); err != nil {
		return nil, err
	}
	count, err := props.Int("minimalWarmUpCount", int(cfg.MinCount))
	if err != nil {
		return nil, err
	}
	cfg.MinCount = int64(count)
	if cfg.RelativeThreshold, err = props.Float("relativeThreshold", cfg.RelativeThreshold); err != nil {
		return nil, err
	}
	if cfg.AbsoluteThreshold, err = props.Float("absoluteThreshold", cfg.AbsoluteThreshold); err != nil {
		return nil, err
	}
	if limit := props.String("maximalWarmUp", ""); limit != "" {
		if cfg.MaxPeriod, err = core.ParsePeriod(limit); err != nil {
			return nil, err
		}
	}
	return NewWarmUp(cfg)
}
