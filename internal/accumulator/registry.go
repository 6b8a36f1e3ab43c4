package accumulator

import (
	"fmt"
	"sort"
	"sync"

	"metronome/internal/core"
)

// Factory creates a fresh accumulator.
type Factory func() Accumulator[float64]

// SlidingFactory creates a count-bounded accumulator.
type SlidingFactory func(size int) (Accumulator[float64], error)

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{
		"sum":      func() Accumulator[float64] { return NewSum() },
		"avg":      func() Accumulator[float64] { return NewAvg() },
		"min":      func() Accumulator[float64] { return NewMin() },
		"max":      func() Accumulator[float64] { return NewMax() },
		"harmonic": func() Accumulator[float64] { return NewHarmonic() },
		"last":     func() Accumulator[float64] { return NewLastValue[float64]() },
	}
	slidingFactories = map[string]SlidingFactory{
		"avg":      func(n int) (Accumulator[float64], error) { return NewSlidingAvg(n) },
		"min":      func(n int) (Accumulator[float64], error) { return NewSlidingMin(n) },
		"max":      func(n int) (Accumulator[float64], error) { return NewSlidingMax(n) },
		"harmonic": func(n int) (Accumulator[float64], error) { return NewSlidingHarmonic(n) },
	}
)

// Register adds or replaces a named accumulator.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Lookup finds a named accumulator factory.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown accumulator %q (known: %v)", core.ErrConfig, name, names(factories))
	}
	return f, nil
}

// NewSliding creates a named count-bounded accumulator.
func NewSliding(name string, size int) (Accumulator[float64], error) {
	registryMu.RLock()
	f, ok := slidingFactories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown sliding accumulator %q (known: %v)", core.ErrConfig, name, names(slidingFactories))
	}
	return f(size)
}

// Names lists the registered accumulators.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names(factories)
}

func names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
