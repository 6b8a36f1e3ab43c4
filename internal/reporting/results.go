package reporting

import (
	"sort"
	"time"

	"metronome/internal/accumulator"
)

// ResultAccumulator reduces the values reported under one result key.
type ResultAccumulator interface {
	Add(v any)
	Result() any
	Reset()
}

type numeric struct {
	acc accumulator.Accumulator[float64]
}

// Numeric adapts a float accumulator. Values that are not numbers are ignored.
func Numeric(acc accumulator.Accumulator[float64]) ResultAccumulator {
	return numeric{acc: acc}
}

func (n numeric) Add(v any) {
	if f, ok := toFloat(v); ok {
		n.acc.Add(f)
	}
}

func (n numeric) Result() any { return n.acc.Result() }
func (n numeric) Reset()      { n.acc.Reset() }

type last struct {
	acc *accumulator.LastValue[any]
}

// NewLast keeps the most recent value of any type.
func NewLast() ResultAccumulator {
	return last{acc: accumulator.NewLastValue[any]()}
}

func (l last) Add(v any)   { l.acc.Add(v) }
func (l last) Result() any { return l.acc.Result() }
func (l last) Reset()      { l.acc.Reset() }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case time.Duration:
		return float64(n) / float64(time.Millisecond), true
	default:
		return 0, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
