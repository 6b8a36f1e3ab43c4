package accumulator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync/atomic"

	"metronome/internal/core"
)

// Range is the half-open interval [Min, Max).
type Range struct {
	Min float64
	Max float64
}

// NewRange validates that min < max.
func NewRange(min, max float64) (Range, error) {
	if !(min < max) {
		return Range{}, fmt.Errorf("%w: range minimum %v must be lower than maximum %v", core.ErrConfig, min, max)
	}
	return Range{Min: min, Max: max}, nil
}

// Contains reports whether v lies in [Min, Max).
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v < r.Max
}

func (r Range) String() string {
	return "<" + formatBound(r.Min) + ":" + formatBound(r.Max) + ")"
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// Histogram counts samples into ordered, disjoint ranges built from interior
// dividers. N dividers give N+1 ranges: [min,d0), [d0,d1), ..., [dN-1,max].
// The last range also holds max itself so that every value in [min,max]
// matches exactly one range.
type Histogram struct {
	min      float64
	max      float64
	dividers []float64
	ranges   []Range
	counts   []atomic.Int64
	outside  atomic.Int64
}

// NewHistogram builds a histogram bounded by -Inf and +Inf.
func NewHistogram(dividers []float64) (*Histogram, error) {
	return NewBoundedHistogram(dividers, math.Inf(-1), math.Inf(1))
}

// NewBoundedHistogram builds a histogram over [min, max]. Dividers must be
// strictly increasing and lie strictly inside the bounds.
func NewBoundedHistogram(dividers []float64, min, max float64) (*Histogram, error) {
	if !(min < max) {
		return nil, fmt.Errorf("%w: histogram minimum %v must be lower than maximum %v", core.ErrConfig, min, max)
	}
	ds := append([]float64(nil), dividers...)
	if !sort.Float64sAreSorted(ds) {
		return nil, fmt.Errorf("%w: histogram dividers must be sorted: %v", core.ErrConfig, dividers)
	}
	bounds := make([]float64, 0, len(ds)+2)
	bounds = append(bounds, min)
	bounds = append(bounds, ds...)
	bounds = append(bounds, max)

	ranges := make([]Range, 0, len(ds)+1)
	for i := 0; i < len(bounds)-1; i++ {
		r, err := NewRange(bounds[i], bounds[i+1])
		if err != nil {
			return nil, fmt.Errorf("histogram divider %d: %w", i, err)
		}
		ranges = append(ranges, r)
	}
	return &Histogram{
		min:      min,
		max:      max,
		dividers: ds,
		ranges:   ranges,
		counts:   make([]atomic.Int64, len(ranges)),
	}, nil
}

// Add counts v in its range. Values outside [min, max] or NaN are only
// counted as outside and reported false.
func (h *Histogram) Add(v float64) bool {
	if math.IsNaN(v) || v < h.min || v > h.max {
		h.outside.Add(1)
		return false
	}
	idx := sort.Search(len(h.dividers), func(i int) bool { return h.dividers[i] > v })
	h.counts[idx].Add(1)
	return true
}

// Ranges returns the ranges in order.
func (h *Histogram) Ranges() []Range {
	return append([]Range(nil), h.ranges...)
}

// Counts returns per-range counts, in range order.
func (h *Histogram) Counts() []int64 {
	out := make([]int64, len(h.counts))
	for i := range h.counts {
		out[i] = h.counts[i].Load()
	}
	return out
}

// Count returns the number of samples that fell in some range.
func (h *Histogram) Count() int64 {
	var n int64
	for i := range h.counts {
		n += h.counts[i].Load()
	}
	return n
}

// Outside returns the number of rejected samples.
func (h *Histogram) Outside() int64 {
	return h.outside.Load()
}

// Percentages returns each range's share of counted samples, in percent.
func (h *Histogram) Percentages() map[Range]float64 {
	counts := h.Counts()
	var total int64
	for _, c := range counts {
		total += c
	}
	out := make(map[Range]float64, len(counts))
	for i, c := range counts {
		if total == 0 {
			out[h.ranges[i]] = 0
			continue
		}
		out[h.ranges[i]] = float64(c) / float64(total) * 100
	}
	return out
}

func (h *Histogram) Reset() {
	for i := range h.counts {
		h.counts[i].Store(0)
	}
	h.outside.Store(0)
}
