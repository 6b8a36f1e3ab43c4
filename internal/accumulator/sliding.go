package accumulator

import (
	"fmt"
	"math"
	"sync"

	"metronome/internal/core"
)

// ring is a fixed-capacity buffer holding the most recent samples.
type ring struct {
	buf []float64
	pos int
	n   int
}

func newRing(size int) (ring, error) {
	if size <= 0 {
		return ring{}, fmt.Errorf("%w: sliding window size must be positive, got %d", core.ErrConfig, size)
	}
	return ring{buf: make([]float64, size)}, nil
}

func (r *ring) add(v float64) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) values() []float64 {
	return r.buf[:r.n]
}

func (r *ring) reset() {
	r.pos, r.n = 0, 0
}

// Sliding applies a reduction to the last N samples.
type Sliding struct {
	mu     sync.Mutex
	ring   ring
	reduce func([]float64) float64
}

func newSliding(size int, reduce func([]float64) float64) (*Sliding, error) {
	r, err := newRing(size)
	if err != nil {
		return nil, err
	}
	return &Sliding{ring: r, reduce: reduce}, nil
}

// NewSlidingAvg averages the last size samples. Empty yields 0.
func NewSlidingAvg(size int) (*Sliding, error) {
	return newSliding(size, func(vs []float64) float64 {
		if len(vs) == 0 {
			return 0
		}
		var sum float64
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	})
}

// NewSlidingHarmonic is the harmonic mean of the last size samples. Empty yields 0.
func NewSlidingHarmonic(size int) (*Sliding, error) {
	return newSliding(size, func(vs []float64) float64 {
		if len(vs) == 0 {
			return 0
		}
		var inv float64
		for _, v := range vs {
			inv += 1 / v
		}
		return float64(len(vs)) / inv
	})
}

// NewSlidingMax is the maximum of the last size samples. Empty yields NaN.
func NewSlidingMax(size int) (*Sliding, error) {
	return newSliding(size, func(vs []float64) float64 {
		if len(vs) == 0 {
			return math.NaN()
		}
		m := math.Inf(-1)
		for _, v := range vs {
			m = math.Max(m, v)
		}
		return m
	})
}

// NewSlidingMin is the minimum of the last size samples. Empty yields NaN.
func NewSlidingMin(size int) (*Sliding, error) {
	return newSliding(size, func(vs []float64) float64 {
		if len(vs) == 0 {
			return math.NaN()
		}
		m := math.Inf(1)
		for _, v := range vs {
			m = math.Min(m, v)
		}
		return m
	})
}

func (a *Sliding) Add(v float64) {
	a.mu.Lock()
	a.ring.add(v)
	a.mu.Unlock()
}

func (a *Sliding) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reduce(a.ring.values())
}

func (a *Sliding) Reset() {
	a.mu.Lock()
	a.ring.reset()
	a.mu.Unlock()
}
