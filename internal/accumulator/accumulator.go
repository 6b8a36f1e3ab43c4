// Package accumulator provides thread-safe reducers over streams of samples.
//
// Every accumulator is safe for concurrent Add. Result and Reset may run
// concurrently with Add and observe a consistent, possibly stale, snapshot.
//
// Empty accumulators follow fixed conventions that callers rely on:
// Sum, Avg and Harmonic yield 0, Max yields -Inf and Min +Inf, sliding Min and
// Max yield NaN, and the weighted means yield NaN.
package accumulator

import (
	"math"
	"sync"
)

// Accumulator reduces a stream of values to a single result.
type Accumulator[T any] interface {
	Add(value T)
	Result() T
	Reset()
}

// Sum adds up all samples.
type Sum struct {
	mu  sync.Mutex
	sum float64
}

func NewSum() *Sum { return &Sum{} }

func (a *Sum) Add(v float64) {
	a.mu.Lock()
	a.sum += v
	a.mu.Unlock()
}

func (a *Sum) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sum
}

func (a *Sum) Reset() {
	a.mu.Lock()
	a.sum = 0
	a.mu.Unlock()
}

// Avg is the arithmetic mean.
type Avg struct {
	mu    sync.Mutex
	sum   float64
	count int64
}

func NewAvg() *Avg { return &Avg{} }

func (a *Avg) Add(v float64) {
	a.mu.Lock()
	a.sum += v
	a.count++
	a.mu.Unlock()
}

func (a *Avg) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a *Avg) Reset() {
	a.mu.Lock()
	a.sum, a.count = 0, 0
	a.mu.Unlock()
}

// Max keeps the largest sample.
type Max struct {
	mu  sync.Mutex
	max float64
}

func NewMax() *Max { return &Max{max: math.Inf(-1)} }

func (a *Max) Add(v float64) {
	a.mu.Lock()
	if v > a.max {
		a.max = v
	}
	a.mu.Unlock()
}

func (a *Max) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}

func (a *Max) Reset() {
	a.mu.Lock()
	a.max = math.Inf(-1)
	a.mu.Unlock()
}

// Min keeps the smallest sample.
type Min struct {
	mu  sync.Mutex
	min float64
}

func NewMin() *Min { return &Min{min: math.Inf(1)} }

func (a *Min) Add(v float64) {
	a.mu.Lock()
	if v < a.min {
		a.min = v
	}
	a.mu.Unlock()
}

func (a *Min) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.min
}

func (a *Min) Reset() {
	a.mu.Lock()
	a.min = math.Inf(1)
	a.mu.Unlock()
}

// Harmonic is the harmonic mean N / sum(1/x).
type Harmonic struct {
	mu     sync.Mutex
	count  int64
	invSum float64
}

func NewHarmonic() *Harmonic { return &Harmonic{} }

func (a *Harmonic) Add(v float64) {
	a.mu.Lock()
	a.count++
	a.invSum += 1 / v
	a.mu.Unlock()
}

func (a *Harmonic) Result() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0
	}
	return float64(a.count) / a.invSum
}

func (a *Harmonic) Reset() {
	a.mu.Lock()
	a.count, a.invSum = 0, 0
	a.mu.Unlock()
}

// MaxInt64 keeps the largest integer sample. Empty yields math.MinInt64.
type MaxInt64 struct {
	mu  sync.Mutex
	max int64
}

func NewMaxInt64() *MaxInt64 { return &MaxInt64{max: math.MinInt64} }

func (a *MaxInt64) Add(v int64) {
	a.mu.Lock()
	if v > a.max {
		a.max = v
	}
	a.mu.Unlock()
}

func (a *MaxInt64) Result() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}

func (a *MaxInt64) Reset() {
	a.mu.Lock()
	a.max = math.MinInt64
	a.mu.Unlock()
}

// LastValue keeps the most recently added sample. Empty yields the zero value.
type LastValue[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

func NewLastValue[T any]() *LastValue[T] { return &LastValue[T]{} }

func (a *LastValue[T]) Add(v T) {
	a.mu.Lock()
	a.value, a.set = v, true
	a.mu.Unlock()
}

func (a *LastValue[T]) Result() T {
	v, _ := a.Value()
	return v
}

// Value returns the last sample and whether one was ever added.
func (a *LastValue[T]) Value() (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.set
}

func (a *LastValue[T]) Reset() {
	a.mu.Lock()
	var zero T
	a.value, a.set = zero, false
	a.mu.Unlock()
}
