package accumulator

import (
	"sync"
	"time"

	"metronome/internal/window"
)

// TimeWindowed recomputes a statistic over the samples recorded within a time window.
// Each Result resets a scratch accumulator and replays the live window into it.
type TimeWindowed[T any] struct {
	window *window.TimeWindow[T]

	mu      sync.Mutex
	scratch Accumulator[T]
}

// NewTimeWindowed composes a window of the given length with a fresh accumulator from factory.
func NewTimeWindowed[T any](length time.Duration, factory func() Accumulator[T], opts ...window.Option) (*TimeWindowed[T], error) {
	w, err := window.New[T](length, opts...)
	if err != nil {
		return nil, err
	}
	return &TimeWindowed[T]{window: w, scratch: factory()}, nil
}

func (a *TimeWindowed[T]) Add(v T) {
	a.window.Add(v)
}

// AddAt records a sample at an explicit Unix millisecond timestamp.
func (a *TimeWindowed[T]) AddAt(v T, at int64) error {
	return a.window.AddAt(v, at)
}

func (a *TimeWindowed[T]) Result() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scratch.Reset()
	a.window.ForEach(a.scratch.Add)
	return a.scratch.Result()
}

// ResultAt is Result relative to an explicit time.
func (a *TimeWindowed[T]) ResultAt(now int64) T {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scratch.Reset()
	a.window.ForEachAt(now, a.scratch.Add)
	return a.scratch.Result()
}

func (a *TimeWindowed[T]) Reset() {
	a.window.Clear()
	a.mu.Lock()
	a.scratch.Reset()
	a.mu.Unlock()
}
