// Package window keeps values that were recorded within a recent span of time.
package window

import (
	"fmt"
	"math"
	"sync"
	"time"

	"metronome/internal/core"
)

// compactThreshold is the minimum number of evicted slots before the backing
// slice is compacted.
const compactThreshold = 64

type entry[T any] struct {
	value T
	at    int64
}

// TimeWindow is an append-mostly sequence of timestamped values confined to a
// fixed length of time. Timestamps are Unix milliseconds. Entries older than
// now-length are evicted lazily on every read; an entry exactly at the horizon
// is kept.
type TimeWindow[T any] struct {
	mu      sync.Mutex
	length  int64
	entries []entry[T]
	head    int
	last    int64
	clock   core.Clock
}

// Option configures a TimeWindow.
type Option func(*options)

type options struct {
	clock core.Clock
}

// WithClock replaces the wall clock used by Add, ForEach and GC.
func WithClock(c core.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a window of the given length.
func New[T any](length time.Duration, opts ...Option) (*TimeWindow[T], error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: window length must be positive, got %v", core.ErrConfig, length)
	}
	o := options{clock: core.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &TimeWindow[T]{
		length: length.Milliseconds(),
		last:   math.MinInt64,
		clock:  o.clock,
	}, nil
}

// Length returns the window length.
func (w *TimeWindow[T]) Length() time.Duration {
	return time.Duration(w.length) * time.Millisecond
}

// Add records value at the current time.
func (w *TimeWindow[T]) Add(value T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := core.Millis(w.clock)
	if now < w.last {
		now = w.last
	}
	w.append(value, now)
}

// AddAt records value at an explicit timestamp. Timestamps must not go backwards.
func (w *TimeWindow[T]) AddAt(value T, at int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if at < w.last {
		return fmt.Errorf("%w: timestamp %d is older than last inserted %d", core.ErrConfig, at, w.last)
	}
	w.append(value, at)
	return nil
}

func (w *TimeWindow[T]) append(value T, at int64) {
	w.entries = append(w.entries, entry[T]{value: value, at: at})
	w.last = at
}

// ForEach evicts stale entries and visits the rest in insertion order.
// fn runs under the window lock and must not call back into the window.
func (w *TimeWindow[T]) ForEach(fn func(T)) {
	w.ForEachAt(core.Millis(w.clock), fn)
}

// ForEachAt is ForEach relative to an explicit time. Entries newer than now
// are skipped but not evicted.
func (w *TimeWindow[T]) ForEachAt(now int64, fn func(T)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gc(now)
	for _, e := range w.entries[w.head:] {
		if e.at > now {
			break
		}
		fn(e.value)
	}
}

// GC evicts entries older than now-length.
func (w *TimeWindow[T]) GC() {
	w.GCAt(core.Millis(w.clock))
}

// GCAt evicts entries older than now-length.
func (w *TimeWindow[T]) GCAt(now int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gc(now)
}

func (w *TimeWindow[T]) gc(now int64) {
	horizon := now - w.length
	for w.head < len(w.entries) && w.entries[w.head].at < horizon {
		var zero entry[T]
		w.entries[w.head] = zero
		w.head++
	}
	if w.head == len(w.entries) {
		w.entries = w.entries[:0]
		w.head = 0
		return
	}
	if w.head >= compactThreshold && w.head*2 >= len(w.entries) {
		n := copy(w.entries, w.entries[w.head:])
		w.entries = w.entries[:n]
		w.head = 0
	}
}

// Len returns the number of retained entries without evicting.
func (w *TimeWindow[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries) - w.head
}

// Clear drops all entries and forgets the last timestamp.
func (w *TimeWindow[T]) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.head = 0
	w.last = math.MinInt64
}
