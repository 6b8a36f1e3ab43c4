// Package progress tracks how far a run has got: iterations handed out,
// elapsed time, completion percentage and lifecycle flags.
package progress

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"metronome/internal/core"
)

const (
	unset = -1
	// stoppedBit is folded into the iteration counter so that Stop and Advance
	// agree on a single atomic word.
	stoppedBit = int64(1) << 62
)

// Tracker is the run-progress state machine. It is safe for concurrent use;
// Advance is the only operation expected on the hot path.
type Tracker struct {
	duration core.Period
	clock    core.Clock

	start atomic.Int64 // unix ms or -1
	end   atomic.Int64 // unix ms or -1
	state atomic.Int64 // iterations handed out, plus stoppedBit once stopped

	threads atomic.Int32

	lifecycle sync.Mutex

	tagsMu sync.RWMutex
	tags   map[string]struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock, for tests.
func WithClock(c core.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithThreads records the configured worker count.
func WithThreads(n int) Option {
	return func(t *Tracker) { t.threads.Store(int32(n)) }
}

// New creates a tracker for a run of the given duration.
func New(duration core.Period, opts ...Option) (*Tracker, error) {
	if duration.Type == core.PeriodPercentage {
		return nil, fmt.Errorf("%w: run duration cannot be a percentage", core.ErrConfig)
	}
	if duration.Value <= 0 {
		return nil, fmt.Errorf("%w: run duration must be positive, got %s", core.ErrConfig, duration)
	}
	t := &Tracker{
		duration: duration,
		clock:    core.RealClock{},
		tags:     make(map[string]struct{}),
	}
	t.start.Store(unset)
	t.end.Store(unset)
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Duration returns the configured run length.
func (t *Tracker) Duration() core.Period {
	return t.duration
}

// Clock returns the clock the tracker measures with.
func (t *Tracker) Clock() core.Clock {
	return t.clock
}

// Start records the start time and clears any previous end time.
func (t *Tracker) Start() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.end.Store(unset)
	t.clearStopped()
	t.start.Store(core.Millis(t.clock))
}

// Stop freezes the end time. Only the first call has an effect.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.start.Load() == unset || t.end.Load() != unset {
		return
	}
	for {
		s := t.state.Load()
		if t.state.CompareAndSwap(s, s|stoppedBit) {
			break
		}
	}
	t.end.Store(core.Millis(t.clock))
}

// Reset clears counters. A running tracker restarts its clock now; otherwise it
// returns to the not-started state. Configuration and tags are kept.
func (t *Tracker) Reset() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	running := t.IsRunning()
	t.end.Store(unset)
	t.state.Store(0)
	if running {
		t.start.Store(core.Millis(t.clock))
	} else {
		t.start.Store(unset)
	}
}

func (t *Tracker) clearStopped() {
	for {
		s := t.state.Load()
		if t.state.CompareAndSwap(s, s&^stoppedBit) {
			return
		}
	}
}

// Advance hands out the next iteration index. It returns false once the run
// is not running, which includes exhausting an iteration-bounded duration.
// Indices are strictly increasing and gap-free across all callers.
func (t *Tracker) Advance() (int64, bool) {
	if t.start.Load() == unset {
		return unset, false
	}
	for {
		s := t.state.Load()
		if s&stoppedBit != 0 {
			return unset, false
		}
		switch t.duration.Type {
		case core.PeriodIteration:
			if s >= t.duration.Value {
				return unset, false
			}
		case core.PeriodTime:
			if t.RunTime().Milliseconds() >= t.duration.Value {
				return unset, false
			}
		}
		if t.state.CompareAndSwap(s, s+1) {
			return s, true
		}
	}
}

// Iterations returns how many iterations have been handed out.
func (t *Tracker) Iterations() int64 {
	return t.state.Load() &^ stoppedBit
}

// Iteration returns the index of the last iteration handed out, or -1.
func (t *Tracker) Iteration() int64 {
	return t.Iterations() - 1
}

// StartTime returns the run start, or the zero time if not started.
func (t *Tracker) StartTime() time.Time {
	s := t.start.Load()
	if s == unset {
		return time.Time{}
	}
	return time.UnixMilli(s)
}

// RunTime returns the elapsed run time, frozen once stopped.
func (t *Tracker) RunTime() time.Duration {
	s := t.start.Load()
	if s == unset {
		return 0
	}
	e := t.end.Load()
	if e == unset {
		e = core.Millis(t.clock)
	}
	if e < s {
		return 0
	}
	return time.Duration(e-s) * time.Millisecond
}

// Percentage returns completion in [0, 100] based on the last iteration handed out.
func (t *Tracker) Percentage() float64 {
	return t.PercentageAt(t.Iteration())
}

// PercentageAt computes completion as if iteration were the last one handed out.
// Time-bounded runs ignore the iteration.
func (t *Tracker) PercentageAt(iteration int64) float64 {
	if t.start.Load() == unset {
		return 0
	}
	var done, total float64
	switch t.duration.Type {
	case core.PeriodIteration:
		done = float64(min64(iteration+1, t.duration.Value))
		total = float64(t.duration.Value)
	default:
		done = float64(min64(t.RunTime().Milliseconds(), t.duration.Value))
		total = float64(t.duration.Value)
	}
	return math.Max(0, math.Min(100, done/total*100))
}

// IsStarted reports whether the run has started and not yet been stopped.
func (t *Tracker) IsStarted() bool {
	return t.start.Load() != unset && t.end.Load() == unset
}

// IsRunning reports whether more iterations may be handed out.
func (t *Tracker) IsRunning() bool {
	return t.IsStarted() && !t.reachedEnd()
}

func (t *Tracker) reachedEnd() bool {
	switch t.duration.Type {
	case core.PeriodIteration:
		return t.Iterations() >= t.duration.Value
	default:
		return t.RunTime().Milliseconds() >= t.duration.Value
	}
}

// Threads returns the recorded worker count.
func (t *Tracker) Threads() int {
	return int(t.threads.Load())
}

// SetThreads records the worker count, for reporters.
func (t *Tracker) SetThreads(n int) {
	t.threads.Store(int32(n))
}

func (t *Tracker) AddTag(tag string) {
	t.tagsMu.Lock()
	t.tags[tag] = struct{}{}
	t.tagsMu.Unlock()
}

func (t *Tracker) RemoveTag(tag string) {
	t.tagsMu.Lock()
	delete(t.tags, tag)
	t.tagsMu.Unlock()
}

func (t *Tracker) HasTag(tag string) bool {
	t.tagsMu.RLock()
	defer t.tagsMu.RUnlock()
	_, ok := t.tags[tag]
	return ok
}

// Tags returns the tags sorted.
func (t *Tracker) Tags() []string {
	t.tagsMu.RLock()
	out := make([]string, 0, len(t.tags))
	for tag := range t.tags {
		out = append(out, tag)
	}
	t.tagsMu.RUnlock()
	sort.Strings(out)
	return out
}

func (t *Tracker) String() string {
	return fmt.Sprintf("Tracker{duration=%s, start=%d, end=%d, iteration=%d, threads=%d, tags=%v}",
		t.duration, t.start.Load(), t.end.Load(), t.Iteration(), t.Threads(), t.Tags())
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
