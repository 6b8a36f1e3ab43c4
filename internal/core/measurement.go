package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultResult is the result name used when a reporter publishes a single value.
	DefaultResult = "Result"
	// WarmUpTag marks a run, and the measurements it produces, as warming up.
	WarmUpTag = "warm-up"
	// FailuresResult counts failed iterations in a measurement.
	FailuresResult = "failures"
)

// Quantity is a number with a unit.
type Quantity struct {
	Number float64
	Unit   string
}

func (q Quantity) String() string {
	return fmt.Sprintf("%v %s", q.Number, q.Unit)
}

// MeasurementUnit records the timing of one iteration. All sends of the
// iteration, including repeated ones, accumulate into the same unit.
type MeasurementUnit struct {
	mu        sync.Mutex
	iteration int64
	clock     Clock

	enqueued  time.Time
	started   time.Time
	measuring time.Time
	last      time.Duration
	total     time.Duration
	results   map[string]any
	failure   error
}

// NewMeasurementUnit creates a unit for the given iteration, stamped as enqueued now.
func NewMeasurementUnit(iteration int64, clock Clock) *MeasurementUnit {
	if clock == nil {
		clock = RealClock{}
	}
	return &MeasurementUnit{
		iteration: iteration,
		clock:     clock,
		enqueued:  clock.Now(),
		results:   make(map[string]any),
	}
}

func (u *MeasurementUnit) Iteration() int64 {
	return u.iteration
}

// StartMeasure begins timing a send.
func (u *MeasurementUnit) StartMeasure() {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := u.clock.Now()
	if u.started.IsZero() {
		u.started = now
	}
	u.measuring = now
}

// StopMeasure ends timing a send and adds it to the total.
func (u *MeasurementUnit) StopMeasure() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.measuring.IsZero() {
		return
	}
	u.last = u.clock.Since(u.measuring)
	u.total += u.last
	u.measuring = time.Time{}
}

// IsMeasuring reports whether a send is currently being timed.
func (u *MeasurementUnit) IsMeasuring() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.measuring.IsZero()
}

// LastTime is the duration of the most recent send.
func (u *MeasurementUnit) LastTime() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

// TotalTime is the sum of all send durations of this iteration.
func (u *MeasurementUnit) TotalTime() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// ServiceTime is the time from enqueue until the first send began.
func (u *MeasurementUnit) ServiceTime() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started.IsZero() {
		return 0
	}
	return u.started.Sub(u.enqueued)
}

// TimeStarted is when the first send began, or zero.
func (u *MeasurementUnit) TimeStarted() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started
}

// StartedAfter reports whether the first send began at or after t.
// Units created before a reset must not count towards the new run.
func (u *MeasurementUnit) StartedAfter(t time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started.IsZero() {
		return !u.enqueued.Before(t)
	}
	return !u.started.Before(t)
}

// AppendResult stores an extra named result for reporters.
func (u *MeasurementUnit) AppendResult(name string, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results[name] = value
}

// Results returns a copy of the named results.
func (u *MeasurementUnit) Results() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]any, len(u.results))
	for k, v := range u.results {
		out[k] = v
	}
	return out
}

// SetFailure marks the iteration as failed. The first failure wins.
func (u *MeasurementUnit) SetFailure(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failure == nil {
		u.failure = err
	}
}

func (u *MeasurementUnit) Failure() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failure
}

func (u *MeasurementUnit) Failed() bool {
	return u.Failure() != nil
}

// Measurement is the snapshot handed to destinations.
type Measurement struct {
	Percentage int
	Time       time.Duration
	Iteration  int64

	names   []string
	results map[string]any
}

// NewMeasurement creates an empty snapshot.
func NewMeasurement(percentage int, elapsed time.Duration, iteration int64) *Measurement {
	return &Measurement{
		Percentage: percentage,
		Time:       elapsed,
		Iteration:  iteration,
		results:    make(map[string]any),
	}
}

// Set stores a named result, keeping first-insertion order.
func (m *Measurement) Set(name string, value any) {
	if _, ok := m.results[name]; !ok {
		m.names = append(m.names, name)
	}
	m.results[name] = value
}

// SetResult stores the default result.
func (m *Measurement) SetResult(value any) {
	m.Set(DefaultResult, value)
}

func (m *Measurement) Get(name string) (any, bool) {
	v, ok := m.results[name]
	return v, ok
}

// Result returns the default result or nil.
func (m *Measurement) Result() any {
	return m.results[DefaultResult]
}

// Names lists result names in insertion order.
func (m *Measurement) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// String renders "[HH:MM:SS][N iterations][P%] [result] [name => value]...".
// Iterations are shown one-based.
func (m *Measurement) String() string {
	var sb strings.Builder
	secs := int64(m.Time / time.Second)
	fmt.Fprintf(&sb, "[%d:%02d:%02d][%d iterations][%d%%]", secs/3600, secs%3600/60, secs%60, m.Iteration+1, m.Percentage)
	if v, ok := m.results[DefaultResult]; ok {
		fmt.Fprintf(&sb, " [%v]", v)
	}
	for _, name := range m.names {
		if name == DefaultResult {
			continue
		}
		fmt.Fprintf(&sb, " [%s => %v]", name, m.results[name])
	}
	return sb.String()
}
