// Package reporting turns measurement units into published measurements.
// Reporters accumulate results; the Scheduler feeds them units off the
// dispatch path and decides when each destination binding is published.
package reporting

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"metronome/internal/accumulator"
	"metronome/internal/core"
	"metronome/internal/metrics"
	"metronome/internal/progress"
)

// MinTimePeriod is the shortest accepted TIME binding.
const MinTimePeriod = 500 * time.Millisecond

var (
	// ErrPeriodTooShort rejects TIME bindings below MinTimePeriod.
	ErrPeriodTooShort = fmt.Errorf("%w: time period shorter than %v", core.ErrConfig, MinTimePeriod)
	// ErrNotAttached is returned when a reporter is used before a Scheduler owns it.
	ErrNotAttached = errors.New("reporter is not attached to a scheduler")
)

// Reporter consumes measurement units and publishes measurements to its
// destinations. All reporters are built on Base.
type Reporter interface {
	Name() string
	Report(mu *core.MeasurementUnit) error
	RegisterDestination(dest core.Destination, period core.Period) error
	UnregisterDestination(dest core.Destination) error
	Bindings() []Binding
	Start() error
	Stop() error
	Reset()

	base() *Base
}

// Behavior is what a concrete reporter adds to Base.
type Behavior interface {
	// Observe inspects a unit before its results are accumulated. It may add
	// entries to results, which is this reporter's private copy.
	Observe(mu *core.MeasurementUnit, results map[string]any) error
	// Measure builds the measurement to publish. A nil measurement skips publication.
	Measure(period core.PeriodType) (*core.Measurement, error)
	// ResetState clears reporter-specific state.
	ResetState()
}

// AccumulatorChooser lets a Behavior pick the accumulator for a result key.
// Returning nil falls back to the default choice.
type AccumulatorChooser interface {
	AccumulatorFor(key string, value any) ResultAccumulator
}

// Binding ties a destination to a reporting period.
type Binding struct {
	Period      core.Period
	Destination core.Destination
}

type binding struct {
	Binding
	lastIteration atomic.Int64
}

// Base implements the publication rules shared by every reporter:
// iteration boundaries, deduplicated percentage boundaries and result
// accumulation. The TIME schedule lives in the Scheduler.
type Base struct {
	name     string
	behavior Behavior

	sched atomic.Pointer[Scheduler]

	mu        sync.Mutex
	bindings  []*binding
	destLocks map[core.Destination]*sync.Mutex
	opened    map[core.Destination]bool
	needDests bool

	reportMu       sync.Mutex
	lastPercentage int64

	iterations atomic.Int64

	accMu     sync.RWMutex
	accs      map[string]ResultAccumulator
	overrides map[string]func() ResultAccumulator
}

// NewBase creates the shared reporter state. A reporter without bindings is
// not started unless allowEmpty is set.
func NewBase(name string, behavior Behavior, allowEmpty bool) *Base {
	b := &Base{
		name:      name,
		behavior:  behavior,
		destLocks: make(map[core.Destination]*sync.Mutex),
		opened:    make(map[core.Destination]bool),
		needDests: !allowEmpty,
		accs:      make(map[string]ResultAccumulator),
	}
	b.lastPercentage = -1
	b.iterations.Store(-1)
	return b
}

func (b *Base) base() *Base { return b }

func (b *Base) Name() string { return b.name }

// Tracker returns the progress tracker of the owning scheduler, or nil.
func (b *Base) Tracker() *progress.Tracker {
	if s := b.sched.Load(); s != nil {
		return s.tracker
	}
	return nil
}

func (b *Base) scheduler() *Scheduler { return b.sched.Load() }

func (b *Base) sink() metrics.Sink {
	if s := b.sched.Load(); s != nil {
		return s.sink
	}
	return metrics.Noop{}
}

// MaxIteration is the zero-based index of the last unit counted since the
// last reset, or -1.
func (b *Base) MaxIteration() int64 {
	return b.iterations.Load()
}

// Report counts the unit, lets the behavior observe it, accumulates its
// results and publishes any iteration or percentage boundary it crossed.
func (b *Base) Report(mu *core.MeasurementUnit) error {
	tracker := b.Tracker()
	if tracker == nil {
		return ErrNotAttached
	}

	b.reportMu.Lock()
	defer b.reportMu.Unlock()

	if mu.StartedAfter(tracker.StartTime()) {
		b.iterations.Add(1)
	}
	results := mu.Results()
	if err := b.behavior.Observe(mu, results); err != nil {
		return err
	}
	b.accumulate(results)

	it := b.iterations.Load()
	b.reportIterations(it, false)
	b.reportAllPercentage(int64(math.Floor(tracker.PercentageAt(it))))
	return nil
}

func (b *Base) accumulate(results map[string]any) {
	for key, value := range results {
		b.accMu.RLock()
		acc, ok := b.accs[key]
		b.accMu.RUnlock()
		if !ok {
			acc = b.accumulatorFor(key, value)
			b.accMu.Lock()
			if existing, raced := b.accs[key]; raced {
				acc = existing
			} else {
				b.accs[key] = acc
			}
			b.accMu.Unlock()
		}
		acc.Add(value)
	}
}

// SetAccumulator makes key accumulate with the named accumulator. A name of
// the form "avg/16" selects the sliding variant over the last 16 values.
func (b *Base) SetAccumulator(key, name string) error {
	var build func() ResultAccumulator
	if base, size, ok := strings.Cut(name, "/"); ok {
		n, err := strconv.Atoi(size)
		if err != nil {
			return fmt.Errorf("%w: accumulator %q: window %q is not a number", core.ErrConfig, name, size)
		}
		if _, err := accumulator.NewSliding(base, n); err != nil {
			return err
		}
		build = func() ResultAccumulator {
			acc, _ := accumulator.NewSliding(base, n)
			return Numeric(acc)
		}
	} else {
		f, err := accumulator.Lookup(name)
		if err != nil {
			return err
		}
		build = func() ResultAccumulator { return Numeric(f()) }
	}
	b.accMu.Lock()
	defer b.accMu.Unlock()
	if b.overrides == nil {
		b.overrides = make(map[string]func() ResultAccumulator)
	}
	b.overrides[key] = build
	delete(b.accs, key)
	return nil
}

func (b *Base) accumulatorFor(key string, value any) ResultAccumulator {
	b.accMu.RLock()
	build, ok := b.overrides[key]
	b.accMu.RUnlock()
	if ok {
		return build()
	}
	if c, ok := b.behavior.(AccumulatorChooser); ok {
		if acc := c.AccumulatorFor(key, value); acc != nil {
			return acc
		}
	}
	if key == core.FailuresResult {
		return Numeric(accumulator.NewSum())
	}
	return NewLast()
}

// AccumulatedResult returns the current value for key.
func (b *Base) AccumulatedResult(key string) (any, bool) {
	b.accMu.RLock()
	acc, ok := b.accs[key]
	b.accMu.RUnlock()
	if !ok {
		return nil, false
	}
	return acc.Result(), true
}

// PublishAccumulated copies every accumulated result into m.
func (b *Base) PublishAccumulated(m *core.Measurement) {
	b.accMu.RLock()
	defer b.accMu.RUnlock()
	for _, key := range sortedKeys(b.accs) {
		m.Set(key, b.accs[key].Result())
	}
}

// NewMeasurement starts a snapshot stamped with the current progress.
func (b *Base) NewMeasurement() *core.Measurement {
	tracker := b.Tracker()
	if tracker == nil {
		return core.NewMeasurement(0, 0, b.iterations.Load())
	}
	it := b.iterations.Load()
	m := core.NewMeasurement(int(math.Round(tracker.PercentageAt(it))), tracker.RunTime(), it)
	m.Set(core.WarmUpTag, tracker.HasTag(core.WarmUpTag))
	return m
}

func (b *Base) reportIterations(it int64, final bool) {
	if it < 0 {
		return
	}
	tracker := b.Tracker()
	last := tracker.Duration().Type == core.PeriodIteration && tracker.Duration().Value == it+1
	for _, bp := range b.snapshot() {
		if bp.Period.Type != core.PeriodIteration {
			continue
		}
		due := it == 0 || (it+1)%bp.Period.Value == 0 || last
		if final {
			due = bp.lastIteration.Load() != it
		}
		if due {
			bp.lastIteration.Store(it)
			b.publish(core.PeriodIteration, bp.Destination)
		}
	}
}

// reportAllPercentage publishes every percentage between the last published
// one and p, each at most once.
func (b *Base) reportAllPercentage(p int64) {
	if p <= b.lastPercentage {
		return
	}
	for b.lastPercentage < p {
		b.lastPercentage++
		b.reportPercentage(b.lastPercentage)
	}
}

func (b *Base) reportPercentage(p int64) {
	for _, bp := range b.snapshot() {
		if bp.Period.Type != core.PeriodPercentage {
			continue
		}
		period := bp.Period.Value
		if ((p != 0 || period <= 50) && p%period == 0) || p == 100 {
			b.publish(core.PeriodPercentage, bp.Destination)
		}
	}
}

// finish publishes whatever the inline hooks have not covered yet once the
// run is over: outstanding percentages up to the final one, and the final
// iteration for iteration bindings.
func (b *Base) finish() {
	tracker := b.Tracker()
	if tracker == nil {
		return
	}
	b.reportMu.Lock()
	defer b.reportMu.Unlock()

	it := b.iterations.Load()
	b.reportIterations(it, true)
	b.reportAllPercentage(int64(math.Floor(tracker.PercentageAt(it))))
}

// PublishResult builds a measurement for period and hands it to dest.
// It does not serialize access to dest; the Scheduler does.
func (b *Base) PublishResult(period core.PeriodType, dest core.Destination) error {
	m, err := b.behavior.Measure(period)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return dest.Report(m)
}

// publish reports to dest under its lock and isolates failures.
func (b *Base) publish(period core.PeriodType, dest core.Destination) {
	if lock := b.destLock(dest); lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}
	if err := b.PublishResult(period, dest); err != nil {
		b.sink().DestinationError(destinationName(dest))
		log.WithError(err).WithFields(log.Fields{
			"reporter":    b.name,
			"destination": destinationName(dest),
			"period":      period,
		}).Warn("Unable to publish result")
		return
	}
	b.sink().Published(b.name, period)
}

func (b *Base) destLock(dest core.Destination) *sync.Mutex {
	if cs, ok := dest.(core.ConcurrentSafe); ok && cs.ConcurrentSafe() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.destLocks[dest]
	if !ok {
		lock = &sync.Mutex{}
		b.destLocks[dest] = lock
	}
	return lock
}

// RegisterDestination binds dest to period. TIME periods shorter than
// MinTimePeriod are rejected with a warning. Registering the same pair twice
// is a no-op.
func (b *Base) RegisterDestination(dest core.Destination, period core.Period) error {
	if dest == nil {
		return fmt.Errorf("%w: nil destination", core.ErrConfig)
	}
	if period.Value <= 0 {
		return fmt.Errorf("%w: reporting period must be positive, got %s", core.ErrConfig, period)
	}
	if period.Type == core.PeriodTime && period.Duration() < MinTimePeriod {
		log.WithFields(log.Fields{
			"reporter":    b.name,
			"destination": destinationName(dest),
			"period":      period,
		}).Warn("Periodical reporting with time period smaller than 500ms, ignoring this binding")
		return ErrPeriodTooShort
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bp := range b.bindings {
		if bp.Destination == dest && bp.Period == period {
			return nil
		}
	}
	bp := &binding{Binding: Binding{Period: period, Destination: dest}}
	bp.lastIteration.Store(-1)
	b.bindings = append(b.bindings, bp)
	return nil
}

// UnregisterDestination removes every binding of dest and closes it once if
// it was opened.
func (b *Base) UnregisterDestination(dest core.Destination) error {
	b.mu.Lock()
	kept := b.bindings[:0]
	found := false
	for _, bp := range b.bindings {
		if bp.Destination == dest {
			found = true
			continue
		}
		kept = append(kept, bp)
	}
	b.bindings = kept
	wasOpen := b.opened[dest]
	delete(b.opened, dest)
	b.mu.Unlock()

	if !found || !wasOpen {
		return nil
	}
	return dest.Close()
}

// Bindings lists the current bindings.
func (b *Base) Bindings() []Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Binding, len(b.bindings))
	for i, bp := range b.bindings {
		out[i] = bp.Binding
	}
	return out
}

func (b *Base) snapshot() []*binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*binding, len(b.bindings))
	copy(out, b.bindings)
	return out
}

func (b *Base) destinations() []core.Destination {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[core.Destination]bool)
	var out []core.Destination
	for _, bp := range b.bindings {
		if !seen[bp.Destination] {
			seen[bp.Destination] = true
			out = append(out, bp.Destination)
		}
	}
	return out
}

// Start resets the reporter and opens its destinations.
func (b *Base) Start() error {
	if b.Tracker() == nil {
		return ErrNotAttached
	}
	dests := b.destinations()
	if len(dests) == 0 && b.needDests {
		log.WithField("reporter", b.name).Warn("No reporting periods are configured, the reporter will not output any results")
		return nil
	}
	b.Reset()

	var result *multierror.Error
	for _, d := range dests {
		b.mu.Lock()
		already := b.opened[d]
		b.mu.Unlock()
		if already {
			continue
		}
		if err := d.Open(); err != nil {
			result = multierror.Append(result, fmt.Errorf("open %s: %w", destinationName(d), err))
			continue
		}
		b.mu.Lock()
		b.opened[d] = true
		b.mu.Unlock()
	}
	return result.ErrorOrNil()
}

// Stop closes every opened destination exactly once.
func (b *Base) Stop() error {
	b.mu.Lock()
	var toClose []core.Destination
	for _, bp := range b.bindings {
		if b.opened[bp.Destination] {
			toClose = append(toClose, bp.Destination)
			delete(b.opened, bp.Destination)
		}
	}
	b.mu.Unlock()

	var result *multierror.Error
	for _, d := range toClose {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", destinationName(d), err))
		}
	}
	return result.ErrorOrNil()
}

// Reset forgets counted iterations, published percentages and accumulated results.
func (b *Base) Reset() {
	b.reportMu.Lock()
	b.lastPercentage = -1
	b.iterations.Store(-1)
	for _, bp := range b.snapshot() {
		bp.lastIteration.Store(-1)
	}
	b.reportMu.Unlock()

	b.accMu.Lock()
	b.accs = make(map[string]ResultAccumulator)
	b.accMu.Unlock()

	b.behavior.ResetState()
}

func (b *Base) attach(s *Scheduler) {
	b.sched.Store(s)
}

func destinationName(d core.Destination) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", d)
}
