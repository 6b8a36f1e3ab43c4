package reporting

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
	"metronome/internal/metrics"
	"metronome/internal/progress"
)

// DefaultTick is how often TIME bindings are checked.
const DefaultTick = 500 * time.Millisecond

// ErrSchedulerRunning is returned when Start is called twice.
var ErrSchedulerRunning = errors.New("scheduler already running")

// Scheduler owns the reporters of a run. Measurement units are handed to a
// single worker goroutine so that reporters see them in order and the
// dispatch path never waits on a destination. A ticker goroutine publishes
// TIME bindings while the run is running.
type Scheduler struct {
	tracker *progress.Tracker
	clock   core.Clock
	sink    metrics.Sink
	tick    time.Duration
	onReset []func()

	mu        sync.RWMutex
	reporters []Reporter

	lifecycle  sync.Mutex
	running    bool
	queue      atomic.Pointer[unitQueue]
	workerDone chan struct{}
	tickerStop chan struct{}
	tickerDone chan struct{}

	resetRequested atomic.Bool
	resetLastTimes atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSink reports publications and destination failures to sink.
func WithSink(sink metrics.Sink) Option {
	return func(s *Scheduler) { s.sink = metrics.OrNoop(sink) }
}

// WithTick changes how often TIME bindings are checked.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithResetHook runs fn after every reset, e.g. when warm-up ends.
func WithResetHook(fn func()) Option {
	return func(s *Scheduler) { s.onReset = append(s.onReset, fn) }
}

// NewScheduler creates a scheduler driven by tracker.
func NewScheduler(tracker *progress.Tracker, opts ...Option) (*Scheduler, error) {
	if tracker == nil {
		return nil, fmt.Errorf("%w: scheduler needs a progress tracker", core.ErrConfig)
	}
	s := &Scheduler{
		tracker: tracker,
		clock:   tracker.Clock(),
		sink:    metrics.Noop{},
		tick:    DefaultTick,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tracker returns the progress tracker the scheduler drives.
func (s *Scheduler) Tracker() *progress.Tracker {
	return s.tracker
}

// RegisterReporter attaches r to this scheduler.
func (s *Scheduler) RegisterReporter(r Reporter) {
	log.WithField("reporter", r.Name()).Debug("Registering reporter")
	r.base().attach(s)
	s.mu.Lock()
	s.reporters = append(s.reporters, r)
	s.mu.Unlock()
}

// UnregisterReporter detaches r.
func (s *Scheduler) UnregisterReporter(r Reporter) {
	s.mu.Lock()
	for i, existing := range s.reporters {
		if existing == r {
			s.reporters = append(s.reporters[:i:i], s.reporters[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	r.base().attach(nil)
}

// Reporters lists the registered reporters.
func (s *Scheduler) Reporters() []Reporter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reporter, len(s.reporters))
	copy(out, s.reporters)
	return out
}

// NewMeasurementUnit claims the next iteration. It returns false once the run
// is no longer running.
func (s *Scheduler) NewMeasurementUnit() (*core.MeasurementUnit, bool) {
	it, ok := s.tracker.Advance()
	if !ok {
		return nil, false
	}
	return core.NewMeasurementUnit(it, s.clock), true
}

// Report queues mu for the reporters. Units arriving after Stop are dropped.
func (s *Scheduler) Report(mu *core.MeasurementUnit) {
	q := s.queue.Load()
	if q == nil || !q.push(mu) {
		log.WithField("iteration", mu.Iteration()).Debug("Rejected measurement unit, reporting is shut down")
	}
}

// Pending returns the number of queued units.
func (s *Scheduler) Pending() int {
	q := s.queue.Load()
	if q == nil {
		return 0
	}
	return q.len()
}

// Start starts the tracker, the reporters and the background goroutines.
func (s *Scheduler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	log.Debug("Starting reporting and all reporters")

	q := newUnitQueue()
	s.queue.Store(q)
	s.workerDone = make(chan struct{})
	go s.work(q, s.workerDone)

	s.tracker.Start()

	var result *multierror.Error
	for _, r := range s.Reporters() {
		if err := r.Start(); err != nil {
			result = multierror.Append(result, fmt.Errorf("reporter %s: %w", r.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		s.tracker.Stop()
		q.close()
		<-s.workerDone
		s.queue.Store(nil)
		for _, r := range s.Reporters() {
			_ = r.Stop()
		}
		return err
	}

	s.tickerStop = make(chan struct{})
	s.tickerDone = make(chan struct{})
	go s.tickLoop(s.tickerStop, s.tickerDone)
	s.running = true
	return nil
}

func (s *Scheduler) work(q *unitQueue, done chan struct{}) {
	defer close(done)
	for {
		mu, ok := q.pop()
		if !ok {
			return
		}
		if s.tracker.IsStarted() {
			for _, r := range s.Reporters() {
				if err := r.Report(mu); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"reporter":  r.Name(),
						"iteration": mu.Iteration(),
					}).Error("Error reporting a measurement unit")
				}
			}
		} else {
			log.WithField("iteration", mu.Iteration()).Debug("Skipping measurement unit, the run is not started")
		}
		if s.resetRequested.CompareAndSwap(true, false) {
			s.Reset()
		}
	}
}

func (s *Scheduler) tickLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	lastTimes := make(map[*binding]time.Time)
	for s.tracker.IsRunning() {
		if s.resetLastTimes.CompareAndSwap(true, false) {
			lastTimes = make(map[*binding]time.Time)
		}
		now := s.clock.Now()
		for _, r := range s.Reporters() {
			b := r.base()
			for _, bp := range b.snapshot() {
				if bp.Period.Type != core.PeriodTime {
					continue
				}
				last, ok := lastTimes[bp]
				if !ok {
					lastTimes[bp] = now
					continue
				}
				if now.Sub(last) > bp.Period.Duration() && s.tracker.Iteration() >= 0 {
					lastTimes[bp] = now
					b.publish(core.PeriodTime, bp.Destination)
				}
			}
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
	log.Debug("Terminating the periodic reporting goroutine")
}

// Stop ends reporting. Time-bounded runs stop the tracker first and drop
// units still queued; iteration-bounded runs let the queue drain so every
// dispatched iteration is counted. Then the final results are published and
// all destinations are closed.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running {
		return nil
	}
	log.Debug("Stopping reporting and all reporters")

	q := s.queue.Load()
	if s.tracker.Duration().Type == core.PeriodTime {
		s.tracker.Stop()
	} else {
		q.drain()
		s.tracker.Stop()
	}
	q.close()
	<-s.workerDone
	close(s.tickerStop)
	<-s.tickerDone

	s.publishFinal()

	var result *multierror.Error
	for _, r := range s.Reporters() {
		if err := r.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("reporter %s: %w", r.Name(), err))
		}
	}
	s.running = false
	return result.ErrorOrNil()
}

func (s *Scheduler) publishFinal() {
	log.Debug("Publishing final results")
	for _, r := range s.Reporters() {
		b := r.base()
		b.finish()
		for _, bp := range b.snapshot() {
			if bp.Period.Type == core.PeriodTime {
				b.publish(core.PeriodTime, bp.Destination)
			}
		}
	}
}

// Reset drops queued units, resets the tracker and every reporter, and
// restarts TIME schedules. Reporters must not call it from Report; they use
// RequestReset instead.
func (s *Scheduler) Reset() {
	q := s.queue.Load()
	dropped := 0
	if q != nil {
		dropped = q.clear()
	}
	log.WithField("dropped", dropped).Debug("Resetting reporting")

	s.tracker.Reset()
	s.resetLastTimes.Store(true)
	for _, r := range s.Reporters() {
		r.Reset()
	}
	for _, fn := range s.onReset {
		fn()
	}
}

// RequestReset asks the worker to reset once the current unit is processed.
func (s *Scheduler) RequestReset() {
	s.resetRequested.Store(true)
}

// RequestStop stops the tracker so the dispatch engine winds down.
func (s *Scheduler) RequestStop(reason string) {
	log.WithField("reason", reason).Warn("Stopping the run")
	s.tracker.Stop()
}
