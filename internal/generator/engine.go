// Package generator is the dispatch engine: it runs iterations against a
// pooled transport from a bounded, dynamically sized set of worker slots.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"metronome/internal/core"
	"metronome/internal/correlator"
	"metronome/internal/metrics"
	"metronome/internal/ratelimit"
	"metronome/internal/reporting"
	"metronome/internal/sequence"
	"metronome/internal/template"
	"metronome/internal/transport"
)

const (
	// profileTick is how often the slot count and speed are reconciled with
	// the profile and the tracker is polled for the end of the run.
	profileTick = 100 * time.Millisecond

	// MinShutdownPeriod is the floor of the auto-tuned shutdown period.
	MinShutdownPeriod = 5 * time.Second

	// MessageNumberHeader carries the iteration number of every request.
	MessageNumberHeader = "Metronome-Message-Number"
)

// ErrAborted is returned by Run when fail-fast stopped the run.
var ErrAborted = errors.New("run aborted")

// Config controls dispatch.
type Config struct {
	// Threads is the number of worker slots. A profile overrides it.
	Threads int
	// Speed is the target rate in iterations per second. Zero is unthrottled.
	Speed float64
	// Profile maps run progress to (threads, speed). Optional.
	Profile *ratelimit.Profile
	// FailFast aborts the run on the first failed iteration.
	FailFast bool
	// ShutdownPeriod bounds how long in-flight iterations may take once the
	// run is over. Zero auto-tunes it from the observed latency.
	ShutdownPeriod time.Duration
	// Messages are sent in order by every iteration. Empty sends one empty message.
	Messages []*template.Message
}

// Engine dispatches iterations until the tracker stops running.
type Engine struct {
	cfg       Config
	sched     *reporting.Scheduler
	pool      *transport.Pool
	corr      *correlator.Correlator
	seqs      *sequence.Manager
	validator core.Validator
	sink      metrics.Sink
	limiter   *ratelimit.RateLimiter

	nextID      atomic.Int64
	wg          sync.WaitGroup
	activeCount atomic.Int32
	stopChans   []chan struct{}
	stopMu      sync.Mutex

	abortOnce sync.Once
	abortErr  error
	aborted   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithCorrelator waits for correlated replies of asynchronous transports.
func WithCorrelator(c *correlator.Correlator) Option {
	return func(e *Engine) { e.corr = c }
}

// WithSequences renders messages from per-iteration sequence snapshots.
func WithSequences(m *sequence.Manager) Option {
	return func(e *Engine) { e.seqs = m }
}

// WithValidator checks every (request, response) pair.
func WithValidator(v core.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithSink reports dispatch events.
func WithSink(s metrics.Sink) Option {
	return func(e *Engine) { e.sink = metrics.OrNoop(s) }
}

// New validates cfg and builds an engine feeding sched from pool.
func New(sched *reporting.Scheduler, pool *transport.Pool, cfg Config, opts ...Option) (*Engine, error) {
	if sched == nil || pool == nil {
		return nil, fmt.Errorf("%w: engine needs a scheduler and a transport pool", core.ErrConfig)
	}
	if cfg.Profile == nil && cfg.Threads <= 0 {
		return nil, fmt.Errorf("%w: thread count must be positive, got %d", core.ErrConfig, cfg.Threads)
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("%w: speed must not be negative, got %v", core.ErrConfig, cfg.Speed)
	}
	if cfg.ShutdownPeriod < 0 {
		return nil, fmt.Errorf("%w: shutdown period must not be negative", core.ErrConfig)
	}
	if len(cfg.Messages) == 0 {
		m, _ := template.NewMessage("default", "", nil, 1)
		cfg.Messages = []*template.Message{m}
	}
	e := &Engine{
		cfg:     cfg,
		sched:   sched,
		pool:    pool,
		sink:    metrics.Noop{},
		aborted: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	threads, speed := e.target()
	e.limiter = ratelimit.NewRateLimiter(speed)
	sched.Tracker().SetThreads(threads)
	return e, nil
}

// ActiveSlots returns the number of running worker slots, including stopped
// slots still finishing an iteration.
func (e *Engine) ActiveSlots() int {
	return int(e.activeCount.Load())
}

// Run dispatches until the tracker stops running, fail-fast aborts the run or
// ctx ends, then waits for in-flight iterations within the shutdown period.
// The scheduler must already be started.
func (e *Engine) Run(ctx context.Context) error {
	tracker := e.sched.Tracker()
	if !tracker.IsStarted() {
		return fmt.Errorf("%w: the run must be started before dispatching", core.ErrConfig)
	}
	// Slots do not inherit ctx: once it ends they stop cooperatively and
	// in-flight iterations get the shutdown period before being cancelled.
	slotCtx, cancelSlots := context.WithCancel(context.Background())
	defer cancelSlots()

	log.WithFields(log.Fields{
		"duration": tracker.Duration(),
		"threads":  tracker.Threads(),
		"speed":    e.limiter.Rate(),
		"profile":  e.cfg.Profile != nil,
	}).Info("Starting dispatch")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.control(gctx, slotCtx)
	})
	err := g.Wait()

	e.stopAllSlots()
	e.awaitSlots(cancelSlots)

	select {
	case <-e.aborted:
		return fmt.Errorf("%w: %w", ErrAborted, e.abortErr)
	default:
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("dispatch interrupted: %w", ctx.Err())
	}
	return nil
}

// control reconciles slots and speed with the profile until the run ends.
// Slots run on slotCtx so that they outlive the control loop during shutdown.
func (e *Engine) control(ctx, slotCtx context.Context) error {
	tracker := e.sched.Tracker()
	e.reconcile(slotCtx)

	ticker := time.NewTicker(profileTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.sched.RequestStop("dispatch interrupted")
			return nil
		case <-e.aborted:
			return nil
		case <-ticker.C:
			if !tracker.IsRunning() {
				log.Debug("The run is over, no more iterations are dispatched")
				return nil
			}
			e.reconcile(slotCtx)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	threads, speed := e.target()
	e.sched.Tracker().SetThreads(threads)
	e.limiter.SetRate(speed)

	current := e.liveSlots()
	if current < threads {
		for i := current; i < threads; i++ {
			e.spawnWithStop(ctx)
		}
	} else if current > threads {
		e.stopSlots(current - threads)
	}
	e.sink.ActiveSlots(e.ActiveSlots())
}

// target returns the desired slot count and speed at the current progress.
func (e *Engine) target() (int, float64) {
	if e.cfg.Profile == nil {
		return e.cfg.Threads, e.cfg.Speed
	}
	tracker := e.sched.Tracker()
	progress := tracker.RunTime().Milliseconds()
	if tracker.Duration().Type == core.PeriodIteration {
		progress = tracker.Iterations()
	}
	entry := e.cfg.Profile.At(progress)
	return entry.Threads, entry.Speed
}

// shutdownPeriod is the configured grace, or max(5s, 5 x runtime x threads / iterations).
func (e *Engine) shutdownPeriod() time.Duration {
	if e.cfg.ShutdownPeriod > 0 {
		return e.cfg.ShutdownPeriod
	}
	tracker := e.sched.Tracker()
	iterations := tracker.Iterations()
	if iterations <= 0 {
		return MinShutdownPeriod
	}
	threads := int64(tracker.Threads())
	if threads <= 0 {
		threads = 1
	}
	tuned := time.Duration(5 * int64(tracker.RunTime()) * threads / iterations)
	if tuned < MinShutdownPeriod {
		tuned = MinShutdownPeriod
	}
	log.WithField("shutdown_period", tuned).Debug("Shutdown period auto-tuned")
	return tuned
}

// awaitSlots waits for in-flight iterations. When the shutdown period runs
// out their context is cancelled.
func (e *Engine) awaitSlots(cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := e.shutdownPeriod()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}
	log.WithFields(log.Fields{
		"in_flight":       e.ActiveSlots(),
		"shutdown_period": grace,
	}).Warn("Iterations still running after the shutdown period, cancelling them")
	cancel()
	<-done
}

// abort records the first fail-fast error and stops the run.
func (e *Engine) abort(err error) {
	e.abortOnce.Do(func() {
		e.abortErr = err
		close(e.aborted)
		e.sched.RequestStop("fail-fast: " + err.Error())
	})
}
