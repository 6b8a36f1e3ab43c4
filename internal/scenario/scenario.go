// Package scenario turns a parsed configuration into a wired run: tracker,
// reporting scheduler, reporters and destinations, transport pool,
// correlator, sequences and dispatch engine.
package scenario

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"metronome/internal/collector"
	"metronome/internal/config"
	"metronome/internal/core"
	"metronome/internal/correlator"
	"metronome/internal/destination"
	"metronome/internal/generator"
	"metronome/internal/metrics"
	"metronome/internal/progress"
	"metronome/internal/ratelimit"
	"metronome/internal/reporting"
	"metronome/internal/sequence"
	"metronome/internal/template"
	"metronome/internal/transport"
)

// Env carries process-level dependencies into Build.
type Env struct {
	// Clock drives the run. Nil means the real clock.
	Clock core.Clock
	// Stdout receives console destination output. Nil means os.Stdout.
	Stdout io.Writer
	// Registerer hosts Prometheus destinations. Nil means the default registry.
	Registerer prometheus.Registerer
	// Sinks receive engine events next to the run summary collector.
	Sinks []metrics.Sink
	// FailFast forces fail-fast on regardless of the scenario.
	FailFast bool
}

// Scenario is a fully wired run. It is used once.
type Scenario struct {
	cfg       *config.Config
	tracker   *progress.Tracker
	sched     *reporting.Scheduler
	engine    *generator.Engine
	pool      *transport.Pool
	corr      *correlator.Correlator
	seqs      *sequence.Manager
	collector *collector.Collector
}

// Result is the outcome of a run.
type Result struct {
	Metrics    *collector.Metrics
	Thresholds *collector.ThresholdResults
	// Err is the dispatch or shutdown error, nil for a clean run.
	Err error
}

// ExitCode maps the result to a process exit code.
func (r *Result) ExitCode() int {
	return collector.ExitCode(r.Err, r.Thresholds)
}

// Build wires cfg. Every component is constructed before anything runs, so a
// misconfiguration is reported before the first iteration.
func Build(ctx context.Context, cfg *config.Config, env Env) (*Scenario, error) {
	clock := env.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	stdout := env.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	s := &Scenario{cfg: cfg, collector: collector.NewCollector(clock, 0)}
	built := false
	defer func() {
		if !built {
			s.Close()
		}
	}()
	sink := append(metrics.Tee{s.collector}, env.Sinks...)

	var err error
	if s.tracker, err = progress.New(cfg.Duration(), progress.WithClock(clock)); err != nil {
		return nil, err
	}

	s.seqs = sequence.NewManager(clock)
	for _, sc := range cfg.Sequences {
		seq, err := sequence.New(sc.Type, sc.Properties, cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", sc.Name, err)
		}
		if err := s.seqs.Add(sc.Name, seq); err != nil {
			return nil, err
		}
	}

	s.sched, err = reporting.NewScheduler(s.tracker,
		reporting.WithSink(sink),
		reporting.WithResetHook(s.collector.Restart),
	)
	if err != nil {
		return nil, err
	}
	if err := s.buildReporters(destination.Env{Registerer: env.Registerer, Stdout: stdout, BaseDir: cfg.BaseDir}); err != nil {
		return nil, err
	}

	if cc := cfg.Correlator; cc != nil {
		copts := []correlator.Option{correlator.WithSink(sink)}
		if cc.Timeout > 0 {
			copts = append(copts, correlator.WithTimeout(cc.Timeout))
		}
		s.corr = correlator.New(strategyFor(cc), copts...)
	}

	ctor, err := transport.Lookup(cfg.Transport.Type)
	if err != nil {
		return nil, err
	}
	factory, err := ctor(cfg.Transport.Properties)
	if err != nil {
		return nil, fmt.Errorf("transport %q: %w", cfg.Transport.Type, err)
	}
	if s.pool, err = transport.NewPool(ctx, cfg.Transport.PoolSize, generator.Correlated(factory, s.corr)); err != nil {
		return nil, err
	}

	messages, err := s.buildMessages()
	if err != nil {
		return nil, err
	}
	profile, err := s.buildProfile()
	if err != nil {
		return nil, err
	}

	opts := []generator.Option{generator.WithSequences(s.seqs), generator.WithSink(sink)}
	if s.corr != nil {
		opts = append(opts, generator.WithCorrelator(s.corr))
	}
	if len(cfg.Validation) > 0 {
		opts = append(opts, generator.WithValidator(template.ExpectJSON(cfg.Validation)))
	}
	s.engine, err = generator.New(s.sched, s.pool, generator.Config{
		Threads:        cfg.Generator.Threads,
		Speed:          cfg.Generator.Speed,
		Profile:        profile,
		FailFast:       cfg.Generator.FailFast || env.FailFast,
		ShutdownPeriod: cfg.ShutdownPeriod(),
		Messages:       messages,
	}, opts...)
	if err != nil {
		return nil, err
	}
	built = true
	return s, nil
}

func (s *Scenario) buildReporters(env destination.Env) error {
	for i, rc := range s.cfg.Reporters {
		r, err := reporting.New(rc.Type, rc.Properties)
		if err != nil {
			return fmt.Errorf("reporters[%d]: %w", i, err)
		}
		for j, dc := range rc.Destinations {
			d, err := destination.New(dc.Type, dc.Properties, env)
			if err != nil {
				return fmt.Errorf("reporters[%d].destinations[%d]: %w", i, j, err)
			}
			for _, ps := range dc.Periods {
				p, err := core.ParsePeriod(ps)
				if err != nil {
					return err
				}
				if err := r.RegisterDestination(d, p); err != nil {
					return fmt.Errorf("reporters[%d].destinations[%d]: %w", i, j, err)
				}
			}
		}
		s.sched.RegisterReporter(r)
	}
	return nil
}

func (s *Scenario) buildMessages() ([]*template.Message, error) {
	var out []*template.Message
	for _, mc := range s.cfg.Messages {
		payload := mc.Payload
		if mc.File != "" {
			data, err := os.ReadFile(s.cfg.Resolve(mc.File))
			if err != nil {
				return nil, fmt.Errorf("%w: message %q: %v", core.ErrConfig, mc.Name, err)
			}
			payload = string(data)
		}
		m, err := template.NewMessage(mc.Name, payload, mc.Headers, mc.Multiplicity)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Scenario) buildProfile() (*ratelimit.Profile, error) {
	pc := s.cfg.Generator.Profile
	if pc == nil {
		return nil, nil
	}
	var entries []ratelimit.Entry
	switch {
	case pc.CSV != "":
		e, err := ratelimit.LoadCSV(s.cfg.Resolve(pc.CSV))
		if err != nil {
			return nil, err
		}
		entries = e
	case len(pc.Phases) > 0:
		e, _, err := ratelimit.FromPhases(pc.Phases)
		if err != nil {
			return nil, err
		}
		entries = e
	default:
		for _, ec := range pc.Entries {
			entries = append(entries, ratelimit.Entry{At: ec.At, Threads: ec.Threads, Speed: ec.Speed})
		}
	}
	return ratelimit.NewProfile(entries, pc.AutoReplay)
}

func strategyFor(cc *config.CorrelatorConfig) correlator.Strategy {
	switch cc.Type {
	case "prefix":
		return correlator.PrefixStrategy{Boundary: cc.Boundary}
	case "json":
		responsePath := cc.ResponsePath
		if responsePath == "" {
			responsePath = cc.RequestPath
		}
		return correlator.JSONPathStrategy{RequestPath: cc.RequestPath, ResponsePath: responsePath}
	default:
		return correlator.HeaderStrategy{Header: cc.Header}
	}
}

// Tracker exposes run progress, e.g. for a live progress display.
func (s *Scenario) Tracker() *progress.Tracker { return s.tracker }

// Collector exposes the run summary collector.
func (s *Scenario) Collector() *collector.Collector { return s.collector }

// Run executes the scenario and releases its resources. The returned error is
// also recorded in the result.
func (s *Scenario) Run(ctx context.Context) (*Result, error) {
	defer s.Close()
	s.collector.Restart()
	if err := s.sched.Start(); err != nil {
		return &Result{Err: err}, err
	}

	log.WithFields(log.Fields{
		"run":       s.tracker.Duration(),
		"transport": s.cfg.Transport.Type,
		"reporters": len(s.cfg.Reporters),
	}).Info("Run started")

	var result *multierror.Error
	if err := s.engine.Run(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.sched.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stopping reporters: %w", err))
	}
	s.collector.Close()

	res := &Result{Metrics: s.collector.Metrics(), Err: result.ErrorOrNil()}
	res.Thresholds = s.cfg.Thresholds.Check(res.Metrics)

	entry := log.WithFields(log.Fields{
		"iterations": res.Metrics.TotalIterations,
		"failed":     res.Metrics.FailureCount,
		"elapsed":    res.Metrics.TestDuration,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Error("Run failed")
	} else {
		entry.Info("Run finished")
	}
	return res, res.Err
}

// Close releases the pool and the correlator. It is safe to call more than once.
func (s *Scenario) Close() {
	if s.pool != nil {
		s.pool.Close(context.Background())
		s.pool = nil
	}
	if s.corr != nil {
		s.corr.Close()
		s.corr = nil
	}
}
