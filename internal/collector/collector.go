// Package collector builds the end-of-run summary from engine events.
package collector

import (
	"math/rand"
	"sync"
	"time"

	"metronome/internal/core"
)

// DefaultMaxSamples bounds how many iteration durations are kept for
// percentile computation. Beyond it the collector keeps a uniform sample.
const DefaultMaxSamples = 100_000

// Collector is a metrics.Sink that aggregates a run into Metrics.
type Collector struct {
	clock      core.Clock
	maxSamples int

	mu         sync.Mutex
	startTime  time.Time
	endTime    time.Time
	started    int
	success    int
	failed     int
	durations  []time.Duration
	rng        *rand.Rand
	sendErrors map[core.SendPhase]int
	misses     int
	timeouts   int
	published  map[string]int
	destErrors map[string]int
	peakSlots  int
}

// NewCollector starts the run clock.
func NewCollector(clock core.Clock, maxSamples int) *Collector {
	if clock == nil {
		clock = core.RealClock{}
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Collector{
		clock:      clock,
		maxSamples: maxSamples,
		startTime:  clock.Now(),
		rng:        rand.New(rand.NewSource(rand.Int63())),
		sendErrors: make(map[core.SendPhase]int),
		published:  make(map[string]int),
		destErrors: make(map[string]int),
	}
}

func (c *Collector) IterationStarted() {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *Collector) IterationFinished(d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		c.failed++
	} else {
		c.success++
	}
	seen := c.success + c.failed
	if len(c.durations) < c.maxSamples {
		c.durations = append(c.durations, d)
		return
	}
	if j := c.rng.Intn(seen); j < c.maxSamples {
		c.durations[j] = d
	}
}

func (c *Collector) SendError(phase core.SendPhase) {
	c.mu.Lock()
	c.sendErrors[phase]++
	c.mu.Unlock()
}

func (c *Collector) CorrelationMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Collector) CorrelationTimeout() {
	c.mu.Lock()
	c.timeouts++
	c.mu.Unlock()
}

func (c *Collector) Published(reporter string, _ core.PeriodType) {
	c.mu.Lock()
	c.published[reporter]++
	c.mu.Unlock()
}

func (c *Collector) DestinationError(destination string) {
	c.mu.Lock()
	c.destErrors[destination]++
	c.mu.Unlock()
}

func (c *Collector) ActiveSlots(n int) {
	c.mu.Lock()
	if n > c.peakSlots {
		c.peakSlots = n
	}
	c.mu.Unlock()
}

// Restart clears everything gathered so far and restarts the run clock.
// Used when a warm-up period ends.
func (c *Collector) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = c.clock.Now()
	c.endTime = time.Time{}
	c.started, c.success, c.failed = 0, 0, 0
	c.durations = c.durations[:0]
	c.sendErrors = make(map[core.SendPhase]int)
	c.misses, c.timeouts = 0, 0
}

// Close freezes the run duration.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.endTime.IsZero() {
		c.endTime = c.clock.Now()
	}
	c.mu.Unlock()
}

// Duration returns the run duration, up to now while still open.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Collector) durationLocked() time.Duration {
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return c.clock.Since(c.startTime)
}

// Metrics computes the summary of everything collected so far.
func (c *Collector) Metrics() *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &Metrics{
		Started:             c.started,
		TotalIterations:     c.success + c.failed,
		SuccessCount:        c.success,
		FailureCount:        c.failed,
		TestDuration:        c.durationLocked(),
		SendErrors:          make(map[string]int, len(c.sendErrors)),
		CorrelationMisses:   c.misses,
		CorrelationTimeouts: c.timeouts,
		Publications:        make(map[string]int, len(c.published)),
		DestinationErrors:   make(map[string]int, len(c.destErrors)),
		PeakSlots:           c.peakSlots,
		Sampled:             c.success+c.failed > len(c.durations),
	}
	for k, v := range c.sendErrors {
		m.SendErrors[string(k)] = v
	}
	for k, v := range c.published {
		m.Publications[k] = v
	}
	for k, v := range c.destErrors {
		m.DestinationErrors[k] = v
	}
	m.finish(c.durations)
	return m
}
