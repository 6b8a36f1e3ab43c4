package reporting

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metronome/internal/core"
	"metronome/internal/metrics"
	"metronome/internal/progress"
)

var epoch = time.Unix(1_700_000_000, 0)

type recordingDestination struct {
	mu     sync.Mutex
	got    []*core.Measurement
	opens  int
	closes  int
	fail    error
	openErr error
}

func (d *recordingDestination) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opens++
	return nil
}

func (d *recordingDestination) Report(m *core.Measurement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.got = append(d.got, m)
	return nil
}

func (d *recordingDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *recordingDestination) measurements() []*core.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*core.Measurement, len(d.got))
	copy(out, d.got)
	return out
}

func (d *recordingDestination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

type countingSink struct {
	metrics.Noop
	mu        sync.Mutex
	published int
	failed    int
}

func (s *countingSink) Published(string, core.PeriodType) {
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
}

func (s *countingSink) DestinationError(string) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

var errBrokenPipe = errors.New("broken pipe")

func newTestScheduler(t *testing.T, duration core.Period, opts ...Option) (*Scheduler, *core.FakeClock) {
	t.Helper()
	clock := core.NewFakeClock(epoch)
	tracker, err := progress.New(duration, progress.WithClock(clock), progress.WithThreads(1))
	require.NoError(t, err)
	s, err := NewScheduler(tracker, opts...)
	require.NoError(t, err)
	return s, clock
}

// dispatch runs n iterations that each take step on the fake clock.
func dispatch(t *testing.T, s *Scheduler, clock *core.FakeClock, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		mu, ok := s.NewMeasurementUnit()
		require.True(t, ok, "iteration %d", i)
		mu.StartMeasure()
		clock.Advance(step)
		mu.StopMeasure()
		s.Report(mu)
	}
}

// dispatchSync is dispatch that waits for the reporters after every unit.
func dispatchSync(t *testing.T, s *Scheduler, clock *core.FakeClock, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		dispatch(t, s, clock, 1, step)
		s.queue.Load().drain()
	}
}
