package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func newWarmUpRun(t *testing.T, cfg WarmUpConfig) (*Scheduler, *WarmUp, *core.FakeClock) {
	t.Helper()
	s, clock := newTestScheduler(t, core.Iterations(1000))
	w, err := NewWarmUp(cfg)
	require.NoError(t, err)
	s.RegisterReporter(w)
	s.Tracker().Start()
	require.NoError(t, w.Start())
	return s, w, clock
}

// step reports one 100ms iteration straight to the reporter.
func step(t *testing.T, s *Scheduler, w *WarmUp, clock *core.FakeClock) {
	t.Helper()
	mu, ok := s.NewMeasurementUnit()
	require.True(t, ok)
	mu.StartMeasure()
	clock.Advance(100 * time.Millisecond)
	mu.StopMeasure()
	require.NoError(t, w.Report(mu))
}

func TestWarmUpDetectsSteadyRate(t *testing.T) {
	cfg := DefaultWarmUpConfig()
	cfg.MinDuration = 0
	cfg.MinCount = 0
	s, w, clock := newWarmUpRun(t, cfg)
	assert.True(t, s.Tracker().HasTag(core.WarmUpTag))

	// the rate is checked every second: 9/s, 9.5/s, then 9.67/s is within 0.2
	for i := 0; i < 29; i++ {
		step(t, s, w, clock)
	}
	assert.False(t, w.Warmed())
	assert.True(t, s.Tracker().HasTag(core.WarmUpTag))
	assert.False(t, s.resetRequested.Load())

	step(t, s, w, clock)
	assert.True(t, w.Warmed())
	assert.True(t, s.resetRequested.Load())
	assert.True(t, s.Tracker().HasTag(core.WarmUpTag), "tag stays until the reset runs")

	s.Reset()
	assert.False(t, s.Tracker().HasTag(core.WarmUpTag))
	assert.True(t, w.Warmed())
}

func TestWarmUpHonoursMinimums(t *testing.T) {
	cfg := DefaultWarmUpConfig()
	cfg.MinDuration = 10 * time.Second
	cfg.MinCount = 0
	s, w, clock := newWarmUpRun(t, cfg)

	for i := 0; i < 60; i++ {
		step(t, s, w, clock)
	}
	assert.False(t, w.Warmed(), "six seconds is below the minimal duration")
}

func TestWarmUpStopsAfterMaximalPeriod(t *testing.T) {
	cfg := DefaultWarmUpConfig()
	cfg.MaxPeriod = core.Iterations(5)
	s, w, clock := newWarmUpRun(t, cfg)

	for i := 0; i < 6; i++ {
		step(t, s, w, clock)
	}
	assert.True(t, s.Tracker().IsStarted())

	step(t, s, w, clock)
	assert.False(t, s.Tracker().IsStarted())
	assert.False(t, w.Warmed())
	_, ok := s.NewMeasurementUnit()
	assert.False(t, ok)
}

func TestWarmUpRejectsDestinations(t *testing.T) {
	w, err := NewWarmUp(DefaultWarmUpConfig())
	require.NoError(t, err)
	err = w.RegisterDestination(&recordingDestination{}, core.Iterations(1))
	assert.True(t, core.IsConfigError(err))

	cfg := DefaultWarmUpConfig()
	cfg.RelativeThreshold = -1
	_, err = NewWarmUp(cfg)
	assert.True(t, core.IsConfigError(err))
}

func TestWarmUpResetsMeasuredPhase(t *testing.T) {
	resets := 0
	s, clock := newTestScheduler(t, core.Iterations(200), WithResetHook(func() { resets++ }))
	cfg := DefaultWarmUpConfig()
	cfg.MinDuration = 0
	cfg.MinCount = 0
	w, err := NewWarmUp(cfg)
	require.NoError(t, err)
	ips := NewIterationsPerSecond()
	dest := &recordingDestination{}
	require.NoError(t, ips.RegisterDestination(dest, core.Iterations(1)))
	s.RegisterReporter(w)
	s.RegisterReporter(ips)

	require.NoError(t, s.Start())
	dispatchSync(t, s, clock, 40, 100*time.Millisecond)
	assert.True(t, w.Warmed())
	assert.Equal(t, 1, resets)
	assert.Equal(t, int64(10), s.Tracker().Iterations(), "counting restarted after warm-up")
	require.NoError(t, s.Stop())

	var warm, measured []int64
	for _, m := range dest.measurements() {
		if tag, _ := m.Get(core.WarmUpTag); tag == true {
			warm = append(warm, m.Iteration)
		} else {
			measured = append(measured, m.Iteration)
		}
	}
	assert.Len(t, warm, 30)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, measured)
}
