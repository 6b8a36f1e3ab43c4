package reporting

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// WarmUpCheckPeriod is how often the warm-up reporter compares throughput.
const WarmUpCheckPeriod = time.Second

// WarmUpConfig configures warm-up detection.
type WarmUpConfig struct {
	MinDuration       time.Duration
	MinCount          int64
	RelativeThreshold float64
	AbsoluteThreshold float64
	// MaxPeriod stops the run when warm-up has not finished within it.
	// A zero value disables the check.
	MaxPeriod core.Period
}

// DefaultWarmUpConfig returns the stock thresholds.
func DefaultWarmUpConfig() WarmUpConfig {
	return WarmUpConfig{
		MinDuration:       15 * time.Second,
		MinCount:          10000,
		RelativeThreshold: 0.002,
		AbsoluteThreshold: 0.2,
	}
}

// WarmUp tags the run as warming up until the iteration rate settles, then
// resets all reporting so the measured phase starts clean. It has no
// destinations of its own.
type WarmUp struct {
	*Base

	cfg WarmUpConfig

	warmed      bool
	stopped     bool
	checkIndex  int64
	lastRate    float64
	hasLastRate bool
}

func NewWarmUp(cfg WarmUpConfig) (*WarmUp, error) {
	if cfg.MinDuration < 0 || cfg.MinCount < 0 {
		return nil, fmt.Errorf("%w: warm-up minimums must not be negative", core.ErrConfig)
	}
	if cfg.RelativeThreshold < 0 || cfg.AbsoluteThreshold < 0 {
		return nil, fmt.Errorf("%w: warm-up thresholds must not be negative", core.ErrConfig)
	}
	w := &WarmUp{cfg: cfg}
	w.Base = NewBase("warm-up", w, true)
	return w, nil
}

// Warmed reports whether warm-up has finished.
func (w *WarmUp) Warmed() bool {
	w.reportMu.Lock()
	defer w.reportMu.Unlock()
	return w.warmed
}

func (w *WarmUp) RegisterDestination(core.Destination, core.Period) error {
	return fmt.Errorf("%w: no destination is allowed on the warm-up reporter", core.ErrConfig)
}

// Start tags the run as warming up.
func (w *WarmUp) Start() error {
	t := w.Tracker()
	if t == nil {
		return ErrNotAttached
	}
	w.reportMu.Lock()
	w.warmed = false
	w.stopped = false
	w.checkIndex = 0
	w.hasLastRate = false
	w.reportMu.Unlock()

	t.AddTag(core.WarmUpTag)
	log.WithFields(log.Fields{
		"min_duration": w.cfg.MinDuration,
		"min_count":    w.cfg.MinCount,
	}).Info("Warming the tested system up")
	return w.Base.Start()
}

func (w *WarmUp) Observe(*core.MeasurementUnit, map[string]any) error {
	if w.warmed || w.stopped {
		return nil
	}
	t := w.Tracker()
	runTime := t.RunTime()
	maxIt := w.MaxIteration()

	if int64(runTime/WarmUpCheckPeriod) > w.checkIndex {
		w.checkIndex++
		rate := float64(maxIt) / runTime.Seconds()
		if w.hasLastRate {
			relDelta := math.Abs(rate/w.lastRate - 1.0)
			absDelta := math.Abs(rate - w.lastRate)
			log.WithFields(log.Fields{
				"check":     w.checkIndex,
				"rate":      rate,
				"last_rate": w.lastRate,
				"abs_delta": absDelta,
				"rel_delta": relDelta,
			}).Trace("Warm-up check")
			if runTime > w.cfg.MinDuration && maxIt > w.cfg.MinCount &&
				(absDelta < w.cfg.AbsoluteThreshold || relDelta < w.cfg.RelativeThreshold) {
				log.Info("The tested system is warmed up")
				w.warmed = true
				if s := w.scheduler(); s != nil {
					s.RequestReset()
				}
				return nil
			}
		}
		w.lastRate = rate
		w.hasLastRate = true
	}

	if w.exceeded(maxIt, runTime) {
		w.stopped = true
		if s := w.scheduler(); s != nil {
			s.RequestStop(fmt.Sprintf("the system did not warm up within %s", w.cfg.MaxPeriod))
		}
	}
	return nil
}

func (w *WarmUp) exceeded(maxIt int64, runTime time.Duration) bool {
	limit := w.cfg.MaxPeriod
	if limit.Value <= 0 {
		return false
	}
	switch limit.Type {
	case core.PeriodIteration:
		return limit.Value < maxIt
	case core.PeriodTime:
		return limit.Duration() < runTime
	case core.PeriodPercentage:
		return float64(limit.Value) < w.Tracker().Percentage()
	}
	return false
}

func (w *WarmUp) Measure(core.PeriodType) (*core.Measurement, error) {
	return nil, fmt.Errorf("%w: no destination is allowed on the warm-up reporter", core.ErrConfig)
}

// ResetState drops the warm-up tag once the reset it requested happens.
func (w *WarmUp) ResetState() {
	w.reportMu.Lock()
	warmed := w.warmed
	w.reportMu.Unlock()
	if t := w.Tracker(); warmed && t != nil {
		t.RemoveTag(core.WarmUpTag)
	}
}
