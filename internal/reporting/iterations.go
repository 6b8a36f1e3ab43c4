package reporting

import (
	"metronome/internal/core"
)

// IterationsPerSecond publishes the overall iteration rate since the run (or
// the last reset) started.
type IterationsPerSecond struct {
	*Base
}

func NewIterationsPerSecond() *IterationsPerSecond {
	r := &IterationsPerSecond{}
	r.Base = NewBase("iterations-per-second", r, false)
	return r
}

func (r *IterationsPerSecond) Observe(*core.MeasurementUnit, map[string]any) error { return nil }
func (r *IterationsPerSecond) ResetState()                                         {}

func (r *IterationsPerSecond) Measure(core.PeriodType) (*core.Measurement, error) {
	m := r.NewMeasurement()
	r.PublishAccumulated(m)
	rate := 0.0
	if t := r.Tracker(); t != nil {
		if secs := t.RunTime().Seconds(); secs > 0 {
			rate = float64(r.MaxIteration()+1) / secs
		}
	}
	m.SetResult(core.Quantity{Number: rate, Unit: "iterations/s"})
	return m, nil
}
