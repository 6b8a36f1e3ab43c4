// Package metrics defines the monitoring hooks the engine reports to.
// A Sink is passed to the dispatch engine and the reporting scheduler at
// construction; there is no process-wide state.
package metrics

import (
	"time"

	"metronome/internal/core"
)

// Sink receives engine events. Implementations must be safe for concurrent use
// and must not block.
type Sink interface {
	IterationStarted()
	IterationFinished(d time.Duration, failed bool)
	SendError(phase core.SendPhase)
	CorrelationMiss()
	CorrelationTimeout()
	Published(reporter string, period core.PeriodType)
	DestinationError(destination string)
	ActiveSlots(n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) IterationStarted()                     {}
func (Noop) IterationFinished(time.Duration, bool) {}
func (Noop) SendError(core.SendPhase)              {}
func (Noop) CorrelationMiss()                      {}
func (Noop) CorrelationTimeout()                   {}
func (Noop) Published(string, core.PeriodType)     {}
func (Noop) DestinationError(string)               {}
func (Noop) ActiveSlots(int)                       {}

// Tee fans every event out to several sinks.
type Tee []Sink

func (t Tee) IterationStarted() {
	for _, s := range t {
		s.IterationStarted()
	}
}

func (t Tee) IterationFinished(d time.Duration, failed bool) {
	for _, s := range t {
		s.IterationFinished(d, failed)
	}
}

func (t Tee) SendError(phase core.SendPhase) {
	for _, s := range t {
		s.SendError(phase)
	}
}

func (t Tee) CorrelationMiss() {
	for _, s := range t {
		s.CorrelationMiss()
	}
}

func (t Tee) CorrelationTimeout() {
	for _, s := range t {
		s.CorrelationTimeout()
	}
}

func (t Tee) Published(reporter string, period core.PeriodType) {
	for _, s := range t {
		s.Published(reporter, period)
	}
}

func (t Tee) DestinationError(destination string) {
	for _, s := range t {
		s.DestinationError(destination)
	}
}

func (t Tee) ActiveSlots(n int) {
	for _, s := range t {
		s.ActiveSlots(n)
	}
}

// OrNoop returns s, or Noop when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return Noop{}
	}
	return s
}
