package destination

import (
	"sync"

	"metronome/internal/core"
)

// Memory keeps every measurement it receives. It is used by tests and by
// callers that embed the engine.
type Memory struct {
	mu           sync.Mutex
	measurements []*core.Measurement
	opened       int
	closed       int
}

func NewMemory() *Memory { return &Memory{} }

func (d *Memory) Name() string         { return "memory" }
func (d *Memory) ConcurrentSafe() bool { return true }

func (d *Memory) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	return nil
}

func (d *Memory) Report(m *core.Measurement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.measurements = append(d.measurements, m)
	return nil
}

func (d *Memory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// Measurements returns a copy of everything reported so far.
func (d *Memory) Measurements() []*core.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*core.Measurement, len(d.measurements))
	copy(out, d.measurements)
	return out
}

// Last returns the most recent measurement or nil.
func (d *Memory) Last() *core.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.measurements) == 0 {
		return nil
	}
	return d.measurements[len(d.measurements)-1]
}

// Opened and Closed count lifecycle calls.
func (d *Memory) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *Memory) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
