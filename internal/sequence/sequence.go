// Package sequence produces per-iteration values that message templates
// reference as ${name}.
package sequence

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"metronome/internal/core"
)

// Setter receives published values.
type Setter interface {
	Set(key string, value any)
}

// Sequence publishes its next value(s) under name.
type Sequence interface {
	Publish(name string, into Setter)
	Reset() error
}

// Number counts from Start by Step. With an End set it either wraps back to
// Start (Cycle) or sticks at End.
type Number struct {
	Start int64
	Step  int64
	End   *int64
	Cycle bool

	mu    sync.Mutex
	value int64
}

// NewNumber returns an unbounded counter starting at zero.
func NewNumber() *Number {
	return &Number{Step: 1, Cycle: true}
}

func (n *Number) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	res := n.value
	step := n.Step
	if step == 0 {
		step = 1
	}
	next := n.value + step
	if n.End == nil {
		n.value = next
		return res
	}
	end := *n.End
	overflow := (step > 0 && next < n.value) || (step < 0 && next > n.value)
	past := (step > 0 && next > end) || (step < 0 && next < end)
	switch {
	case (overflow || past) && n.Cycle:
		n.value = n.Start
	case overflow || past:
		n.value = end
	default:
		n.value = next
	}
	return res
}

func (n *Number) Publish(name string, into Setter) {
	into.Set(name, strconv.FormatInt(n.Next(), 10))
}

func (n *Number) Reset() error {
	n.mu.Lock()
	n.value = n.Start
	n.mu.Unlock()
	return nil
}

// Random publishes a uniform integer in [Min, Max).
type Random struct {
	Min, Max int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(min, max int) (*Random, error) {
	if max <= min {
		return nil, fmt.Errorf("%w: random sequence max %d must exceed min %d", core.ErrConfig, max, min)
	}
	return &Random{Min: min, Max: max, rng: rand.New(rand.NewSource(rand.Int63()))}, nil
}

func (r *Random) Publish(name string, into Setter) {
	r.mu.Lock()
	v := r.rng.Intn(r.Max-r.Min) + r.Min
	r.mu.Unlock()
	into.Set(name, strconv.Itoa(v))
}

func (r *Random) Reset() error { return nil }

// Timestamp publishes the clock's current Unix milliseconds.
type Timestamp struct {
	Clock core.Clock
}

func (t Timestamp) Publish(name string, into Setter) {
	c := t.Clock
	if c == nil {
		c = core.RealClock{}
	}
	into.Set(name, strconv.FormatInt(core.Millis(c), 10))
}

func (Timestamp) Reset() error { return nil }

// UUID publishes a random version 4 UUID.
type UUID struct{}

func (UUID) Publish(name string, into Setter) { into.Set(name, uuid.NewString()) }

func (UUID) Reset() error { return nil }

// Constant always publishes the same value.
type Constant string

func (c Constant) Publish(name string, into Setter) { into.Set(name, string(c)) }

func (Constant) Reset() error { return nil }
