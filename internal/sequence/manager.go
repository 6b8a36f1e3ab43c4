package sequence

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// Names published by every Manager.
const (
	MessageNumber    = "message_number"
	CurrentTimestamp = "current_timestamp"
	IterationKey     = "iteration"
	SlotKey          = "thread_id"
)

// Manager owns the named sequences of a run and takes consistent snapshots
// of them, one per iteration.
type Manager struct {
	mu        sync.Mutex
	sequences map[string]Sequence
}

// NewManager registers the built-in message number and timestamp sequences.
func NewManager(clock core.Clock) *Manager {
	m := &Manager{sequences: make(map[string]Sequence)}
	m.sequences[MessageNumber] = NewNumber()
	m.sequences[CurrentTimestamp] = Timestamp{Clock: clock}
	return m
}

// Add registers seq under name after resetting it. A later Add with the same
// name replaces the earlier sequence.
func (m *Manager) Add(name string, seq Sequence) error {
	if name == "" {
		return fmt.Errorf("%w: sequence name is empty", core.ErrConfig)
	}
	if err := seq.Reset(); err != nil {
		return fmt.Errorf("sequence %q: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.sequences[name]; dup {
		log.WithField("sequence", name).Warn("Replacing existing sequence")
	}
	m.sequences[name] = seq
	return nil
}

// Names returns registered sequence names in order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sequences))
	for n := range m.sequences {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot advances every sequence once and returns the values together with
// the iteration number and slot id.
func (m *Manager) Snapshot(iteration int64, slot int) *core.MapVariables {
	vars := core.NewVariables()
	vars.Set(IterationKey, strconv.FormatInt(iteration, 10))
	vars.Set(SlotKey, strconv.Itoa(slot))

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, seq := range m.sequences {
		seq.Publish(name, vars)
	}
	return vars
}

// Reset rewinds every sequence.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result *multierror.Error
	for name, seq := range m.sequences {
		if err := seq.Reset(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sequence %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// New builds a sequence of the given kind from its properties.
func New(kind string, props core.Properties, baseDir string) (Sequence, error) {
	switch kind {
	case "number":
		start, err := props.Int("start", 0)
		if err != nil {
			return nil, err
		}
		step, err := props.Int("step", 1)
		if err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, fmt.Errorf("%w: number sequence step must not be zero", core.ErrConfig)
		}
		cycle, err := props.Bool("cycle", true)
		if err != nil {
			return nil, err
		}
		n := &Number{Start: int64(start), Step: int64(step), Cycle: cycle}
		if _, ok := props["end"]; ok {
			end, err := props.Int("end", 0)
			if err != nil {
				return nil, err
			}
			e := int64(end)
			n.End = &e
		}
		return n, nil
	case "random":
		min, err := props.Int("min", 0)
		if err != nil {
			return nil, err
		}
		max, err := props.Int("max", 100)
		if err != nil {
			return nil, err
		}
		return NewRandom(min, max)
	case "timestamp":
		return Timestamp{}, nil
	case "uuid":
		return UUID{}, nil
	case "constant":
		return Constant(props.String("value", "")), nil
	case "lines":
		file := props.String("file", "")
		if file == "" {
			return nil, fmt.Errorf("%w: lines sequence needs a file", core.ErrConfig)
		}
		return LoadLines(file, baseDir)
	case "rows":
		file := props.String("file", "")
		if file == "" {
			return nil, fmt.Errorf("%w: rows sequence needs a file", core.ErrConfig)
		}
		return LoadRows(file, Mode(props.String("mode", string(ModeSequential))), baseDir)
	default:
		return nil, fmt.Errorf("%w: unknown sequence kind %q", core.ErrConfig, kind)
	}
}
