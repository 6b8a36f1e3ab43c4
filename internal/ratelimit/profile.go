package ratelimit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"metronome/internal/config"
	"metronome/internal/core"
)

// Entry is the desired (threads, speed) pair from a progress key onwards.
// Keys are iterations or milliseconds, matching the run duration.
type Entry struct {
	At      int64
	Threads int
	Speed   float64
}

// Profile maps run progress to entries by "largest key not above progress".
type Profile struct {
	entries    []Entry
	last       int64
	autoReplay bool
}

// NewProfile validates and sorts entries. With autoReplay, progress beyond the
// last key wraps around modulo the last key.
func NewProfile(entries []Entry, autoReplay bool) (*Profile, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: profile has no entries", core.ErrConfig)
	}
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	for i, e := range sorted {
		switch {
		case e.At < 0:
			return nil, fmt.Errorf("%w: profile key %d is negative", core.ErrConfig, e.At)
		case e.Threads < 0:
			return nil, fmt.Errorf("%w: profile threads %d at key %d is negative", core.ErrConfig, e.Threads, e.At)
		case e.Speed < 0:
			return nil, fmt.Errorf("%w: profile speed %v at key %d is negative", core.ErrConfig, e.Speed, e.At)
		case i > 0 && sorted[i-1].At == e.At:
			return nil, fmt.Errorf("%w: duplicate profile key %d", core.ErrConfig, e.At)
		}
	}
	return &Profile{
		entries:    sorted,
		last:       sorted[len(sorted)-1].At,
		autoReplay: autoReplay,
	}, nil
}

// At returns the entry for the given progress. Progress before the first key
// falls back to the first entry.
func (p *Profile) At(progress int64) Entry {
	key := progress
	if p.autoReplay && p.last > 0 {
		key = progress % p.last
	}
	i := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].At > key })
	if i == 0 {
		return p.entries[0]
	}
	return p.entries[i-1]
}

// Entries returns the sorted entries.
func (p *Profile) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

func (p *Profile) AutoReplay() bool {
	return p.autoReplay
}

// MaxThreads returns the largest thread count any entry asks for.
func (p *Profile) MaxThreads() int {
	max := 0
	for _, e := range p.entries {
		if e.Threads > max {
			max = e.Threads
		}
	}
	return max
}

// ParseCSV reads "key;threads;speed" lines. Blank lines and lines starting
// with '#' are ignored.
func ParseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.Comment = '#'
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading profile: %v", core.ErrConfig, err)
		}
		line, _ := reader.FieldPos(0)
		at, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: profile line %d: invalid key %q", core.ErrConfig, line, record[0])
		}
		threads, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: profile line %d: invalid threads %q", core.ErrConfig, line, record[1])
		}
		speed, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: profile line %d: invalid speed %q", core.ErrConfig, line, record[2])
		}
		entries = append(entries, Entry{At: at, Threads: threads, Speed: speed})
	}
	return entries, nil
}

// LoadCSV reads a profile file.
func LoadCSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening profile: %v", core.ErrConfig, err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// rampStep is the key spacing used when a ramping phase is compiled into entries.
const rampStep = time.Second

// FromPhases compiles load phases into time-keyed entries. Steady phases give a
// single entry; ramping phases give one entry per second interpolating the
// actor count. It also returns the total duration of all phases.
func FromPhases(phases []config.Phase) ([]Entry, time.Duration, error) {
	if len(phases) == 0 {
		return nil, 0, fmt.Errorf("%w: load profile has no phases", core.ErrConfig)
	}
	var entries []Entry
	var start time.Duration
	for _, phase := range phases {
		if phase.Duration <= 0 {
			return nil, 0, fmt.Errorf("%w: phase %q must have a positive duration", core.ErrConfig, phase.Name)
		}
		speed := float64(phase.RPS)
		if phase.Actors > 0 || phase.StartActors == phase.EndActors {
			threads := phase.Actors
			if threads == 0 {
				threads = phase.StartActors
			}
			entries = append(entries, Entry{At: start.Milliseconds(), Threads: threads, Speed: speed})
		} else {
			delta := float64(phase.EndActors - phase.StartActors)
			for offset := time.Duration(0); offset < phase.Duration; offset += rampStep {
				entries = append(entries, Entry{
					At:      (start + offset).Milliseconds(),
					Threads: phase.StartActors + int(delta*float64(offset)/float64(phase.Duration)),
					Speed:   speed,
				})
			}
		}
		start += phase.Duration
	}
	return entries, start, nil
}
