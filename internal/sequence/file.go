package sequence

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"metronome/internal/core"
)

// Mode defines how rows are picked.
type Mode string

const (
	// ModeSequential walks rows in order, wrapping around.
	ModeSequential Mode = "sequential"
	// ModeRandom picks a random row each time.
	ModeRandom Mode = "random"
)

// Rows cycles over records loaded from a CSV or JSON file and publishes each
// field as "name.field".
type Rows struct {
	path    string
	mode    Mode
	rows    []map[string]any
	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewRows builds a sequence over in-memory rows.
func NewRows(rows []map[string]any, mode Mode) *Rows {
	if mode == "" {
		mode = ModeSequential
	}
	return &Rows{rows: rows, mode: mode, rng: rand.New(rand.NewSource(rand.Int63()))}
}

// LoadRows reads a .csv (header row first) or .json (array of objects) file.
// Relative paths resolve against baseDir.
func LoadRows(path string, mode Mode, baseDir string) (*Rows, error) {
	path = resolve(path, baseDir)
	switch mode {
	case "", ModeSequential, ModeRandom:
	default:
		return nil, fmt.Errorf("%w: unknown row mode %q", core.ErrConfig, mode)
	}
	r := NewRows(nil, mode)
	r.path = path
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Next returns the next row. Safe for concurrent use.
func (r *Rows) Next() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return nil
	}
	var idx int
	switch r.mode {
	case ModeRandom:
		idx = r.rng.Intn(len(r.rows))
	default:
		n := r.counter.Add(1) - 1
		idx = int(n % uint64(len(r.rows)))
	}
	return r.rows[idx]
}

func (r *Rows) Publish(name string, into Setter) {
	for field, value := range r.Next() {
		into.Set(name+"."+field, value)
	}
}

// Reset rewinds the cursor and reloads the file when the sequence has one.
func (r *Rows) Reset() error {
	r.counter.Store(0)
	if r.path == "" {
		return nil
	}

	var rows []map[string]any
	var err error
	switch ext := strings.ToLower(filepath.Ext(r.path)); ext {
	case ".csv":
		rows, err = loadCSV(r.path)
	case ".json":
		rows, err = loadJSON(r.path)
	default:
		return fmt.Errorf("%w: unsupported file format %q (use .csv or .json)", core.ErrConfig, ext)
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.path, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: data file %s is empty", core.ErrConfig, r.path)
	}

	r.mu.Lock()
	r.rows = rows
	r.mu.Unlock()
	return nil
}

// Lines cycles over the non-empty lines of a text file.
type Lines struct {
	path string

	mu    sync.Mutex
	lines []string
	next  int
}

func LoadLines(path, baseDir string) (*Lines, error) {
	l := &Lines{path: resolve(path, baseDir)}
	if err := l.Reset(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lines) Publish(name string, into Setter) {
	l.mu.Lock()
	if l.next >= len(l.lines) {
		l.next = 0
	}
	v := l.lines[l.next]
	l.next++
	l.mu.Unlock()
	into.Set(name, v)
}

func (l *Lines) Reset() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("lines sequence: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("lines sequence %s: %w", l.path, err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: lines file %s is empty", core.ErrConfig, l.path)
	}

	l.mu.Lock()
	l.lines = lines
	l.next = 0
	l.mu.Unlock()
	return nil
}

func resolve(path, baseDir string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

func loadCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: CSV must have header row and at least one data row", core.ErrConfig)
	}

	headers := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadJSON(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: JSON must be an array of objects: %v", core.ErrConfig, err)
	}
	return rows, nil
}
