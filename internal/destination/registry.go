package destination

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// Env carries what destinations need from the hosting process.
type Env struct {
	Registerer prometheus.Registerer
	Stdout     io.Writer
	// BaseDir resolves relative file paths, usually the scenario directory.
	BaseDir string
}

// Constructor builds a destination from properties.
type Constructor func(props core.Properties, env Env) (core.Destination, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{
		"console":    consoleFromProperties,
		"log":        logFromProperties,
		"csv":        csvFromProperties,
		"prometheus": prometheusFromProperties,
		"memory":     memoryFromProperties,
	}
)

// Register adds or replaces a named destination.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = c
}

// New builds the named destination.
func New(name string, props core.Properties, env Env) (core.Destination, error) {
	registryMu.RLock()
	c, ok := constructors[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown destination %q (known: %v)", core.ErrConfig, name, Names())
	}
	return c(props, env)
}

// Names lists the registered destinations.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for k := range constructors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func consoleFromProperties(props core.Properties, env Env) (core.Destination, error) {
	c := NewConsole(props.String("prefix", ""))
	if env.Stdout != nil {
		c.SetOutput(env.Stdout)
	}
	return c, nil
}

func logFromProperties(props core.Properties, _ Env) (core.Destination, error) {
	level, err := log.ParseLevel(props.String("level", "info"))
	if err != nil {
		return nil, fmt.Errorf("%w: log destination: %v", core.ErrConfig, err)
	}
	return NewLog(nil, level), nil
}

func csvFromProperties(props core.Properties, env Env) (core.Destination, error) {
	appendRows, err := props.Bool("append", false)
	if err != nil {
		return nil, err
	}
	path := props.String("path", "")
	if path != "" && !filepath.IsAbs(path) && env.BaseDir != "" {
		path = filepath.Join(env.BaseDir, path)
	}
	return NewCSV(CSVConfig{
		Path:      path,
		Delimiter: props.String("delimiter", ";"),
		Append:    appendRows,
	})
}

func prometheusFromProperties(props core.Properties, env Env) (core.Destination, error) {
	reg := env.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return NewPrometheus(reg, props.String("name", ""))
}

func memoryFromProperties(core.Properties, Env) (core.Destination, error) {
	return NewMemory(), nil
}
