// Package destination renders published measurements.
package destination

import (
	"fmt"
	"io"
	"os"
	"sync"

	"metronome/internal/core"
)

// Console prints every measurement on its own line.
type Console struct {
	mu     sync.Mutex
	output io.Writer
	prefix string
}

func NewConsole(prefix string) *Console {
	return &Console{output: os.Stdout, prefix: prefix}
}

func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = w
}

func (c *Console) Name() string { return "console" }
func (c *Console) Open() error  { return nil }
func (c *Console) Close() error { return nil }

// ConcurrentSafe reports true; writes are serialized internally.
func (c *Console) ConcurrentSafe() bool { return true }

func (c *Console) Report(m *core.Measurement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.output, "%s%s\n", c.prefix, m)
	return err
}
