package destination

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"metronome/internal/core"
)

// CSVConfig configures a CSV destination.
type CSVConfig struct {
	Path      string
	Delimiter string
	// Append keeps an existing file and adds rows to it. Otherwise the file is truncated.
	Append bool
}

// CSV writes one row per measurement. The columns are fixed by the first
// measurement; values missing from later ones are left empty.
type CSV struct {
	cfg   CSVConfig
	comma rune

	file    *os.File
	writer  *csv.Writer
	columns []string
	fresh   bool
}

func NewCSV(cfg CSVConfig) (*CSV, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: csv destination needs a path", core.ErrConfig)
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ";"
	}
	comma, size := utf8.DecodeRuneInString(cfg.Delimiter)
	if size != len(cfg.Delimiter) || comma == '"' || comma == '\r' || comma == '\n' {
		return nil, fmt.Errorf("%w: invalid csv delimiter %q", core.ErrConfig, cfg.Delimiter)
	}
	return &CSV{cfg: cfg, comma: comma}, nil
}

func (c *CSV) Name() string { return "csv:" + c.cfg.Path }

func (c *CSV) Open() error {
	if dir := filepath.Dir(c.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create csv directory: %w", err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.cfg.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(c.cfg.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat csv file: %w", err)
	}
	c.file = f
	c.writer = csv.NewWriter(f)
	c.writer.Comma = c.comma
	c.columns = nil
	c.fresh = info.Size() == 0
	return nil
}

func (c *CSV) Report(m *core.Measurement) error {
	if c.writer == nil {
		return fmt.Errorf("csv destination %s is not open", c.cfg.Path)
	}
	if c.columns == nil {
		c.columns = m.Names()
		if c.fresh {
			header := append([]string{"Time", "Iterations", "Percentage"}, c.columns...)
			if err := c.writer.Write(header); err != nil {
				return err
			}
		}
	}
	row := make([]string, 0, len(c.columns)+3)
	row = append(row, formatElapsed(m.Time), strconv.FormatInt(m.Iteration+1, 10), strconv.Itoa(m.Percentage))
	for _, name := range c.columns {
		v, ok := m.Get(name)
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, formatValue(v))
	}
	if err := c.writer.Write(row); err != nil {
		return err
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSV) Close() error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	werr := c.writer.Error()
	cerr := c.file.Close()
	c.file, c.writer = nil, nil
	if werr != nil {
		return werr
	}
	return cerr
}

func formatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// formatValue renders quantities without their unit.
func formatValue(v any) string {
	switch n := v.(type) {
	case core.Quantity:
		return strconv.FormatFloat(n.Number, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
