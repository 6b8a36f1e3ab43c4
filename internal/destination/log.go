package destination

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// Log writes measurements as structured log entries.
type Log struct {
	logger log.FieldLogger
	level  log.Level
}

// NewLog logs at level through logger, or the standard logger when nil.
func NewLog(logger log.FieldLogger, level log.Level) *Log {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Log{logger: logger, level: level}
}

func (l *Log) Name() string         { return "log" }
func (l *Log) Open() error          { return nil }
func (l *Log) Close() error         { return nil }
func (l *Log) ConcurrentSafe() bool { return true }

func (l *Log) Report(m *core.Measurement) error {
	fields := log.Fields{
		"percentage": m.Percentage,
		"iteration":  m.Iteration,
		"elapsed":    m.Time,
	}
	for _, name := range m.Names() {
		v, _ := m.Get(name)
		fields[name] = fmt.Sprint(v)
	}
	entry := l.logger.WithFields(fields)
	switch l.level {
	case log.TraceLevel, log.DebugLevel:
		entry.Debug("Measurement")
	case log.WarnLevel:
		entry.Warn("Measurement")
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		entry.Error("Measurement")
	default:
		entry.Info("Measurement")
	}
	return nil
}
