package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodType says what a run duration or a reporting period is measured in.
type PeriodType int

const (
	// PeriodIteration counts iterations.
	PeriodIteration PeriodType = iota
	// PeriodTime counts wall-clock milliseconds.
	PeriodTime
	// PeriodPercentage counts whole percents of run completion.
	PeriodPercentage
)

func (t PeriodType) String() string {
	switch t {
	case PeriodIteration:
		return "iteration"
	case PeriodTime:
		return "time"
	case PeriodPercentage:
		return "percentage"
	default:
		return fmt.Sprintf("PeriodType(%d)", int(t))
	}
}

// Period is a magnitude in a given unit. Time values are in milliseconds.
type Period struct {
	Type  PeriodType
	Value int64
}

// Iterations returns an iteration-bounded period.
func Iterations(n int64) Period {
	return Period{Type: PeriodIteration, Value: n}
}

// Every returns a time-bounded period.
func Every(d time.Duration) Period {
	return Period{Type: PeriodTime, Value: d.Milliseconds()}
}

// Percent returns a percentage period.
func Percent(p int64) Period {
	return Period{Type: PeriodPercentage, Value: p}
}

// Duration returns the period as a time.Duration. Only meaningful for PeriodTime.
func (p Period) Duration() time.Duration {
	return time.Duration(p.Value) * time.Millisecond
}

func (p Period) String() string {
	switch p.Type {
	case PeriodTime:
		return p.Duration().String()
	case PeriodPercentage:
		return fmt.Sprintf("%d%%", p.Value)
	default:
		return strconv.FormatInt(p.Value, 10)
	}
}

// ParsePeriod parses "1000" (iterations), "30s" (time) or "10%" (percentage).
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("%w: empty period", ErrConfig)
	}

	var p Period
	switch {
	case strings.HasSuffix(s, "%"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "%"), 10, 64)
		if err != nil {
			return Period{}, fmt.Errorf("%w: invalid percentage period %q", ErrConfig, s)
		}
		if n > 100 {
			return Period{}, fmt.Errorf("%w: percentage period %q exceeds 100%%", ErrConfig, s)
		}
		p = Percent(n)
	default:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			p = Iterations(n)
			break
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return Period{}, fmt.Errorf("%w: invalid period %q", ErrConfig, s)
		}
		p = Every(d)
	}

	if p.Value <= 0 {
		return Period{}, fmt.Errorf("%w: period %q must be positive", ErrConfig, s)
	}
	return p, nil
}

// ParseRunDuration parses a run length. Only iteration and time units are accepted.
func ParseRunDuration(s string) (Period, error) {
	p, err := ParsePeriod(s)
	if err != nil {
		return Period{}, err
	}
	if p.Type == PeriodPercentage {
		return Period{}, fmt.Errorf("%w: run duration %q cannot be a percentage", ErrConfig, s)
	}
	return p, nil
}
