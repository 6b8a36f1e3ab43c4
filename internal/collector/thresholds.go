package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"metronome/internal/core"
)

// Process exit codes derived from a run.
const (
	ExitOK               = 0
	ExitThresholdsFailed = 1
	ExitError            = 2
)

// Thresholds are the pass/fail criteria of a run. Unset limits are not checked.
type Thresholds struct {
	Duration    *DurationThresholds    `yaml:"duration"`
	Failed      *FailureThresholds     `yaml:"failed"`
	Throughput  *ThroughputThresholds  `yaml:"throughput"`
	Correlation *CorrelationThresholds `yaml:"correlation"`
}

// DurationThresholds are upper latency limits. Zero means unchecked.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
	Max time.Duration `yaml:"max"`
}

// FailureThresholds limit failed iterations by rate ("1%") or count.
type FailureThresholds struct {
	Rate  string `yaml:"rate"`
	Count *int   `yaml:"count"`
}

// ThroughputThresholds is the lowest acceptable iterations per second.
type ThroughputThresholds struct {
	Min float64 `yaml:"min"`
}

// CorrelationThresholds limit unanswered and unmatched replies.
type CorrelationThresholds struct {
	Timeouts *int `yaml:"timeouts"`
	Misses   *int `yaml:"misses"`
}

// ThresholdResult is the outcome of a single check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Op        string `json:"op,omitempty"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate reports every malformed limit.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	var result *multierror.Error
	if f := t.Failed; f != nil {
		if f.Rate != "" {
			if rate, err := parsePercentage(f.Rate); err != nil || rate < 0 || rate > 100 {
				result = multierror.Append(result, fmt.Errorf("%w: thresholds.failed.rate %q must be a percentage like \"1%%\"", core.ErrConfig, f.Rate))
			}
		}
		if f.Count != nil && *f.Count < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: thresholds.failed.count must not be negative", core.ErrConfig))
		}
	}
	if t.Throughput != nil && t.Throughput.Min < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: thresholds.throughput.min must not be negative", core.ErrConfig))
	}
	if c := t.Correlation; c != nil {
		if (c.Timeouts != nil && *c.Timeouts < 0) || (c.Misses != nil && *c.Misses < 0) {
			result = multierror.Append(result, fmt.Errorf("%w: thresholds.correlation limits must not be negative", core.ErrConfig))
		}
	}
	return result.ErrorOrNil()
}

// Check evaluates the thresholds against m. Results are ordered: durations,
// failures, throughput, correlation.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	r := &ThresholdResults{Passed: true}
	if t == nil {
		return r
	}
	if d := t.Duration; d != nil {
		for _, c := range []struct {
			name          string
			limit, actual time.Duration
		}{
			{"duration.avg", d.Avg, m.Duration.Avg},
			{"duration.p50", d.P50, m.Duration.P50},
			{"duration.p90", d.P90, m.Duration.P90},
			{"duration.p95", d.P95, m.Duration.P95},
			{"duration.p99", d.P99, m.Duration.P99},
			{"duration.max", d.Max, m.Duration.Max},
		} {
			if c.limit > 0 {
				r.add(c.name, "<", c.actual < c.limit, FormatDuration(c.limit), FormatDuration(c.actual))
			}
		}
	}
	if f := t.Failed; f != nil {
		if limit, err := parsePercentage(f.Rate); err == nil && f.Rate != "" {
			actual := 0.0
			if m.TotalIterations > 0 {
				actual = 100.0 - m.SuccessRate
			}
			r.add("failed.rate", "<", actual < limit, f.Rate, fmt.Sprintf("%.2f%%", actual))
		}
		if f.Count != nil {
			r.add("failed.count", "<=", m.FailureCount <= *f.Count, strconv.Itoa(*f.Count), strconv.Itoa(m.FailureCount))
		}
	}
	if tp := t.Throughput; tp != nil && tp.Min > 0 {
		r.add("throughput.min", ">=", m.IterationsPerSec >= tp.Min,
			fmt.Sprintf("%.1f/s", tp.Min), fmt.Sprintf("%.1f/s", m.IterationsPerSec))
	}
	if c := t.Correlation; c != nil {
		if c.Timeouts != nil {
			r.add("correlation.timeouts", "<=", m.CorrelationTimeouts <= *c.Timeouts, strconv.Itoa(*c.Timeouts), strconv.Itoa(m.CorrelationTimeouts))
		}
		if c.Misses != nil {
			r.add("correlation.misses", "<=", m.CorrelationMisses <= *c.Misses, strconv.Itoa(*c.Misses), strconv.Itoa(m.CorrelationMisses))
		}
	}
	return r
}

func (r *ThresholdResults) add(name, op string, passed bool, threshold, actual string) {
	r.Passed = r.Passed && passed
	r.Results = append(r.Results, ThresholdResult{Name: name, Passed: passed, Op: op, Threshold: threshold, Actual: actual})
}

// Violations returns only the failed results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	var out []ThresholdResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode maps a run outcome to a process exit code.
func ExitCode(runErr error, results *ThresholdResults) int {
	switch {
	case runErr != nil:
		return ExitError
	case results != nil && !results.Passed:
		return ExitThresholdsFailed
	default:
		return ExitOK
	}
}

func parsePercentage(s string) (float64, error) {
	v, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, fmt.Errorf("invalid percentage %q", s)
	}
	return strconv.ParseFloat(v, 64)
}
