package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// FormatText writes the summary in human-readable form.
func FormatText(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	if m.TotalIterations == 0 {
		fmt.Fprintln(w, "No iterations completed")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Metronome - Run Summary")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:       %v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Iterations:     %s\n", formatNumber(m.TotalIterations))
	fmt.Fprintf(w, "Success Rate:   %.1f%% (%s / %s)\n",
		m.SuccessRate, formatNumber(m.SuccessCount), formatNumber(m.TotalIterations))
	fmt.Fprintf(w, "Iterations/sec: %.1f\n", m.IterationsPerSec)
	if m.PeakSlots > 0 {
		fmt.Fprintf(w, "Peak Threads:   %d\n", m.PeakSlots)
	}
	fmt.Fprintln(w, "")
	if m.Sampled {
		fmt.Fprintln(w, "Response Times (sampled):")
	} else {
		fmt.Fprintln(w, "Response Times:")
	}
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Duration.Min))
	fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.Duration.Avg))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Duration.P50))
	fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.Duration.P90))
	fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.Duration.P95))
	fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.Duration.P99))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Duration.Max))

	if len(m.SendErrors) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Errors By Phase:")
		for _, phase := range sortedKeys(m.SendErrors) {
			fmt.Fprintf(w, "  %-10s %s\n", phase, formatNumber(m.SendErrors[phase]))
		}
	}
	if m.CorrelationMisses > 0 || m.CorrelationTimeouts > 0 {
		fmt.Fprintf(w, "\nCorrelation:    %d unmatched replies, %d timeouts\n",
			m.CorrelationMisses, m.CorrelationTimeouts)
	}
	if len(m.DestinationErrors) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Destination Errors:")
		for _, dest := range sortedKeys(m.DestinationErrors) {
			fmt.Fprintf(w, "  %-15s %d\n", dest, m.DestinationErrors[dest])
		}
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			op := result.Op
			if op == "" {
				op = "<"
			}
			fmt.Fprintf(w, "  %s %s %s %s (actual: %s)\n",
				symbol, result.Name, op, result.Threshold, result.Actual)
		}
	}
}

// FormatJSON writes the summary as indented JSON.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) error {
	output := struct {
		Duration            string              `json:"duration"`
		TotalIterations     int                 `json:"totalIterations"`
		SuccessCount        int                 `json:"successCount"`
		FailureCount        int                 `json:"failureCount"`
		SuccessRate         float64             `json:"successRate"`
		IterationsPerSec    float64             `json:"iterationsPerSec"`
		Durations           jsonDurationMetrics `json:"durations"`
		Sampled             bool                `json:"sampled,omitempty"`
		SendErrors          map[string]int      `json:"sendErrors,omitempty"`
		CorrelationMisses   int                 `json:"correlationMisses,omitempty"`
		CorrelationTimeouts int                 `json:"correlationTimeouts,omitempty"`
		Publications        map[string]int      `json:"publications,omitempty"`
		Thresholds          *ThresholdResults   `json:"thresholds,omitempty"`
	}{
		Duration:            m.TestDuration.Round(time.Millisecond).String(),
		TotalIterations:     m.TotalIterations,
		SuccessCount:        m.SuccessCount,
		FailureCount:        m.FailureCount,
		SuccessRate:         m.SuccessRate,
		IterationsPerSec:    m.IterationsPerSec,
		Durations:           toJSONDurationMetrics(m.Duration),
		Sampled:             m.Sampled,
		SendErrors:          m.SendErrors,
		CorrelationMisses:   m.CorrelationMisses,
		CorrelationTimeouts: m.CorrelationTimeouts,
		Publications:        m.Publications,
		Thresholds:          thresholds,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

// formatNumber groups thousands with commas.
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
