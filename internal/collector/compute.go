package collector

import (
	"sort"
	"time"
)

// Metrics is the end-of-run summary.
type Metrics struct {
	Started             int             `json:"started"`
	TotalIterations     int             `json:"totalIterations"`
	SuccessCount        int             `json:"successCount"`
	FailureCount        int             `json:"failureCount"`
	SuccessRate         float64         `json:"successRate"`
	IterationsPerSec    float64         `json:"iterationsPerSec"`
	TestDuration        time.Duration   `json:"testDuration"`
	Duration            DurationMetrics `json:"durations"`
	SendErrors          map[string]int  `json:"sendErrors"`
	CorrelationMisses   int             `json:"correlationMisses"`
	CorrelationTimeouts int             `json:"correlationTimeouts"`
	Publications        map[string]int  `json:"publications"`
	DestinationErrors   map[string]int  `json:"destinationErrors"`
	PeakSlots           int             `json:"peakSlots"`
	Sampled             bool            `json:"sampled"`
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

func (m *Metrics) finish(durations []time.Duration) {
	if m.TotalIterations > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalIterations) * 100
	}
	if m.TestDuration > 0 {
		m.IterationsPerSec = float64(m.TotalIterations) / m.TestDuration.Seconds()
	}
	m.Duration = ComputeDurationMetrics(durations)
}

// ComputePercentile returns the nearest-rank percentile p (0..1) of an
// ascending slice.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

// ComputeDurationMetrics calculates latency statistics. The input is not modified.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}
