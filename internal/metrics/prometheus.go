package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"metronome/internal/core"
)

const namespace = "metronome"

// Prometheus exports engine events as Prometheus collectors.
type Prometheus struct {
	iterationsStarted  prometheus.Counter
	iterationsFinished *prometheus.CounterVec
	iterationDuration  prometheus.Histogram
	sendErrors         *prometheus.CounterVec
	correlationMisses  prometheus.Counter
	correlationTimeout prometheus.Counter
	publications       *prometheus.CounterVec
	destinationErrors  *prometheus.CounterVec
	activeSlots        prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		iterationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_started_total",
			Help:      "Number of iterations handed to worker slots",
		}),
		iterationsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_finished_total",
			Help:      "Number of completed iterations by outcome",
		}, []string{"outcome"}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Measured time of completed iterations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Transport failures by phase",
		}, []string{"phase"}),
		correlationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_misses_total",
			Help:      "Replies that matched no pending request",
		}),
		correlationTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_timeouts_total",
			Help:      "Pending requests that expired without a reply",
		}),
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Measurements published to destinations",
		}, []string{"reporter", "period"}),
		destinationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destination_errors_total",
			Help:      "Destination failures while reporting",
		}, []string{"destination"}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Worker slots currently running",
		}),
	}
	for _, c := range []prometheus.Collector{
		p.iterationsStarted, p.iterationsFinished, p.iterationDuration, p.sendErrors,
		p.correlationMisses, p.correlationTimeout, p.publications, p.destinationErrors, p.activeSlots,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) IterationStarted() {
	p.iterationsStarted.Inc()
}

func (p *Prometheus) IterationFinished(d time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	p.iterationsFinished.WithLabelValues(outcome).Inc()
	p.iterationDuration.Observe(d.Seconds())
}

func (p *Prometheus) SendError(phase core.SendPhase) {
	p.sendErrors.WithLabelValues(string(phase)).Inc()
}

func (p *Prometheus) CorrelationMiss() {
	p.correlationMisses.Inc()
}

func (p *Prometheus) CorrelationTimeout() {
	p.correlationTimeout.Inc()
}

func (p *Prometheus) Published(reporter string, period core.PeriodType) {
	p.publications.WithLabelValues(reporter, period.String()).Inc()
}

func (p *Prometheus) DestinationError(destination string) {
	p.destinationErrors.WithLabelValues(destination).Inc()
}

func (p *Prometheus) ActiveSlots(n int) {
	p.activeSlots.Set(float64(n))
}
