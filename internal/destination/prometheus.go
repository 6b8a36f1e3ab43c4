package destination

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"metronome/internal/core"
)

// Prometheus exposes the latest measurement as gauges. Every destination
// instance is labelled with its own name so several can share a registry.
type Prometheus struct {
	name       string
	results    *prometheus.GaugeVec
	percentage *prometheus.GaugeVec
	iteration  *prometheus.GaugeVec

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPrometheus registers the gauges with reg. Gauges already registered by
// another instance are shared.
func NewPrometheus(reg prometheus.Registerer, name string) (*Prometheus, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: prometheus destination needs a registry", core.ErrConfig)
	}
	if name == "" {
		name = "default"
	}
	results := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metronome",
		Name:      "result",
		Help:      "Latest published result value",
	}, []string{"destination", "result"})
	percentage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metronome",
		Name:      "progress_percent",
		Help:      "Run completion at the latest publication",
	}, []string{"destination"})
	iteration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "metronome",
		Name:      "progress_iterations",
		Help:      "Iterations counted at the latest publication",
	}, []string{"destination"})

	var err error
	if results, err = registerOrReuse(reg, results); err != nil {
		return nil, err
	}
	if percentage, err = registerOrReuse(reg, percentage); err != nil {
		return nil, err
	}
	if iteration, err = registerOrReuse(reg, iteration); err != nil {
		return nil, err
	}
	return &Prometheus{
		name:       name,
		results:    results,
		percentage: percentage,
		iteration:  iteration,
		seen:       make(map[string]struct{}),
	}, nil
}

func registerOrReuse(reg prometheus.Registerer, g *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return g, nil
}

func (p *Prometheus) Name() string         { return "prometheus:" + p.name }
func (p *Prometheus) Open() error          { return nil }
func (p *Prometheus) ConcurrentSafe() bool { return true }

func (p *Prometheus) Report(m *core.Measurement) error {
	p.percentage.WithLabelValues(p.name).Set(float64(m.Percentage))
	p.iteration.WithLabelValues(p.name).Set(float64(m.Iteration + 1))
	for _, name := range m.Names() {
		v, _ := m.Get(name)
		if f, ok := gaugeValue(v); ok {
			p.results.WithLabelValues(p.name, name).Set(f)
			p.mu.Lock()
			p.seen[name] = struct{}{}
			p.mu.Unlock()
		}
	}
	return nil
}

// Close drops this destination's series.
func (p *Prometheus) Close() error {
	p.percentage.DeleteLabelValues(p.name)
	p.iteration.DeleteLabelValues(p.name)
	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.seen {
		p.results.DeleteLabelValues(p.name, name)
	}
	p.seen = make(map[string]struct{})
	return nil
}

func gaugeValue(v any) (float64, bool) {
	switch n := v.(type) {
	case core.Quantity:
		return n.Number, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return n.Seconds(), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
