package scenario

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/collector"
	"metronome/internal/config"
	"metronome/internal/core"
	"metronome/internal/generator"
	"metronome/internal/metrics"
)

func mustParse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.ParseString(yaml)
	require.NoError(t, err)
	return cfg
}

func run(t *testing.T, cfg *config.Config, env Env) (*Result, error) {
	t.Helper()
	s, err := Build(context.Background(), cfg, env)
	require.NoError(t, err)
	return s.Run(context.Background())
}

func TestRun_IterationScenario(t *testing.T) {
	cfg := mustParse(t, `
run: "200"
generator:
  threads: 4
transport:
  type: dummy
reporters:
  - type: iterations-per-second
    destinations:
      - type: console
        periods: ["50%"]
  - type: response-time
    destinations:
      - type: console
        periods: ["100%"]
        properties:
          prefix: "rt "
`)
	var out bytes.Buffer
	res, err := run(t, cfg, Env{Stdout: &out})
	require.NoError(t, err)

	assert.Equal(t, 200, res.Metrics.TotalIterations)
	assert.Equal(t, 0, res.Metrics.FailureCount)
	assert.Equal(t, collector.ExitOK, res.ExitCode())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, out.String())
	var rt []string
	for _, l := range lines {
		if strings.HasPrefix(l, "rt ") {
			rt = append(rt, l)
		}
	}
	require.Len(t, rt, 1)
	assert.Contains(t, rt[0], "[200 iterations][100%]")
	assert.Contains(t, rt[0], " ms]")
}

func TestRun_ThresholdsFail(t *testing.T) {
	cfg := mustParse(t, `
run: "100"
transport:
  type: dummy
  properties:
    failEvery: 2
thresholds:
  failed:
    rate: "1%"
`)
	res, err := run(t, cfg, Env{})
	require.NoError(t, err)

	assert.Equal(t, 50, res.Metrics.FailureCount)
	assert.Equal(t, 50, res.Metrics.SendErrors[string(core.PhaseSend)])
	assert.False(t, res.Thresholds.Passed)
	assert.Equal(t, collector.ExitThresholdsFailed, res.ExitCode())
}

func TestRun_FailFastFromEnv(t *testing.T) {
	cfg := mustParse(t, `
run: "1000"
transport:
  type: dummy
  properties:
    failEvery: 5
`)
	res, err := run(t, cfg, Env{FailFast: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, generator.ErrAborted)
	assert.Equal(t, collector.ExitError, res.ExitCode())
	assert.Less(t, res.Metrics.TotalIterations, 1000)
}

func TestRun_CorrelatedAsyncReplies(t *testing.T) {
	cfg := mustParse(t, `
run: "50"
generator:
  threads: 5
transport:
  type: dummy
  properties:
    async: true
    delay: 2ms
correlator:
  type: header
  timeout: 2s
`)
	res, err := run(t, cfg, Env{})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Metrics.SuccessCount)
	assert.Zero(t, res.Metrics.CorrelationTimeouts)
	assert.Zero(t, res.Metrics.CorrelationMisses)
}

func TestRun_FilesSequencesAndValidation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "body.json"), []byte(`{"status":"ok","user":"${user}","n":"${message_number}"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenario.yaml"), []byte(`
run: "20"
messages:
  - file: body.json
sequences:
  - name: user
    type: number
    properties:
      start: 100
validation:
  status: ok
reporters:
  - type: throughput
    destinations:
      - type: csv
        periods: ["10"]
        properties:
          path: out/throughput.csv
`), 0o644))

	cfg, err := config.LoadConfig(filepath.Join(dir, "scenario.yaml"))
	require.NoError(t, err)
	res, err := run(t, cfg, Env{})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Metrics.SuccessCount)

	f, err := os.Open(filepath.Join(dir, "out", "throughput.csv"))
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3, "header plus iterations 0, 9 and 19")
	assert.Equal(t, []string{"Time", "Iterations", "Percentage"}, rows[0][:3])
	assert.Equal(t, "20", rows[len(rows)-1][1])
}

func TestRun_PrometheusSinkAndDestination(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)

	cfg := mustParse(t, `
run: "30"
reporters:
  - type: iterations-per-second
    destinations:
      - type: prometheus
        periods: ["10"]
        properties:
          name: ips
`)
	_, err = run(t, cfg, Env{Registerer: reg, Sinks: []metrics.Sink{sink}})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				got[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 30.0, got["metronome_iterations_started_total"])
	assert.Equal(t, 30.0, got["metronome_iterations_finished_total"])
	assert.Greater(t, got["metronome_publications_total"], 0.0)
}

func TestRun_PhaseProfile(t *testing.T) {
	cfg := mustParse(t, `
generator:
  shutdownPeriod: 1s
  profile:
    phases:
      - name: steady
        duration: 300ms
        actors: 3
transport:
  type: dummy
  properties:
    delay: 1ms
`)
	assert.Equal(t, 3, cfg.Transport.PoolSize)

	res, err := run(t, cfg, Env{})
	require.NoError(t, err)
	assert.Greater(t, res.Metrics.TotalIterations, 0)
	assert.Equal(t, 3, res.Metrics.PeakSlots)
}

func TestRun_Interrupted(t *testing.T) {
	cfg := mustParse(t, `
run: 1h
transport:
  type: dummy
  properties:
    delay: 1ms
`)
	s, err := Build(context.Background(), cfg, Env{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()

	res, err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, res.Metrics.TotalIterations, 0)
	assert.False(t, s.Tracker().IsRunning())
}

func TestBuild_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown transport":    "run: 1s\ntransport: {type: carrier-pigeon}",
		"bad transport props":  "run: 1s\ntransport: {type: http}",
		"unknown reporter":     "run: 1s\nreporters: [{type: astrology}]",
		"unknown destination":  "run: 1s\nreporters: [{type: throughput, destinations: [{type: fax, periods: [\"1s\"]}]}]",
		"warm-up destination":  "run: 1s\nreporters: [{type: warm-up, destinations: [{type: console, periods: [\"1s\"]}]}]",
		"unknown sequence":     "run: 1s\nsequences: [{name: a, type: fibonacci}]",
		"missing profile csv":  "run: 1s\ngenerator: {profile: {csv: nowhere.csv}}",
		"missing message":      "run: 1s\nmessages: [{file: nowhere.txt}]",
		"negative profile key": "run: \"10\"\ngenerator: {profile: {entries: [{at: -1, threads: 1}]}}",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := mustParse(t, yaml)
			cfg.BaseDir = dir
			_, err := Build(context.Background(), cfg, Env{})
			require.Error(t, err)
			assert.True(t, core.IsConfigError(err), "%v", err)
		})
	}
}
