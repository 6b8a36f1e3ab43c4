package destination

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func sample(iteration int64, percentage int) *core.Measurement {
	m := core.NewMeasurement(percentage, 75*time.Second, iteration)
	m.SetResult(core.Quantity{Number: 12.5, Unit: "ms"})
	m.Set("Maximum", core.Quantity{Number: 40, Unit: "ms"})
	m.Set(core.WarmUpTag, false)
	return m
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole("rt ")
	c.SetOutput(&buf)
	require.NoError(t, c.Open())
	require.NoError(t, c.Report(sample(9, 10)))
	require.NoError(t, c.Close())

	assert.Equal(t, "rt [0:01:15][10 iterations][10%] [12.5 ms] [Maximum => 40 ms] [warm-up => false]\n", buf.String())
	assert.True(t, c.ConcurrentSafe())
}

func TestLog(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	l := NewLog(logger, log.WarnLevel)
	require.NoError(t, l.Report(sample(4, 50)))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, 50, entry.Data["percentage"])
	assert.Equal(t, int64(4), entry.Data["iteration"])
	assert.Equal(t, "12.5 ms", entry.Data[core.DefaultResult])
	assert.Equal(t, "40 ms", entry.Data["Maximum"])
}

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rt.csv")
	c, err := NewCSV(CSVConfig{Path: path})
	require.NoError(t, err)

	require.NoError(t, c.Open())
	require.NoError(t, c.Report(sample(0, 1)))
	partial := core.NewMeasurement(100, 2*time.Hour, 99)
	partial.Set("Maximum", 41.0)
	require.NoError(t, c.Report(partial))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "closing twice is harmless")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"Time;Iterations;Percentage;Result;Maximum;warm-up",
		"0:01:15;1;1;12.5;40;false",
		"2:00:00;100;100;;41;",
		"",
	}, "\n"), string(data))
}

func TestCSV_AppendSkipsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.csv")
	for i := 0; i < 2; i++ {
		c, err := NewCSV(CSVConfig{Path: path, Delimiter: ",", Append: true})
		require.NoError(t, err)
		require.NoError(t, c.Open())
		require.NoError(t, c.Report(sample(int64(i), 0)))
		require.NoError(t, c.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Time,"))
}

func TestCSV_Errors(t *testing.T) {
	_, err := NewCSV(CSVConfig{})
	assert.True(t, core.IsConfigError(err))
	_, err = NewCSV(CSVConfig{Path: "x.csv", Delimiter: "::"})
	assert.True(t, core.IsConfigError(err))

	c, err := NewCSV(CSVConfig{Path: filepath.Join(t.TempDir(), "x.csv")})
	require.NoError(t, err)
	assert.Error(t, c.Report(sample(0, 0)), "report before open")
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPrometheus(reg, "a")
	require.NoError(t, err)
	b, err := NewPrometheus(reg, "b")
	require.NoError(t, err, "second instance shares the gauges")

	require.NoError(t, a.Report(sample(9, 10)))
	require.NoError(t, b.Report(sample(19, 20)))

	assert.Equal(t, 12.5, testutil.ToFloat64(a.results.WithLabelValues("a", core.DefaultResult)))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.results.WithLabelValues("a", core.WarmUpTag)))
	assert.Equal(t, 20.0, testutil.ToFloat64(b.percentage.WithLabelValues("b")))
	assert.Equal(t, 10.0, testutil.ToFloat64(a.iteration.WithLabelValues("a")))

	require.NoError(t, a.Close())
	assert.Equal(t, 3, testutil.CollectAndCount(b.results), "only b's series remain")

	_, err = NewPrometheus(nil, "c")
	assert.True(t, core.IsConfigError(err))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	assert.Nil(t, m.Last())
	require.NoError(t, m.Open())
	require.NoError(t, m.Report(sample(0, 1)))
	require.NoError(t, m.Report(sample(1, 2)))
	require.NoError(t, m.Close())

	assert.Len(t, m.Measurements(), 2)
	assert.Equal(t, int64(1), m.Last().Iteration)
	assert.Equal(t, 1, m.Opened())
	assert.Equal(t, 1, m.Closed())
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	env := Env{Registerer: prometheus.NewRegistry(), Stdout: &buf, BaseDir: t.TempDir()}

	for _, name := range Names() {
		props := core.Properties{}
		if name == "csv" {
			props["path"] = "out.csv"
		}
		d, err := New(name, props, env)
		require.NoError(t, err, name)
		require.NotNil(t, d, name)
	}

	d, err := New("csv", core.Properties{"path": "rel.csv"}, env)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.BaseDir, "rel.csv"), d.(*CSV).cfg.Path)

	_, err = New("carrier-pigeon", nil, env)
	assert.True(t, core.IsConfigError(err))
	_, err = New("log", core.Properties{"level": "loud"}, env)
	assert.True(t, core.IsConfigError(err))
}
