package accumulator

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
	"metronome/internal/window"
)

func TestEmptyConventions(t *testing.T) {
	assert.Equal(t, 0.0, NewAvg().Result())
	assert.Equal(t, 0.0, NewSum().Result())
	assert.Equal(t, 0.0, NewHarmonic().Result())
	assert.True(t, math.IsInf(NewMax().Result(), -1))
	assert.True(t, math.IsInf(NewMin().Result(), 1))
	assert.Equal(t, int64(math.MinInt64), NewMaxInt64().Result())

	slidingMin, err := NewSlidingMin(10)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(slidingMin.Result()))
	slidingMax, err := NewSlidingMax(10)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(slidingMax.Result()))
	slidingAvg, err := NewSlidingAvg(10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, slidingAvg.Result())
	slidingHarmonic, err := NewSlidingHarmonic(10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, slidingHarmonic.Result())

	assert.True(t, math.IsNaN(NewWeightedMean().Result().Value))
	assert.True(t, math.IsNaN(NewWeightedHarmonicMean().Result().Value))

	_, set := NewLastValue[string]().Value()
	assert.False(t, set)
}

func TestBasicAccumulators(t *testing.T) {
	values := []float64{4, 1, 2, 8}
	tests := []struct {
		name string
		acc  Accumulator[float64]
		want float64
	}{
		{"sum", NewSum(), 15},
		{"avg", NewAvg(), 3.75},
		{"max", NewMax(), 8},
		{"min", NewMin(), 1},
		{"harmonic", NewHarmonic(), 4 / (1.0/4 + 1 + 1.0/2 + 1.0/8)},
		{"last", NewLastValue[float64](), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range values {
				tt.acc.Add(v)
			}
			assert.InDelta(t, tt.want, tt.acc.Result(), 1e-9)
			tt.acc.Reset()
			tt.acc.Add(5)
			assert.Equal(t, 5.0, tt.acc.Result())
		})
	}
}

func TestSlidingAccumulators(t *testing.T) {
	avg, err := NewSlidingAvg(3)
	require.NoError(t, err)
	min, err := NewSlidingMin(3)
	require.NoError(t, err)
	max, err := NewSlidingMax(3)
	require.NoError(t, err)
	for _, v := range []float64{10, 1, 2, 3} {
		avg.Add(v)
		min.Add(v)
		max.Add(v)
	}
	assert.Equal(t, 2.0, avg.Result())
	assert.Equal(t, 1.0, min.Result())
	assert.Equal(t, 3.0, max.Result(), "10 slid out of the window")

	max.Reset()
	assert.True(t, math.IsNaN(max.Result()))

	_, err = NewSlidingAvg(0)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestWeightedAccumulators(t *testing.T) {
	mean := NewWeightedMean()
	harmonic := NewWeightedHarmonicMean()
	for _, v := range []WeightedValue{{Value: 2, Weight: 1}, {Value: 4, Weight: 3}} {
		mean.Add(v)
		harmonic.Add(v)
	}
	assert.Equal(t, WeightedValue{Value: 3.5, Weight: 1}, mean.Result())
	assert.InDelta(t, 4/(1.0/2+3.0/4), harmonic.Result().Value, 1e-9)

	mean.Reset()
	assert.True(t, math.IsNaN(mean.Result().Value))
}

func TestTimeWindowed(t *testing.T) {
	clock := core.NewFakeClock(time.UnixMilli(0))
	acc, err := NewTimeWindowed[float64](500*time.Millisecond,
		func() Accumulator[float64] { return NewAvg() }, window.WithClock(clock))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		require.NoError(t, acc.AddAt(float64(i), int64(i*100)))
	}
	assert.Equal(t, 3.0, acc.ResultAt(500))
	assert.Equal(t, 4.0, acc.ResultAt(601))
	assert.Equal(t, 7.5, acc.ResultAt(1000))
	assert.Equal(t, 10.0, acc.ResultAt(1500))
	assert.Equal(t, 0.0, acc.ResultAt(1501))

	acc.Reset()
	clock.Set(time.UnixMilli(5000))
	acc.Add(42)
	assert.Equal(t, 42.0, acc.Result())
}

func TestConcurrentAdd(t *testing.T) {
	const goroutines, perGoroutine = 500, 100
	sum := NewSum()
	avg := NewAvg()
	max := NewMaxInt64()
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				sum.Add(1)
				avg.Add(2)
				max.Add(int64(g))
				_ = avg.Result()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, float64(goroutines*perGoroutine), sum.Result())
	assert.Equal(t, 2.0, avg.Result())
	assert.Equal(t, int64(goroutines-1), max.Result())
}

func TestRegistry(t *testing.T) {
	f, err := Lookup("avg")
	require.NoError(t, err)
	a := f()
	a.Add(1)
	a.Add(3)
	assert.Equal(t, 2.0, a.Result())

	_, err = Lookup("median")
	assert.ErrorIs(t, err, core.ErrConfig)

	Register("double-sum", func() Accumulator[float64] { return NewSum() })
	_, err = Lookup("double-sum")
	assert.NoError(t, err)

	s, err := NewSliding("max", 2)
	require.NoError(t, err)
	s.Add(1)
	assert.Equal(t, 1.0, s.Result())

	_, err = NewSliding("sum", 2)
	assert.ErrorIs(t, err, core.ErrConfig)
}
