package ratelimit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/config"
	"metronome/internal/core"
)

func TestProfile_FloorLookup(t *testing.T) {
	p, err := NewProfile([]Entry{
		{At: 1000, Threads: 4, Speed: 40},
		{At: 0, Threads: 1, Speed: 10},
		{At: 3000, Threads: 8, Speed: 0},
	}, false)
	require.NoError(t, err)

	tests := []struct {
		progress int64
		threads  int
	}{
		{0, 1}, {999, 1}, {1000, 4}, {2999, 4}, {3000, 8}, {100000, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.threads, p.At(tt.progress).Threads, "progress %d", tt.progress)
	}
	assert.Equal(t, 8, p.MaxThreads())
}

func TestProfile_FallsBackToFirstEntry(t *testing.T) {
	p, err := NewProfile([]Entry{{At: 500, Threads: 2}, {At: 800, Threads: 3}}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.At(0).Threads)
}

func TestProfile_AutoReplay(t *testing.T) {
	p, err := NewProfile([]Entry{
		{At: 0, Threads: 1},
		{At: 50, Threads: 2},
		{At: 100, Threads: 3},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, p.At(0).Threads)
	assert.Equal(t, 2, p.At(75).Threads)
	assert.Equal(t, 1, p.At(100).Threads, "wraps at the last key")
	assert.Equal(t, 2, p.At(160).Threads)
	assert.True(t, p.AutoReplay())
}

func TestNewProfile_Invalid(t *testing.T) {
	tests := map[string][]Entry{
		"empty":            nil,
		"negative key":     {{At: -1, Threads: 1}},
		"negative threads": {{At: 0, Threads: -1}},
		"negative speed":   {{At: 0, Threads: 1, Speed: -2}},
		"duplicate key":    {{At: 5, Threads: 1}, {At: 5, Threads: 2}},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewProfile(entries, false)
			assert.ErrorIs(t, err, core.ErrConfig)
		})
	}
}

func TestParseCSV(t *testing.T) {
	in := `# key;threads;speed
0;1;10

5000;4;2.5
10000; 8; 0
`
	entries, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{At: 0, Threads: 1, Speed: 10},
		{At: 5000, Threads: 4, Speed: 2.5},
		{At: 10000, Threads: 8, Speed: 0},
	}, entries)
}

func TestParseCSV_Malformed(t *testing.T) {
	for _, in := range []string{"0;1", "x;1;1", "0;y;1", "0;1;z"} {
		_, err := ParseCSV(strings.NewReader(in))
		assert.ErrorIs(t, err, core.ErrConfig, in)
	}
}

func TestFromPhases(t *testing.T) {
	entries, total, err := FromPhases([]config.Phase{
		{Name: "ramp_up", Duration: 3 * time.Second, StartActors: 1, EndActors: 4},
		{Name: "steady", Duration: 10 * time.Second, Actors: 4, RPS: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 13*time.Second, total)
	assert.Equal(t, []Entry{
		{At: 0, Threads: 1},
		{At: 1000, Threads: 2},
		{At: 2000, Threads: 3},
		{At: 3000, Threads: 4, Speed: 100},
	}, entries)

	_, _, err = FromPhases(nil)
	assert.ErrorIs(t, err, core.ErrConfig)
	_, _, err = FromPhases([]config.Phase{{Name: "bad"}})
	assert.ErrorIs(t, err, core.ErrConfig)
}
