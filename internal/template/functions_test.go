package template

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func TestFunctions(t *testing.T) {
	id, err := fnUUID(nil)
	require.NoError(t, err)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	before := time.Now().UnixMilli()
	ms, err := fnTimestamp([]string{"ms"})
	require.NoError(t, err)
	n, err := strconv.ParseInt(ms, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, before)

	_, err = fnTimestamp([]string{"fortnights"})
	assert.Error(t, err)

	v, err := fnRandom([]string{"5", "15"})
	require.NoError(t, err)
	r, err := strconv.Atoi(v)
	require.NoError(t, err)
	assert.True(t, r >= 5 && r <= 15, "random %d out of range", r)

	v, err = fnRandom([]string{"42", "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	s, err := fnRandomString([]string{"16"})
	require.NoError(t, err)
	assert.Regexp(t, `^[a-zA-Z0-9]{16}$`, s)

	d, err := fnDate([]string{"2006-01-02"})
	require.NoError(t, err)
	assert.Equal(t, time.Now().Format("2006-01-02"), d)

	t.Setenv("METRONOME_TEST_REGION", "eu")
	e, err := fnEnv([]string{"METRONOME_TEST_REGION"})
	require.NoError(t, err)
	assert.Equal(t, "eu", e)
	e, err = fnEnv([]string{"METRONOME_TEST_UNSET", "us"})
	require.NoError(t, err)
	assert.Equal(t, "us", e)
	_, err = fnEnv([]string{"METRONOME_TEST_UNSET"})
	assert.Error(t, err)
}

func TestFunctions_InvalidArgs(t *testing.T) {
	for _, args := range [][]string{{"a", "b"}, {"10", "5"}, {"1", ""}} {
		_, err := fnRandom(args)
		assert.Error(t, err, "random(%v)", args)
	}
	for _, args := range []string{"", "abc", "0", "-5", "1001"} {
		_, err := fnRandomString([]string{args})
		assert.Error(t, err, "random_string(%s)", args)
	}
}

func TestParseCall_Arity(t *testing.T) {
	tests := map[string]string{
		"uuid(x)":          "takes 0 argument(s), got 1",
		"random(1)":        "takes 2 argument(s), got 1",
		"random(1,2,3)":    "takes 2 argument(s), got 3",
		"timestamp(s, ms)": "takes 0 to 1 arguments, got 2",
		"env()":            "takes 1 to 2 arguments, got 0",
	}
	for expr, want := range tests {
		_, _, ok, err := parseCall(expr)
		assert.True(t, ok, expr)
		require.Error(t, err, expr)
		assert.Contains(t, err.Error(), want, expr)
	}

	_, _, ok, err := parseCall("nosuch(1)")
	assert.False(t, ok)
	assert.NoError(t, err)

	_, args, ok, err := parseCall("random( 1 , 9 )")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"1", "9"}, args)
}

func TestFuncNames(t *testing.T) {
	assert.Equal(t, []string{"date", "env", "random", "random_string", "timestamp", "timestamp_ms", "uuid"}, FuncNames())
}

func TestSubstitute_Functions(t *testing.T) {
	vars := core.NewVariables()
	vars.Set("user", "alice")

	tests := []struct {
		in      string
		pattern string
	}{
		{"${uuid()}", `^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`},
		{"${timestamp()}", `^\d{10}$`},
		{"${timestamp_ms()}", `^\d{13}$`},
		{"${timestamp(us)}", `^\d{16}$`},
		{"${env(METRONOME_TEST_UNSET, fallback)}", `^fallback$`},
		{"${random(1,100)}", `^\d{1,3}$`},
		{"${random_string(8)}", `^[a-zA-Z0-9]{8}$`},
		{"${date(2006-01-02)}", `^\d{4}-\d{2}-\d{2}$`},
		{"user=${user}&session=${uuid()}", `^user=alice&session=[0-9a-f-]{36}$`},
	}
	for _, tc := range tests {
		got, err := Substitute(tc.in, vars)
		require.NoError(t, err, tc.in)
		assert.Regexp(t, tc.pattern, got, tc.in)
	}
}

func TestSubstitute_FunctionErrors(t *testing.T) {
	_, err := Substitute("${random(abc)}", core.NewVariables())
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))

	_, err = Substitute("${random(9,1)}", core.NewVariables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be <= max")

	// unknown functions fall through to variable lookup
	_, err = Substitute("${unknown_func()}", core.NewVariables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func BenchmarkSubstitute_WithFunction(b *testing.B) {
	vars := core.NewVariables()
	text := "id=${uuid()}&ts=${timestamp()}"

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Substitute(text, vars)
	}
}
