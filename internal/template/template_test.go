package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func TestSubstitute(t *testing.T) {
	vars := core.NewVariables()
	vars.Set("token", "abc123")
	vars.Set("iteration", int64(41))
	vars.Set("ratio", 0.25)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders", `{"static":true}`, `{"static":true}`},
		{"empty", "", ""},
		{"single", "Bearer ${token}", "Bearer abc123"},
		{"repeated", "${token}-${token}", "abc123-abc123"},
		{"integer", "it=${iteration}", "it=41"},
		{"float", "r=${ratio}", "r=0.25"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Substitute(tc.in, vars)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSubstitute_Environment(t *testing.T) {
	t.Setenv("METRONOME_TEST_HOST", "broker.local")

	got, err := Substitute("tcp://${env:METRONOME_TEST_HOST}:1883/${token}", mapVars("token", "x"))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker.local:1883/x", got)

	_, err = Substitute("${env:METRONOME_TEST_UNSET}", core.NewVariables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `env var "METRONOME_TEST_UNSET" not set`)
}

func TestSubstitute_MissingVariablesJoined(t *testing.T) {
	_, err := Substitute("${missing1} and ${missing2}", core.NewVariables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "missing1" not found`)
	assert.Contains(t, err.Error(), `variable "missing2" not found`)
}

func TestSubstituteMap(t *testing.T) {
	headers := map[string]string{
		"Authorization": "Bearer ${token}",
		"X-Static":      "plain",
	}
	got, err := SubstituteMap(headers, mapVars("token", "abc"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc", "X-Static": "plain"}, got)

	got, err = SubstituteMap(nil, core.NewVariables())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = SubstituteMap(map[string]string{"k": "${nope}"}, core.NewVariables())
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	tests := []struct {
		in     string
		static bool
		want   string
	}{
		{"plain", true, "plain"},
		{"", true, ""},
		{"${}", true, "${}"},
		{"open ${token", true, "open ${token"},
		{"a ${token} b", false, "a abc b"},
		{"${Request-Id}", false, "r-1"},
	}
	vars := mapVars("token", "abc", "Request-Id", "r-1")
	for _, tc := range tests {
		tmpl, err := Compile(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.static, tmpl.Static(), tc.in)
		got, err := tmpl.Execute(vars)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestCompile_ReportsEveryBadCall(t *testing.T) {
	_, err := Compile("${uuid(1)} ${random(1)} ${fine}")
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.Contains(t, err.Error(), "uuid()")
	assert.Contains(t, err.Error(), "random()")
}

func TestTemplate_ConcurrentExecute(t *testing.T) {
	tmpl, err := Compile("${token}-${random(1,9)}")
	require.NoError(t, err)
	vars := mapVars("token", "x")

	done := make(chan string, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			s, _ := tmpl.Execute(vars)
			done <- s
		}()
	}
	for i := 0; i < cap(done); i++ {
		assert.Regexp(t, `^x-[1-9]$`, <-done)
	}
}

func mapVars(kv ...string) *core.MapVariables {
	vars := core.NewVariables()
	for i := 0; i+1 < len(kv); i += 2 {
		vars.Set(kv[i], kv[i+1])
	}
	return vars
}

func BenchmarkSubstitute(b *testing.B) {
	vars := mapVars("base", "https://api.example.com", "id", "12345")
	tmpl, err := Compile("${base}/items/${id}")
	require.NoError(b, err)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = tmpl.Execute(vars)
	}
}
