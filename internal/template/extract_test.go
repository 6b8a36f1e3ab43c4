package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func TestExtract(t *testing.T) {
	body := []byte(`{
		"auth": {"token": "abc123", "expires": 3600},
		"items": [{"id": 1, "name": "a"}, {"id": 2, "name": "b"}],
		"active": true
	}`)
	got, err := Extract(body, map[string]string{
		"token":  "$.auth.token",
		"second": "$.items[1].id",
		"names":  "$.items[*].name",
		"active": "$.active",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", got["token"])
	assert.Equal(t, float64(2), got["second"])
	assert.Equal(t, []any{"a", "b"}, got["names"])
	assert.Equal(t, true, got["active"])
}

func TestExtract_Errors(t *testing.T) {
	got, err := Extract([]byte(`{}`), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Extract([]byte(`not json`), map[string]string{"f": "$.f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	_, err = Extract([]byte(`{"name":"x"}`), map[string]string{"missing1": "$.a", "missing2": "$.b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing1")
	assert.Contains(t, err.Error(), "missing2")
}

func TestExtractor_Reuse(t *testing.T) {
	e := NewExtractor(map[string]string{"id": "$.reply.id", "first": "items.0"})
	for _, body := range []string{`{"reply":{"id":"a"},"items":[1]}`, `{"reply":{"id":"b"},"items":[2]}`} {
		got, err := e.Extract([]byte(body))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	got, err := e.Extract([]byte(`{"reply":{"id":"c"},"items":[3]}`))
	require.NoError(t, err)
	assert.Equal(t, "c", got["id"])
	assert.Equal(t, float64(3), got["first"])
}

func TestConvertJSONPath(t *testing.T) {
	tests := map[string]string{
		"$.foo.bar":      "foo.bar",
		"$foo.bar":       "foo.bar",
		"foo.bar":        "foo.bar",
		"$.items[10].id": "items.10.id",
		"$.data[*].name": "data.#.name",
		"$":              "",
		"items.#.id":     "items.#.id",
	}
	for in, want := range tests {
		assert.Equal(t, want, ConvertJSONPath(in), in)
	}
}

func TestMessage_Render(t *testing.T) {
	m, err := NewMessage("order", `{"seq":${seq},"id":"${uuid()}"}`, map[string]string{"X-Seq": "${seq}"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Multiplicity)

	msg, err := m.Render(mapVars("seq", "7"))
	require.NoError(t, err)
	assert.Regexp(t, `^\{"seq":7,"id":"[0-9a-f-]{36}"\}$`, string(msg.Payload))
	assert.Equal(t, "7", msg.Header("X-Seq"))

	_, err = m.Render(core.NewVariables())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `message "order" payload`)
}

func TestMessage_StaticCopiesHeaders(t *testing.T) {
	headers := map[string]string{"Content-Type": "text/plain"}
	m, err := NewMessage("ping", "ping", headers, 3)
	require.NoError(t, err)

	msg, err := m.Render(nil)
	require.NoError(t, err)
	msg.SetHeader("Content-Type", "changed")
	assert.Equal(t, "text/plain", headers["Content-Type"])
	assert.Equal(t, "ping", string(msg.Payload))

	_, err = NewMessage("bad", "", nil, -1)
	assert.True(t, core.IsConfigError(err))
}

func TestExpectJSON(t *testing.T) {
	v := ExpectJSON(map[string]string{"$.echo.id": "${Request-Id}", "$.ok": "true"})
	req := &core.Message{Headers: map[string]string{"Request-Id": "r1"}}

	assert.NoError(t, v.Validate(req, &core.Response{Payload: []byte(`{"ok":true,"echo":{"id":"r1"}}`)}))
	assert.Error(t, v.Validate(req, &core.Response{Payload: []byte(`{"ok":false,"echo":{"id":"r1"}}`)}))
	assert.Error(t, v.Validate(req, nil))
	assert.NoError(t, ExpectJSON(nil).Validate(req, nil))
}

func BenchmarkExtract(b *testing.B) {
	body := []byte(`{"auth": {"token": "abc123"}, "user": {"id": 42}}`)
	rules := map[string]string{"token": "$.auth.token", "id": "$.user.id"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Extract(body, rules)
	}
}
