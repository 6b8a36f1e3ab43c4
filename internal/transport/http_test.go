package transport

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
	"metronome/testserver"
)

func TestHTTP_Send(t *testing.T) {
	srv := httptest.NewServer(testserver.NewServer().Handler())
	defer srv.Close()

	c, err := Lookup("http")
	require.NoError(t, err)
	factory, err := c(core.Properties{"url": srv.URL + "/echo", "header.Content-Type": "application/json"})
	require.NoError(t, err)
	tr, err := factory(context.Background())
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), &core.Message{Payload: []byte(`{"a":1}`)}, core.NewMeasurementUnit(0, nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `{"a":1}`, string(resp.Payload))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHTTP_ErrorStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(testserver.NewServer().Handler())
	defer srv.Close()

	factory, err := NewHTTPFactory(HTTPConfig{Method: "GET", URL: srv.URL + "/status/503"})
	require.NoError(t, err)
	tr, err := factory(context.Background())
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), &core.Message{}, core.NewMeasurementUnit(0, nil))
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHTTP_RequiresURL(t *testing.T) {
	_, err := NewHTTPFactory(HTTPConfig{})
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestTruncateBody(t *testing.T) {
	long := make([]byte, maxBodyLogSize+10)
	assert.Contains(t, truncateBody(long), "truncated")
	assert.Equal(t, "short", truncateBody([]byte("short")))
}
