package testserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	for _, code := range []int{200, 201, 400, 404, 500, 503} {
		resp, err := http.Get(ts.URL + "/status/" + strconv.Itoa(code))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/status/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelayEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	start := time.Now()
	resp, err := http.Get(ts.URL + "/delay/100")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestEchoEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/echo", strings.NewReader(`{"test":"data"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(MessageNumberHeader, "41")
	req.Header.Set("Metronome-Correlation-Id", "abc")
	req.Header.Set("X-Other", "dropped")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, `{"test":"data"}`, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "41", resp.Header.Get(MessageNumberHeader))
	assert.Equal(t, "abc", resp.Header.Get("Metronome-Correlation-Id"))
	assert.Empty(t, resp.Header.Get("X-Other"))
}

func TestReplyEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/reply?field=req.key", "application/json", strings.NewReader(`{"req":{"key":"k-7"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Reply struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"reply"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "k-7", out.Reply.ID)
	assert.Equal(t, "ok", out.Reply.Status)

	resp, err = http.Post(ts.URL+"/reply", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRandomDelayEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	start := time.Now()
	resp, err := http.Get(ts.URL + "/random-delay?min=50&max=100")
	require.NoError(t, err)
	resp.Body.Close()

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestFailRateEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	for _, tc := range []struct {
		rate int
		want int
	}{{0, http.StatusOK}, {100, http.StatusInternalServerError}} {
		for i := 0; i < 10; i++ {
			resp, err := http.Get(ts.URL + "/fail-rate?rate=" + strconv.Itoa(tc.rate))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode, "rate %d", tc.rate)
		}
	}
}

func TestJSONEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	first := getJSON(t, ts.URL+"/json")
	second := getJSON(t, ts.URL+"/json")
	assert.Equal(t, "GET", first["method"])
	assert.Equal(t, "/json", first["path"])
	assert.Equal(t, first["id"].(float64)+1, second["id"])
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	assert.Equal(t, "ok", getJSON(t, ts.URL+"/health")["status"])
}

func TestHeadersEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/headers", nil)
	require.NoError(t, err)
	req.Header.Set("X-Custom", "value")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Headers map[string]string `json:"headers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "value", out.Headers["X-Custom"])
}

func TestStatsAndMetrics(t *testing.T) {
	s, ts := newTestServer(t)

	for _, n := range []string{"1", "2", "2"} {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/echo", strings.NewReader("x"))
		require.NoError(t, err)
		req.Header.Set(MessageNumberHeader, n)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, int64(3), s.Received())
	assert.Equal(t, map[string]int{"1": 1, "2": 2}, s.MessageNumbers())

	stats := getJSON(t, ts.URL+"/stats")
	assert.Equal(t, 3.0, stats["received"])
	assert.Equal(t, 2.0, stats["messageNumbers"])
	assert.Equal(t, 1.0, stats["repeatedNumbers"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `testserver_requests_total{endpoint="echo"} 3`)
}
