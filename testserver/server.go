// Package testserver provides a configurable HTTP target for load runs.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// MessageNumberHeader is echoed back so that replies can be matched to
// requests by header.
const MessageNumberHeader = "Metronome-Message-Number"

// Server is a configurable HTTP test server.
type Server struct {
	mux       *http.ServeMux
	requestID atomic.Int64
	reg       *prometheus.Registry
	requests  *prometheus.CounterVec

	mu       sync.Mutex
	numbers  map[string]int
	received int64
}

// NewServer creates a new test server with all endpoints configured.
func NewServer() *Server {
	s := &Server{
		mux: http.NewServeMux(),
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testserver",
			Name:      "requests_total",
			Help:      "Requests received by endpoint",
		}, []string{"endpoint"}),
		numbers: make(map[string]int),
	}
	s.reg.MustRegister(s.requests)
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Received returns the number of requests that went through a counted endpoint.
func (s *Server) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// MessageNumbers returns how often each message number header value was seen.
func (s *Server) MessageNumbers() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.numbers))
	for k, v := range s.numbers {
		out[k] = v
	}
	return out
}

func (s *Server) registerHandlers() {
	s.handle("/health", s.handleHealth)
	s.handle("/status/", s.handleStatus)
	s.handle("/delay/", s.handleDelay)
	s.handle("/echo", s.handleEcho)
	s.handle("/reply", s.handleReply)
	s.handle("/random-delay", s.handleRandomDelay)
	s.handle("/fail-rate", s.handleFailRate)
	s.handle("/json", s.handleJSON)
	s.handle("/headers", s.handleHeaders)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
}

// handle counts the request and its message number before serving it.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	counter := s.requests.WithLabelValues(strings.Trim(pattern, "/"))
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		counter.Inc()
		s.mu.Lock()
		s.received++
		if n := r.Header.Get(MessageNumberHeader); n != "" {
			s.numbers[n]++
		}
		s.mu.Unlock()
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Debug("Request")
		h(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the specified HTTP status code.
// Example: GET /status/404 returns 404 Not Found
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

// handleDelay waits for the specified duration before responding.
// Example: GET /delay/100 waits 100ms
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/delay/"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	if !sleep(r, time.Duration(ms)*time.Millisecond) {
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "delayed %dms", ms)
}

// handleEcho echoes back the request body, its content type and every
// Metronome-* request header.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	for name, values := range r.Header {
		if strings.HasPrefix(strings.ToLower(name), "metronome-") && len(values) > 0 {
			w.Header().Set(name, values[0])
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleReply answers a JSON request with {"reply": {"id": <id>, "status": "ok"}},
// where id is taken from the request field named by ?field= (default "id").
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = "id"
	}
	id := gjson.GetBytes(body, field)
	if !id.Exists() {
		http.Error(w, fmt.Sprintf("request has no %q field", field), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply": map[string]any{"id": id.Value(), "status": "ok"},
	})
}

// handleRandomDelay waits for a random duration within the specified range.
// Example: GET /random-delay?min=50&max=200 waits 50-200ms
func (s *Server) handleRandomDelay(w http.ResponseWriter, r *http.Request) {
	minMs, err := strconv.Atoi(r.URL.Query().Get("min"))
	if err != nil || minMs < 0 {
		minMs = 0
	}
	maxMs, err := strconv.Atoi(r.URL.Query().Get("max"))
	if err != nil || maxMs < minMs {
		maxMs = minMs + 100
	}

	delay := minMs
	if maxMs > minMs {
		delay = minMs + rand.Intn(maxMs-minMs)
	}
	if !sleep(r, time.Duration(delay)*time.Millisecond) {
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "delayed %dms (range: %d-%d)", delay, minMs, maxMs)
}

// handleFailRate fails a percentage of requests with 500 status.
// Example: GET /fail-rate?rate=10 fails 10% of requests
func (s *Server) handleFailRate(w http.ResponseWriter, r *http.Request) {
	rate, err := strconv.Atoi(r.URL.Query().Get("rate"))
	if err != nil || rate < 0 || rate > 100 {
		rate = 0
	}
	if rand.Intn(100) < rate {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "success")
}

// handleJSON returns a JSON response with common test fields.
func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        s.requestID.Add(1),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"method":    r.Method,
		"path":      r.URL.Path,
		"message":   "Hello from test server",
	})
}

// handleHeaders returns the request headers as JSON.
func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"headers": headers,
		"method":  r.Method,
		"path":    r.URL.Path,
	})
}

// handleStats reports what the server has seen so far.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	numbers := s.MessageNumbers()
	duplicates := 0
	for _, n := range numbers {
		if n > 1 {
			duplicates++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received":        s.Received(),
		"messageNumbers":  len(numbers),
		"repeatedNumbers": duplicates,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Unable to write response")
	}
}

// sleep waits for d or until the client goes away.
func sleep(r *http.Request, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}
