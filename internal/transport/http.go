package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

const (
	// maxResponseBodySize limits how much of a response body is kept.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB
	// maxBodyLogSize limits response bodies written to debug logs.
	maxBodyLogSize = 1024
)

// HTTPConfig describes the target of the HTTP transport.
type HTTPConfig struct {
	Method  string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// HTTP sends each message as the body of one HTTP request.
// Responses with status 400 or above are failures.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPFactory returns a factory whose instances share one client.
func NewHTTPFactory(cfg HTTPConfig) (Factory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: http transport needs a url", core.ErrConfig)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return func(context.Context) (core.Transport, error) {
		return &HTTP{cfg: cfg, client: client}, nil
	}, nil
}

func (h *HTTP) PreSend(context.Context, *core.Message) error {
	return nil
}

func (h *HTTP) Send(ctx context.Context, msg *core.Message, mu *core.MeasurementUnit) (*core.Response, error) {
	var body io.Reader = http.NoBody
	if len(msg.Payload) > 0 {
		body = bytes.NewReader(msg.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}

	logger := log.WithFields(log.Fields{"iteration": mu.Iteration(), "method": req.Method, "url": req.URL.String()})
	if log.IsLevelEnabled(log.DebugLevel) {
		logger.WithField("body", truncateBody(msg.Payload)).Debug(">>> request")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		logger.WithError(err).Debug("!!! request failed")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = strings.Join(values, ", ")
	}
	reply := &core.Response{Payload: respBody, Headers: headers, StatusCode: resp.StatusCode}

	if log.IsLevelEnabled(log.DebugLevel) {
		logger.WithFields(log.Fields{"status": resp.StatusCode, "body": truncateBody(respBody)}).Debug("<<< response")
	}

	if resp.StatusCode >= 400 {
		return reply, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return reply, nil
}

func (h *HTTP) PostSend(context.Context, *core.Message) error {
	return nil
}

func (h *HTTP) Close() error {
	return nil
}

func truncateBody(body []byte) string {
	if len(body) <= maxBodyLogSize {
		return string(body)
	}
	return string(body[:maxBodyLogSize]) + fmt.Sprintf("... (truncated, %d bytes total)", len(body))
}
