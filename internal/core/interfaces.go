// Package core defines the shared types and collaborator contracts of the load engine.
package core

import "context"

// Message is a rendered payload ready to be sent by a Transport.
type Message struct {
	Payload []byte
	Headers map[string]string
}

// Header returns the named header or an empty string.
func (m *Message) Header(name string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// SetHeader sets a header, allocating the map on first use.
func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[name] = value
}

// Response is what a target replied with, either inline from Send or asynchronously.
type Response struct {
	Payload    []byte
	Headers    map[string]string
	StatusCode int
}

// Transport sends one message to the system under test.
// Instances are pooled; a single instance is never used by two iterations at once.
type Transport interface {
	PreSend(ctx context.Context, msg *Message) error
	Send(ctx context.Context, msg *Message, mu *MeasurementUnit) (*Response, error)
	PostSend(ctx context.Context, msg *Message) error
	Close() error
}

// ReplySource is implemented by transports whose replies arrive out of band.
// The handler is invoked from the transport's own goroutines.
type ReplySource interface {
	OnReply(handler func(*Response))
}

// Destination renders published measurements.
type Destination interface {
	Open() error
	Report(m *Measurement) error
	Close() error
}

// ConcurrentSafe is implemented by destinations that tolerate concurrent Report calls.
type ConcurrentSafe interface {
	ConcurrentSafe() bool
}

// Validator checks a (request, response) pair after an iteration completes.
type Validator interface {
	Validate(req *Message, resp *Response) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(req *Message, resp *Response) error

func (f ValidatorFunc) Validate(req *Message, resp *Response) error {
	return f(req, resp)
}

// Variables provides per-iteration values for template substitution.
type Variables interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapVariables is a simple map-based Variables implementation.
type MapVariables struct {
	data map[string]any
}

func NewVariables() *MapVariables {
	return &MapVariables{data: make(map[string]any)}
}

func (v *MapVariables) Get(key string) (any, bool) {
	val, ok := v.data[key]
	return val, ok
}

func (v *MapVariables) Set(key string, value any) {
	v.data[key] = value
}
