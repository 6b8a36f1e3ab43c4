package template

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"metronome/internal/core"
)

// Message is a named payload template. Each iteration renders it once and
// sends the result Multiplicity times.
type Message struct {
	Name         string
	Payload      string
	Headers      map[string]string
	Multiplicity int

	payload *Template
	headers map[string]*Template
	static  bool
}

// NewMessage compiles a template. A multiplicity of zero means one.
func NewMessage(name, payload string, headers map[string]string, multiplicity int) (*Message, error) {
	if multiplicity < 0 {
		return nil, fmt.Errorf("%w: message %q multiplicity %d", core.ErrConfig, name, multiplicity)
	}
	if multiplicity == 0 {
		multiplicity = 1
	}
	m := &Message{
		Name:         name,
		Payload:      payload,
		Headers:      headers,
		Multiplicity: multiplicity,
		headers:      make(map[string]*Template, len(headers)),
	}

	var result *multierror.Error
	var err error
	if m.payload, err = Compile(payload); err != nil {
		result = multierror.Append(result, fmt.Errorf("payload: %w", err))
	}
	for k, v := range headers {
		t, err := Compile(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		m.headers[k] = t
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: message %q: %v", core.ErrConfig, name, err)
	}

	m.static = m.payload.Static()
	for _, t := range m.headers {
		m.static = m.static && t.Static()
	}
	return m, nil
}

// Render executes the templates into a fresh core.Message.
func (m *Message) Render(vars core.Variables) (*core.Message, error) {
	headers := make(map[string]string, len(m.headers))
	if m.static {
		for k, v := range m.Headers {
			headers[k] = v
		}
		return &core.Message{Payload: []byte(m.Payload), Headers: headers}, nil
	}

	payload, err := m.payload.Execute(vars)
	if err != nil {
		return nil, fmt.Errorf("message %q payload: %w", m.Name, err)
	}
	var result *multierror.Error
	for k, t := range m.headers {
		v, err := t.Execute(vars)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		headers[k] = v
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("message %q headers: %w", m.Name, err)
	}
	return &core.Message{Payload: []byte(payload), Headers: headers}, nil
}
