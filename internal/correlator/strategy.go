package correlator

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"metronome/internal/core"
)

// DefaultHeader carries generated correlation ids.
const DefaultHeader = "metronome-correlation-id"

// Strategy derives correlation ids from requests and replies.
type Strategy interface {
	// RequestID returns the id of msg, stamping it into msg if the strategy generates ids.
	RequestID(msg *core.Message) (string, error)
	// ResponseIDs returns every id a reply answers.
	ResponseIDs(resp *core.Response) []string
}

// HeaderStrategy generates a UUID per request, stamps it into a header and
// expects the reply to echo it in the same header.
type HeaderStrategy struct {
	Header string
}

func (s HeaderStrategy) header() string {
	if s.Header == "" {
		return DefaultHeader
	}
	return s.Header
}

func (s HeaderStrategy) RequestID(msg *core.Message) (string, error) {
	id := uuid.NewString()
	msg.SetHeader(s.header(), id)
	return id, nil
}

func (s HeaderStrategy) ResponseIDs(resp *core.Response) []string {
	if resp == nil || resp.Headers == nil {
		return nil
	}
	if id, ok := resp.Headers[s.header()]; ok && id != "" {
		return []string{id}
	}
	return nil
}

// PrefixStrategy takes the id from the payload up to the first boundary.
type PrefixStrategy struct {
	Boundary string
}

func (s PrefixStrategy) boundary() []byte {
	if s.Boundary == "" {
		return []byte(":")
	}
	return []byte(s.Boundary)
}

func (s PrefixStrategy) RequestID(msg *core.Message) (string, error) {
	id, ok := s.prefix(msg.Payload)
	if !ok {
		return "", fmt.Errorf("payload has no correlation boundary %q", s.boundary())
	}
	return id, nil
}

func (s PrefixStrategy) ResponseIDs(resp *core.Response) []string {
	if resp == nil {
		return nil
	}
	if id, ok := s.prefix(resp.Payload); ok {
		return []string{id}
	}
	return nil
}

func (s PrefixStrategy) prefix(payload []byte) (string, bool) {
	i := bytes.Index(payload, s.boundary())
	if i <= 0 {
		return "", false
	}
	return string(payload[:i]), true
}

// JSONPathStrategy reads ids from JSON payloads. The response path may select
// an array so that one reply can answer several requests.
type JSONPathStrategy struct {
	RequestPath  string
	ResponsePath string
}

func (s JSONPathStrategy) RequestID(msg *core.Message) (string, error) {
	v := gjson.GetBytes(msg.Payload, s.RequestPath)
	if !v.Exists() || v.String() == "" {
		return "", fmt.Errorf("request has no correlation id at %q", s.RequestPath)
	}
	return v.String(), nil
}

func (s JSONPathStrategy) ResponseIDs(resp *core.Response) []string {
	if resp == nil || !gjson.ValidBytes(resp.Payload) {
		return nil
	}
	path := s.ResponsePath
	if path == "" {
		path = s.RequestPath
	}
	v := gjson.GetBytes(resp.Payload, path)
	if !v.Exists() {
		return nil
	}
	if v.IsArray() {
		var ids []string
		for _, item := range v.Array() {
			if item.String() != "" {
				ids = append(ids, item.String())
			}
		}
		return ids
	}
	return []string{v.String()}
}
