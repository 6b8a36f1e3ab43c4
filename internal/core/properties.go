package core

import (
	"fmt"
	"strconv"
	"time"
)

// Properties are the free-form settings of a pluggable component.
type Properties map[string]string

// String returns the value of key or def.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Int parses key as an integer.
func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q: invalid integer %q", ErrConfig, key, v)
	}
	return n, nil
}

// Float parses key as a float.
func (p Properties) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q: invalid number %q", ErrConfig, key, v)
	}
	return f, nil
}

// Bool parses key as a boolean.
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: property %q: invalid boolean %q", ErrConfig, key, v)
	}
	return b, nil
}

// Duration parses key as a Go duration.
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q: invalid duration %q", ErrConfig, key, v)
	}
	return d, nil
}
