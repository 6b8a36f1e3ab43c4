// Package template renders message templates with ${...} placeholders and
// extracts values from JSON replies. It is independent of any transport.
package template

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"metronome/internal/core"
)

type partKind int

const (
	partText partKind = iota
	partVar
	partEnv
	partCall
)

type part struct {
	kind partKind
	// text is the literal for partText and the name for partVar and partEnv.
	text string
	raw  string
	fn   Func
	args []string
}

// Template is a parsed text with ${var}, ${env:VAR} and ${func(args)}
// placeholders. A placeholder naming no built-in function is a variable.
// It is safe for concurrent use.
type Template struct {
	parts []part
}

// Compile parses text. Malformed calls to built-in functions are reported
// here, missing variables only when the template is executed.
func Compile(text string) (*Template, error) {
	t := &Template{}
	var result *multierror.Error
	for rest := text; rest != ""; {
		start := strings.Index(rest, "${")
		if start < 0 {
			t.text(rest)
			break
		}
		end := strings.IndexByte(rest[start+2:], '}')
		if end < 0 {
			t.text(rest)
			break
		}
		end += start + 2
		expr := rest[start+2 : end]
		raw := rest[start : end+1]
		t.text(rest[:start])
		rest = rest[end+1:]

		if expr == "" {
			t.text(raw)
			continue
		}
		if b, args, ok, err := parseCall(expr); ok {
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			t.parts = append(t.parts, part{kind: partCall, raw: raw, fn: b.fn, args: args})
			continue
		}
		if name, ok := strings.CutPrefix(expr, "env:"); ok {
			t.parts = append(t.parts, part{kind: partEnv, text: name, raw: raw})
			continue
		}
		t.parts = append(t.parts, part{kind: partVar, text: expr, raw: raw})
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return t, nil
}

func (t *Template) text(s string) {
	if s == "" {
		return
	}
	if n := len(t.parts); n > 0 && t.parts[n-1].kind == partText {
		t.parts[n-1].text += s
		return
	}
	t.parts = append(t.parts, part{kind: partText, text: s})
}

// Static reports whether the template renders to the same text every time.
func (t *Template) Static() bool {
	for _, p := range t.parts {
		if p.kind != partText {
			return false
		}
	}
	return true
}

// Execute renders the template. Every failing placeholder is reported.
func (t *Template) Execute(vars core.Variables) (string, error) {
	if len(t.parts) == 1 && t.parts[0].kind == partText {
		return t.parts[0].text, nil
	}
	var b strings.Builder
	var result *multierror.Error
	for _, p := range t.parts {
		switch p.kind {
		case partText:
			b.WriteString(p.text)
		case partCall:
			v, err := p.fn(p.args)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", p.raw, err))
				continue
			}
			b.WriteString(v)
		case partEnv:
			v, ok := os.LookupEnv(p.text)
			if !ok {
				result = multierror.Append(result, fmt.Errorf("env var %q not set", p.text))
				continue
			}
			b.WriteString(v)
		case partVar:
			var v any
			ok := false
			if vars != nil {
				v, ok = vars.Get(p.text)
			}
			if !ok {
				result = multierror.Append(result, fmt.Errorf("variable %q not found", p.text))
				continue
			}
			fmt.Fprint(&b, v)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Substitute compiles and executes text in one step.
func Substitute(text string, vars core.Variables) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}
	t, err := Compile(text)
	if err != nil {
		return "", err
	}
	return t.Execute(vars)
}

// SubstituteMap applies Substitute to every value of m.
func SubstituteMap(m map[string]string, vars core.Variables) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	var result *multierror.Error
	for k, v := range m {
		s, err := Substitute(v, vars)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		out[k] = s
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
