package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/tidwall/gjson"
)

var indexPattern = regexp.MustCompile(`\[([^\]]*)\]`)

// ConvertJSONPath turns a JSONPath expression ($.items[0].id, $.items[*].id)
// into the equivalent gjson path (items.0.id, items.#.id). Plain gjson paths
// pass through unchanged.
func ConvertJSONPath(path string) string {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	return indexPattern.ReplaceAllStringFunc(path, func(m string) string {
		if inner := m[1 : len(m)-1]; inner != "*" {
			return "." + inner
		}
		return ".#"
	})
}

// Extractor reads named values out of JSON replies. Paths are converted once.
type Extractor struct {
	names []string
	paths map[string]string
	src   map[string]string
}

// NewExtractor prepares rules mapping result names to JSONPath expressions.
func NewExtractor(rules map[string]string) *Extractor {
	e := &Extractor{paths: make(map[string]string, len(rules)), src: rules}
	for name, p := range rules {
		e.names = append(e.names, name)
		e.paths[name] = ConvertJSONPath(p)
	}
	sort.Strings(e.names)
	return e
}

// Extract returns one value per rule. Every missing path is reported.
func (e *Extractor) Extract(body []byte) (map[string]any, error) {
	if len(e.names) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in response body")
	}
	results := gjson.GetManyBytes(body, e.pathList()...)
	out := make(map[string]any, len(e.names))
	var result *multierror.Error
	for i, name := range e.names {
		if !results[i].Exists() {
			result = multierror.Append(result, fmt.Errorf("path %q not found for %q", e.src[name], name))
			continue
		}
		out[name] = results[i].Value()
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) pathList() []string {
	paths := make([]string, len(e.names))
	for i, name := range e.names {
		paths[i] = e.paths[name]
	}
	return paths
}

// Extract is NewExtractor(rules).Extract(body).
func Extract(body []byte, rules map[string]string) (map[string]any, error) {
	return NewExtractor(rules).Extract(body)
}
