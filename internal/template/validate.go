package template

import (
	"fmt"

	"metronome/internal/core"
)

// ExpectJSON returns a validator that checks JSONPath values in the reply
// against expected templates rendered from the request headers.
// An empty expectations map accepts every reply.
func ExpectJSON(expect map[string]string) core.Validator {
	rules := make(map[string]string, len(expect))
	for path := range expect {
		rules[path] = path
	}
	extractor := NewExtractor(rules)

	return core.ValidatorFunc(func(req *core.Message, resp *core.Response) error {
		if len(expect) == 0 {
			return nil
		}
		if resp == nil {
			return fmt.Errorf("no reply to validate")
		}
		got, err := extractor.Extract(resp.Payload)
		if err != nil {
			return err
		}
		vars := core.NewVariables()
		if req != nil {
			for k, v := range req.Headers {
				vars.Set(k, v)
			}
		}
		for path, want := range expect {
			w, err := Substitute(want, vars)
			if err != nil {
				return err
			}
			if g := fmt.Sprint(got[path]); g != w {
				return fmt.Errorf("%s: got %q, want %q", path, g, w)
			}
		}
		return nil
	})
}
