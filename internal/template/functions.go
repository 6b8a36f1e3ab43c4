package template

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Func is a built-in callable as ${name(arg, ...)}. Arguments are trimmed.
type Func func(args []string) (string, error)

type builtin struct {
	minArgs, maxArgs int
	fn               Func
}

var builtins = map[string]builtin{
	"uuid":          {0, 0, fnUUID},
	"timestamp":     {0, 1, fnTimestamp},
	"timestamp_ms":  {0, 0, func([]string) (string, error) { return fnTimestamp([]string{"ms"}) }},
	"random":        {2, 2, fnRandom},
	"random_string": {1, 1, fnRandomString},
	"date":          {0, 1, fnDate},
	"env":           {1, 2, fnEnv},
}

// FuncNames returns the names of the built-in functions, sorted.
func FuncNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseCall splits "name(a, b)" into a built-in and its arguments. ok is false
// when expr is not a call to a known built-in.
func parseCall(expr string) (b builtin, args []string, ok bool, err error) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return builtin{}, nil, false, nil
	}
	name := expr[:open]
	b, ok = builtins[name]
	if !ok {
		return builtin{}, nil, false, nil
	}
	if inner := strings.TrimSpace(expr[open+1 : len(expr)-1]); inner != "" {
		args = strings.Split(inner, ",")
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}
	if len(args) < b.minArgs || len(args) > b.maxArgs {
		if b.minArgs == b.maxArgs {
			return b, nil, true, fmt.Errorf("%s() takes %d argument(s), got %d", name, b.minArgs, len(args))
		}
		return b, nil, true, fmt.Errorf("%s() takes %d to %d arguments, got %d", name, b.minArgs, b.maxArgs, len(args))
	}
	return b, args, true, nil
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randInt63n(n int64) int64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Int63n(n)
}

func fnUUID([]string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// fnTimestamp returns the Unix time in s (default), ms, us or ns.
func fnTimestamp(args []string) (string, error) {
	now := time.Now()
	unit := "s"
	if len(args) == 1 {
		unit = args[0]
	}
	switch unit {
	case "s":
		return strconv.FormatInt(now.Unix(), 10), nil
	case "ms":
		return strconv.FormatInt(now.UnixMilli(), 10), nil
	case "us":
		return strconv.FormatInt(now.UnixMicro(), 10), nil
	case "ns":
		return strconv.FormatInt(now.UnixNano(), 10), nil
	}
	return "", fmt.Errorf("unknown timestamp unit %q", unit)
}

// fnRandom returns an integer in [min, max].
func fnRandom(args []string) (string, error) {
	lo, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid min value: %w", err)
	}
	hi, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid max value: %w", err)
	}
	if lo > hi {
		return "", fmt.Errorf("min (%d) must be <= max (%d)", lo, hi)
	}
	return strconv.FormatInt(lo+randInt63n(hi-lo+1), 10), nil
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func fnRandomString(args []string) (string, error) {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid length: %w", err)
	}
	if n <= 0 || n > 1000 {
		return "", fmt.Errorf("length must be in 1..1000, got %d", n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = alphanumeric[randInt63n(int64(len(alphanumeric)))]
	}
	return string(out), nil
}

// fnDate formats the current time with a Go layout, RFC 3339 by default.
// Layouts containing commas cannot be passed.
func fnDate(args []string) (string, error) {
	layout := time.RFC3339
	if len(args) == 1 && args[0] != "" {
		layout = args[0]
	}
	return time.Now().Format(layout), nil
}

// fnEnv reads an environment variable, falling back to the optional default.
func fnEnv(args []string) (string, error) {
	if v, ok := os.LookupEnv(args[0]); ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return "", fmt.Errorf("env var %q not set", args[0])
}
