// Package jsonpath pulls the transcript out of arbitrary provider JSON using a
// small dotted path syntax: "text", "results[0].alternatives[0].transcript",
// "segments[*].text" (wildcard results are joined with a space).
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoText is returned when the response holds no usable text.
var ErrNoText = errors.New("no text found in response")

const wildcard = -1

type step struct {
	key  string
	idxs []int
}

// Path is a compiled lookup path. The zero Path matches nothing.
type Path struct {
	raw   string
	steps []step
}

// String returns the source text of the path.
func (p Path) String() string { return p.raw }

// Compile parses a dotted path. An empty string compiles to the zero Path.
func Compile(path string) (Path, error) {
	if path == "" {
		return Path{}, nil
	}
	p := Path{raw: path}
	for _, part := range strings.Split(path, ".") {
		key, idxs, err := parseStep(part)
		if err != nil {
			return Path{}, err
		}
		p.steps = append(p.steps, step{key: key, idxs: idxs})
	}
	return p, nil
}

// MustCompile is Compile that panics, for package-level paths.
func MustCompile(path string) Path {
	p, err := Compile(path)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup walks root and returns every value the path reaches.
func (p Path) Lookup(root any) ([]any, bool) {
	if len(p.steps) == 0 {
		return nil, false
	}
	cur := []any{root}
	for _, st := range p.steps {
		var next []any
		for _, v := range cur {
			next = append(next, st.apply(v)...)
		}
		if len(next) == 0 {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (st step) apply(v any) []any {
	if st.key != "" {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		child, exists := m[st.key]
		if !exists {
			return nil
		}
		v = child
	}
	out := []any{v}
	for _, idx := range st.idxs {
		var next []any
		for _, cur := range out {
			arr, ok := cur.([]any)
			if !ok {
				continue
			}
			if idx == wildcard {
				next = append(next, arr...)
				continue
			}
			if idx >= 0 && idx < len(arr) {
				next = append(next, arr[idx])
			}
		}
		out = next
	}
	return out
}

// ExtractText decodes body and returns the text at path. When the path is
// empty or misses, a top-level "text" field is used, then any non-empty
// top-level string.
func ExtractText(body []byte, path Path) (string, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if vals, ok := path.Lookup(root); ok {
		parts := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := scalar(v); ok && s != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), nil
		}
	}
	m, ok := root.(map[string]any)
	if !ok {
		return "", ErrNoText
	}
	if s, ok := scalar(m["text"]); ok {
		return s, nil
	}
	for _, val := range m {
		if s, ok := val.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", ErrNoText
}

func scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

// parseStep parses a token like "foo[0][1]", "[0]", "items[*]" or "bar".
func parseStep(token string) (string, []int, error) {
	if token == "" {
		return "", nil, fmt.Errorf("empty path segment")
	}
	br := strings.Index(token, "[")
	if br == -1 {
		return token, nil, nil
	}
	key := token[:br]
	rest := token[br:]
	var idxs []int
	for len(rest) > 0 {
		if !strings.HasPrefix(rest, "[") {
			return "", nil, fmt.Errorf("invalid index syntax in %s", token)
		}
		closePos := strings.Index(rest, "]")
		if closePos == -1 {
			return "", nil, fmt.Errorf("missing closing ] in %s", token)
		}
		numStr := rest[1:closePos]
		switch {
		case numStr == "":
			return "", nil, fmt.Errorf("empty index in %s", token)
		case numStr == "*":
			idxs = append(idxs, wildcard)
		default:
			n, err := strconv.Atoi(numStr)
			if err != nil || n < 0 {
				return "", nil, fmt.Errorf("invalid index '%s' in %s", numStr, token)
			}
			idxs = append(idxs, n)
		}
		rest = rest[closePos+1:]
	}
	return key, idxs, nil
}
