package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errTrailingData = errors.New("trailing data after JSON value")

// Strategy is one fallible extraction step. It returns the extracted value
// and true on success; false means "try the next strategy".
type Strategy func(v any) (any, bool)

// Pipeline applies strategies in order and returns the first success.
type Pipeline []Strategy

func (p Pipeline) Apply(v any) (any, bool) {
	for _, s := range p {
		if out, ok := s(v); ok {
			return out, true
		}
	}
	return nil, false
}

// Then chains two strategies: b runs on the output of a.
func Then(a, b Strategy) Strategy {
	return func(v any) (any, bool) {
		mid, ok := a(v)
		if !ok {
			return nil, false
		}
		return b(mid)
	}
}

// Field looks up the first present, non-null key on an object.
func Field(names ...string) Strategy {
	return func(v any) (any, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, name := range names {
			if out, ok := m[name]; ok && out != nil {
				return out, true
			}
		}
		return nil, false
	}
}

// Descend moves into an object field, JSON-decoding it first when the
// field holds an encoded string. The result must be an object.
func Descend(name string) Strategy {
	return Then(Then(Field(name), JSONString), func(v any) (any, bool) {
		m, ok := v.(map[string]any)
		return m, ok
	})
}

// JSONString decodes v when it is a string holding JSON. Non-string values
// pass through unchanged.
func JSONString(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return v, v != nil
	}
	out, err := decodeJSON([]byte(s))
	if err != nil {
		return nil, false
	}
	return out, true
}

// Array succeeds only for JSON arrays.
func Array(v any) (any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

// Decode parses a response body. Bodies that are not JSON are returned as
// the raw string so callers can still run a pipeline over them.
func Decode(body []byte) any {
	out, err := decodeJSON(body)
	if err != nil {
		return string(body)
	}
	return out
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return out, nil
}

// Hex trims whitespace, drops one 0x/0X prefix and lowercases.
func Hex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	return strings.ToLower(s)
}
