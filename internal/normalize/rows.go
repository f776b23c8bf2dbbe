// Package normalize turns the loosely shaped state payloads returned by the
// upstream service into a flat, ordered list of rows.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
)

// DefaultFields are the collection field names tried, in order, when the
// caller does not name any.
var DefaultFields = []string{"tuxemons", "pokemons"}

// Row is one caught entry as shown in the dex table.
type Row struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Tx   string `json:"tx"`
}

// Collection builds the extraction pipeline for a state payload:
// the field directly on the payload first, then the same field under
// "value" (which may itself be an encoded string). The resolved field is
// decoded when it is a string and must end up as an array.
func Collection(fields ...string) Strategy {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	lookup := Pipeline{
		Field(fields...),
		Then(Descend("value"), Field(fields...)),
	}
	return Then(Then(Then(JSONString, lookup.Apply), JSONString), Array)
}

// Rows extracts rows from payload. It never fails: any shape it does not
// understand yields an empty list.
func Rows(payload any, fields ...string) []Row {
	out := []Row{}

	raw, ok := Collection(fields...)(payload)
	if !ok {
		return out
	}
	arr := raw.([]any)

	for idx, item := range arr {
		obj, _ := item.(map[string]any)
		out = append(out, Row{
			ID:   rowID(obj["id"], idx),
			Name: Text(obj["name"]),
			Tx:   Text(obj["tx"]),
		})
	}
	return out
}

// rowID returns the numeric id when it is an integral JSON number,
// otherwise the element's position.
func rowID(v any, idx int) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			if id, ok := integral(f); ok {
				return id
			}
		}
	case float64:
		if id, ok := integral(n); ok {
			return id
		}
	case int:
		return int64(n)
	case int64:
		return n
	}
	return int64(idx)
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Text renders a decoded JSON value as display text; null is "".
func Text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
