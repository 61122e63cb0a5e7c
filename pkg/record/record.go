package record

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ParseError reports a malformed record or dataset payload.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Value is a normalized field value: either a string or null.
type Value struct {
	Str  string
	Null bool
}

// String returns a non-null Value holding s.
func String(s string) Value { return Value{Str: s} }

// Null returns the null Value.
func Null() Value { return Value{Null: true} }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Null {
		return []byte("null"), nil
	}
	return json.Marshal(v.Str)
}

// Record is one movie item: a unique integer id plus normalized fields.
// The id is the deduplication key across the whole dataset.
type Record struct {
	ID     int64
	Fields map[string]Value
}

// MarshalJSON renders the record as a single flat JSON object with the id
// inlined next to the fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	out["id"] = r.ID
	for k, v := range r.Fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses a flat JSON object and normalizes it.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ParseError{Reason: "invalid record JSON", Err: err}
	}
	rec, err := Normalize(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Normalize is the single conversion boundary from arbitrary decoded JSON
// to a Record. Null stays null, strings pass through, scalars are coerced
// to their string form and lists are flattened to one comma-joined string.
// Normalizing an already-normalized record yields the same record.
func Normalize(raw map[string]any) (Record, error) {
	id, ok := intID(raw["id"])
	if !ok {
		return Record{}, &ParseError{Reason: "record has no integer id"}
	}
	fields := make(map[string]Value, len(raw))
	for k, v := range raw {
		if k == "id" {
			continue
		}
		fields[k] = coerce(v)
	}
	return Record{ID: id, Fields: fields}, nil
}

func intID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func coerce(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return String(x)
	case bool:
		return String(fmt.Sprintf("%t", x))
	case float64:
		return String(trimFloat(x))
	case int:
		return String(fmt.Sprintf("%d", x))
	case int64:
		return String(fmt.Sprintf("%d", x))
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, elementForm(e))
		}
		return String(strings.Join(parts, ", "))
	case map[string]any:
		return String(objectForm(x))
	default:
		return String(fmt.Sprint(x))
	}
}

// elementForm renders one list element for the comma-joined flat form.
func elementForm(v any) string {
	if m, ok := v.(map[string]any); ok {
		return objectForm(m)
	}
	c := coerce(v)
	if c.Null {
		return ""
	}
	return c.Str
}

// objectForm prefers the object's name, falling back to compact JSON.
func objectForm(m map[string]any) string {
	if name, ok := m["name"].(string); ok {
		return name
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}

// trimFloat renders a JSON number without an exponent and without a
// trailing ".0" for integral values.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
