package salesforce

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the timestamp formats returned by the REST API, most specific first.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// Record is a single record returned by the API.
// Fields vary by object; every accessor treats a missing or mistyped field as absent.
type Record map[string]any

// CreatedDate returns the record creation time, if present.
func (r Record) CreatedDate() (time.Time, bool) {
	return r.Time(FieldCreatedDate)
}

// Float returns a numeric field. Numeric strings are parsed.
func (r Record) Float(path string) (float64, bool) {
	v, ok := r.Value(path)
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean field, accepting "true"/"false" strings.
func (r Record) Bool(path string) (bool, bool) {
	v, ok := r.Value(path)
	if !ok {
		return false, false
	}

	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		return false, false
	}
}

// ID returns the external identifier.
func (r Record) ID() string {
	return r.String(FieldID)
}

// LastModifiedDate returns the record modification time, if present.
func (r Record) LastModifiedDate() (time.Time, bool) {
	return r.Time(FieldLastModifiedDate)
}

// String returns a trimmed string field, or empty if absent.
// Numbers and booleans are formatted.
func (r Record) String(path string) string {
	v, ok := r.Value(path)
	if !ok {
		return ""
	}

	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// Time parses a date or datetime field. Unparseable values are treated as absent.
func (r Record) Time(path string) (time.Time, bool) {
	s := r.String(path)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// Type returns the object type from the record attributes, if present.
func (r Record) Type() string {
	return r.String("attributes.type")
}

// Value returns the raw value at a dotted path (e.g. "Owner.Name").
// Null values are reported as absent.
func (r Record) Value(path string) (any, bool) {
	var current any = map[string]any(r)

	for _, key := range strings.Split(path, ".") {
		var m map[string]any
		switch node := current.(type) {
		case map[string]any:
			m = node
		case Record:
			m = node
		default:
			return nil, false
		}

		v, ok := m[key]
		if !ok || v == nil {
			return nil, false
		}
		current = v
	}

	return current, true
}

// decodeJSON unmarshals data into v.
func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
