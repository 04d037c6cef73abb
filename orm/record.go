package orm

import "time"

// Record is the runtime representation of a table item: attribute names
// (snake_case, as declared) mapped to their Go values.
type Record map[string]any

// String returns the named value as a string, or "" when absent.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Int returns the named value as an int64, accepting any numeric type.
func (r Record) Int(name string) int64 {
	switch n := r[name].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Float returns the named value as a float64, accepting any numeric type.
func (r Record) Float(name string) float64 {
	switch n := r[name].(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Bool returns the named value as a bool, or false when absent.
func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// Time returns the named value as a time.Time, or the zero time when absent.
func (r Record) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

// Strings returns the named value as a string slice.
func (r Record) Strings(name string) []string {
	switch v := r[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns the named value as a JSON object map.
func (r Record) Map(name string) map[string]any {
	m, _ := r[name].(map[string]any)
	return m
}

// Has reports whether the record carries a value for name.
func (r Record) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
