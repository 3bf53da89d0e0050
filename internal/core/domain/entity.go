package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one upstream record as loosely-typed JSON.
// Nested objects are map[string]any; use Get for dotted paths.
type Record map[string]any

// Get returns the value at a dotted path such as "CustomerRef.value".
func (r Record) Get(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path formatted as a string, or "" if absent.
func (r Record) String(path string) string {
	v, ok := r.Get(path)
	if !ok || v == nil {
		return ""
	}
	return formatScalar(v)
}

// Set assigns a value at a dotted path, creating intermediate maps.
func (r Record) Set(path string, value any) {
	parts := strings.Split(path, ".")
	m := map[string]any(r)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// ID returns the upstream identifier.
func (r Record) ID() string { return r.String("Id") }

// SyncToken returns the upstream optimistic-concurrency version stamp.
func (r Record) SyncToken() string { return r.String("SyncToken") }

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneMap(r))
}

// Flatten returns the record as dotted keys with scalar values.
// Arrays are kept whole under their key.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", r)
	return out
}

// Unflatten builds a record from dotted keys.
func Unflatten(flat map[string]any) Record {
	r := Record{}
	for k, v := range flat {
		r.Set(k, v)
	}
	return r
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := asMap(v); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	default:
		return nil, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneMap(t)
		case Record:
			out[k] = cloneMap(t)
		case []any:
			cp := make([]any, len(t))
			for i, item := range t {
				if nested, ok := asMap(item); ok {
					cp[i] = cloneMap(nested)
				} else {
					cp[i] = item
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// QueryResponse holds query results keyed by entity type name.
type QueryResponse map[string][]Record

// Rekey moves the records stored under from to the key to.
func (q QueryResponse) Rekey(from, to string) {
	if from == to {
		return
	}
	q[to] = q[from]
	delete(q, from)
}
