package docstore

import (
	"encoding/json"
	"strings"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock
// reading at write time.
var ServerTimestamp any = serverTimestamp{}

// TimeLayout is the fixed-width UTC form timestamps take once serialized, so
// lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// TimeValue reads a timestamp field written by either backend.
func TimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// IntValue reads an integer field written by either backend. Postgres hands
// numbers back as json.Number.
func IntValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// resolveTimestamps returns a copy of fields with every ServerTimestamp
// replaced by now.
func resolveTimestamps(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return cloneFields(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e).(map[string]any)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// Size estimates the stored size of a document: the path, every field name,
// and every value, with fixed widths for scalars. Both backends enforce the
// byte ceiling against this figure so writers can compute it up front.
func Size(path string, fields Fields) int {
	n := len(path) + 16
	for k, v := range fields {
		n += len(k) + 1 + valueSize(v)
	}
	return n
}

func valueSize(v any) int {
	switch t := v.(type) {
	case nil:
		return 1
	case string:
		return len(t) + 1
	case []byte:
		return len(t)
	case bool:
		return 1
	case int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return 8
	case time.Time, serverTimestamp:
		return 8
	case Fields:
		return valueSize(map[string]any(t))
	case map[string]any:
		n := 0
		for k, e := range t {
			n += len(k) + 1 + valueSize(e)
		}
		return n
	case []any:
		n := 0
		for _, e := range t {
			n += valueSize(e)
		}
		return n
	case []map[string]any:
		n := 0
		for _, e := range t {
			n += valueSize(e)
		}
		return n
	case []string:
		n := 0
		for _, e := range t {
			n += len(e) + 1
		}
		return n
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		return len(b)
	}
}

// Compare orders two field values the way the stores do: missing/nil
// first, then booleans, numbers, timestamps, strings.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		ta, tb := a.(time.Time), b.(time.Time)
		return ta.Compare(tb)
	case 4:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// mergeFields merges src into dst. Nested maps merge key by key; every
// other value replaces what was there.
func mergeFields(dst, src Fields) Fields {
	if dst == nil {
		dst = Fields{}
	}
	for k, v := range src {
		sm, sok := asMap(v)
		dm, dok := asMap(dst[k])
		if sok && dok {
			dst[k] = map[string]any(mergeFields(Fields(cloneValue(dm).(map[string]any)), Fields(sm)))
			continue
		}
		dst[k] = cloneValue(v)
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return map[string]any(m), true
	}
	return nil, false
}
