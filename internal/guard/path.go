// Package guard holds the pure helpers used to evaluate workflow guards
// over deal context documents: dot-path lookup, deep merge, rule literal
// parsing and the default guard evaluator.
package guard

import (
	"strconv"
	"strings"
)

// ResolvePath looks up a dot-separated path in data. The second result is
// false when any segment is missing or an intermediate value is not an
// object; it never panics.
func ResolvePath(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}

	var cur any = data
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Nest builds {a: {b: {c: value}}} for the path "a.b.c".
func Nest(path string, value any) map[string]any {
	parts := strings.Split(path, ".")
	out := map[string]any{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		out = map[string]any{parts[i]: out}
	}
	return out
}

// SetPath returns a copy of data with value stored at path, creating or
// replacing intermediate objects as needed.
func SetPath(data map[string]any, path string, value any) map[string]any {
	return DeepMerge(data, Nest(path, value))
}
