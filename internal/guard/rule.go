package guard

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseRuleValue converts the literal on the right of "==" / "!=" into a
// value: true, false, null (nil), a float64, or the trimmed string.
//
// Numbers are decimal or exponent forms, unsigned 0x/0b/0o integers, and
// [+-]Infinity. Go-only spellings such as "inf", hex floats and digit
// separators stay strings.
func ParseRuleValue(raw string) any {
	value := strings.TrimSpace(raw)
	switch value {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	case "":
		return value
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if strings.Contains(value, "_") {
		return value
	}
	if hasRadixPrefix(value) {
		if n, err := strconv.ParseUint(value, 0, 64); err == nil {
			return float64(n)
		}
		return value
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return value
}

func hasRadixPrefix(s string) bool {
	if len(s) < 2 || s[0] != '0' {
		return false
	}
	switch s[1] {
	case 'x', 'X', 'b', 'B', 'o', 'O':
		return true
	}
	return false
}

// StrictEqual compares a resolved value against a rule literal. A missing
// value equals nothing, not even null. Numbers compare by value regardless
// of their Go numeric type; objects and arrays never compare equal.
func StrictEqual(actual any, present bool, expected any) bool {
	if !present {
		return false
	}
	switch want := expected.(type) {
	case nil:
		return actual == nil
	case bool:
		got, ok := actual.(bool)
		return ok && got == want
	case float64:
		got, ok := toFloat(actual)
		return ok && got == want
	case string:
		got, ok := actual.(string)
		return ok && got == want
	default:
		return false
	}
}

// Truthy applies loose boolean coercion: missing, nil, false, zero, NaN and
// the empty string are false; everything else, including empty objects and
// arrays, is true.
func Truthy(v any, present bool) bool {
	if !present || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
