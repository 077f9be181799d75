// Package mapsafe reads typed values out of untyped option maps decoded
// from YAML or JSON.
package mapsafe

import "strconv"

// Get retrieves a typed value from a map[string]any.
// Numbers convert between int and float64, and strings are parsed when the
// default is numeric or boolean. If the key is missing or the value cannot
// be converted, defaultValue is returned.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}

	var out any
	switch any(defaultValue).(type) {
	case int:
		out, ok = toInt(val)
	case float64:
		out, ok = toFloat(val)
	case bool:
		out, ok = toBool(val)
	case string:
		out, ok = val.(string)
	default:
		out, ok = val.(T)
	}

	if !ok {
		return defaultValue
	}
	return out.(T)
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}
