package layers

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parameter values come from JSON (float64), YAML (int, float64) or Go
// callers (any numeric type), so every accessor coerces.

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
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

// maxIntParam bounds integer parameters so sizes stay representable on every
// platform and in products of two dimensions
const maxIntParam = math.MaxInt32

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > maxIntParam {
		return 0, false
	}
	return int(f), true
}

func lookup(params map[string]any, key string) (any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

// intParam reads a required non-negative integer
func intParam(params map[string]any, key string) (int, error) {
	v, err := lookup(params, key)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, fmt.Errorf("parameter %q must be a non-negative integer no greater than %d, got %v", key, maxIntParam, v)
	}
	return n, nil
}

// floatParam reads a required number
func floatParam(params map[string]any, key string) (float64, error) {
	v, err := lookup(params, key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parameter %q must be a finite number, got %v", key, v)
	}
	return f, nil
}

// optionalFloatParam reads a number that defaults to def when absent
func optionalFloatParam(params map[string]any, key string, def float64) (float64, error) {
	if v, ok := params[key]; !ok || v == nil {
		return def, nil
	}
	return floatParam(params, key)
}

// boolParam reads an optional boolean
func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err == nil {
			return parsed, nil
		}
	}
	return false, fmt.Errorf("parameter %q must be a boolean, got %v", key, v)
}

func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// pairParam reads a scalar or 2-element sequence as a (height, width) pair
func pairParam(params map[string]any, key string) ([2]int, error) {
	v, err := lookup(params, key)
	if err != nil {
		return [2]int{}, err
	}
	return toPair(key, v)
}

func toPair(key string, v any) ([2]int, error) {
	if seq, ok := asSequence(v); ok {
		if len(seq) != 2 {
			return [2]int{}, fmt.Errorf("parameter %q must have 2 elements, got %v", key, v)
		}
		h, okH := toInt(seq[0])
		w, okW := toInt(seq[1])
		if !okH || !okW || h < 0 || w < 0 {
			return [2]int{}, fmt.Errorf("parameter %q must hold non-negative integers, got %v", key, v)
		}
		return [2]int{h, w}, nil
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return [2]int{}, fmt.Errorf("parameter %q must be a non-negative integer or a pair, got %v", key, v)
	}
	return [2]int{n, n}, nil
}

// stringParam reads an optional string; ok is false when absent or not a string
func stringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok
}
