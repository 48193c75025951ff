package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// OperatorEqual is the only operator a switch condition can match on.
const OperatorEqual = "=="

// Matches reports whether the condition holds for v. Conditions with any
// other operator never match.
func (c Condition) Matches(v Value) bool {
	if c.Operator != OperatorEqual {
		return false
	}
	return ValuesEqual(c.Value, v)
}

// MatchSwitch returns the index of the first condition matching v, or -1.
// All conditions are checked against the same v.
func MatchSwitch(conditions []Condition, v Value) int {
	for i, cond := range conditions {
		if cond.Matches(v) {
			return i
		}
	}
	return -1
}

// ValuesEqual compares two values. Numbers compare by numeric value
// regardless of their Go type (int64(3) equals 3.0). Strings never equal
// numbers and booleans never equal numbers.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if an, aok := asNumber(a); aok {
		bn, bok := asNumber(b)
		if !bok {
			return false
		}
		return an.equal(bn)
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !ValuesEqual(x, y) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

type number struct {
	isInt bool
	i     int64
	f     float64
}

func (n number) equal(o number) bool {
	if n.isInt && o.isInt {
		return n.i == o.i
	}
	return n.float() == o.float()
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func asNumber(v Value) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{isInt: true, i: int64(x)}, true
	case int8:
		return number{isInt: true, i: int64(x)}, true
	case int16:
		return number{isInt: true, i: int64(x)}, true
	case int32:
		return number{isInt: true, i: int64(x)}, true
	case int64:
		return number{isInt: true, i: x}, true
	case uint8:
		return number{isInt: true, i: int64(x)}, true
	case uint16:
		return number{isInt: true, i: int64(x)}, true
	case uint32:
		return number{isInt: true, i: int64(x)}, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return number{f: float64(x)}, true
		}
		return number{isInt: true, i: int64(x)}, true
	case uint64:
		if x > math.MaxInt64 {
			return number{f: float64(x)}, true
		}
		return number{isInt: true, i: int64(x)}, true
	case float32:
		return number{f: float64(x)}, true
	case float64:
		return number{f: x}, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return number{isInt: true, i: i}, true
		}
		if f, err := x.Float64(); err == nil {
			return number{f: f}, true
		}
	}
	return number{}, false
}

// NormalizeValue converts v into the value model: integers become int64,
// floats become float64, json.Number becomes whichever of the two fits, and
// slices and maps are rebuilt recursively. Anything else is an error.
func NormalizeValue(v Value) (Value, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := NormalizeValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := NormalizeValue(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}

	if n, ok := asNumber(v); ok {
		if n.isInt {
			return n.i, nil
		}
		return n.f, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// CloneValue deep copies slices and maps; scalars are returned as is.
func CloneValue(v Value) Value {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	}
	return v
}
