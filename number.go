package docstore

import (
	"encoding/json"
	"math"
	"strconv"
)

// Int64Of returns v as an exact integer. Integer kinds, integral json.Numbers and
// integral floats within the int64 range qualify.
func Int64Of(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case Version:
		return int64(n), true
	case json.Number:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	}
	return 0, false
}

// Float64Of returns v as a float64, for any numeric kind.
func Float64Of(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := Int64Of(v); ok {
		return float64(i), true
	}
	if u, ok := v.(uint64); ok {
		return float64(u), true
	}
	return 0, false
}

// IsNumber reports whether v is a numeric value.
func IsNumber(v any) bool {
	_, ok := Float64Of(v)
	return ok
}

// NumbersEqual reports whether a and b hold the same number. When both are integral
// they compare exactly, otherwise as float64. ok is false unless both are numbers.
func NumbersEqual(a, b any) (equal bool, ok bool) {
	if ia, oka := Int64Of(a); oka {
		if ib, okb := Int64Of(b); okb {
			return ia == ib, true
		}
	}
	fa, oka := Float64Of(a)
	fb, okb := Float64Of(b)
	if !oka || !okb {
		return false, false
	}
	return fa == fb, true
}

// NormalizeNumbers returns v with every json.Number replaced by an int64, or a float64
// when it is not integral. Maps and slices are copied.
func NormalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		r := make(map[string]any, len(t))
		for k, e := range t {
			r[k] = NormalizeNumbers(e)
		}
		return r
	case Document:
		return NormalizeNumbers(map[string]any(t))
	case Metadata:
		return NormalizeNumbers(map[string]any(t))
	case []any:
		r := make([]any, len(t))
		for i := range t {
			r[i] = NormalizeNumbers(t[i])
		}
		return r
	}
	return v
}

// addNumbers sums a and b exactly when neither is a float, in float64 otherwise.
func addNumbers(a, b any) (any, bool) {
	if !isFloat(a) && !isFloat(b) {
		ia, oka := Int64Of(a)
		ib, okb := Int64Of(b)
		if oka && okb {
			s := ia + ib
			if (s > ia) == (ib > 0) {
				return s, true
			}
		}
	}
	fa, oka := Float64Of(a)
	fb, okb := Float64Of(b)
	if !oka || !okb {
		return nil, false
	}
	return fa + fb, true
}

func isFloat(v any) bool {
	switch n := v.(type) {
	case float32, float64:
		return true
	case json.Number:
		_, err := n.Int64()
		return err != nil
	}
	return false
}

func uintToInt64(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
