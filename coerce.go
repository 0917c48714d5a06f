package dagflow

import (
	"math"
	"reflect"

	"github.com/goccy/go-json"
)

// Coerce converts v to T. It succeeds when v is directly assignable, when
// both sides are numeric kinds and the value survives the conversion, or when v is a JSON-shaped value (as produced
// by decoding a request body) that decodes cleanly into T.
func Coerce[T any](v any) (T, bool) {
	var zero T
	if typed, ok := v.(T); ok {
		return typed, true
	}
	want := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || want.Kind() == reflect.Interface {
		return zero, false
	}
	if isNumeric(rv.Kind()) && isNumeric(want.Kind()) {
		out, ok := ConvertNumeric(rv, want)
		if !ok {
			return zero, false
		}
		return out.Interface().(T), true
	}
	if !jsonShaped(rv.Type()) {
		return zero, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}

// Compatible reports whether a value of type got can be handed to a
// dependency declared as want, using the same rules as Coerce. A nil want
// accepts everything.
func Compatible(got, want reflect.Type) bool {
	if want == nil || got == nil {
		return true
	}
	if got.AssignableTo(want) {
		return true
	}
	if isNumeric(got.Kind()) && isNumeric(want.Kind()) {
		return true
	}
	return jsonShaped(got) && want.Kind() != reflect.Interface
}

// ConvertNumeric converts the numeric value rv to the numeric type want,
// refusing conversions that truncate a fraction or overflow the target.
// Float to float conversions only need to fit; rounding to float32 is
// accepted.
func ConvertNumeric(rv reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if !rv.IsValid() || !isNumeric(rv.Kind()) || !isNumeric(want.Kind()) {
		return reflect.Value{}, false
	}
	if isFloat(rv.Kind()) && isFloat(want.Kind()) {
		f := rv.Float()
		if !math.IsInf(f, 0) && !math.IsNaN(f) && reflect.Zero(want).OverflowFloat(f) {
			return reflect.Value{}, false
		}
		return rv.Convert(want), true
	}
	if isFloat(rv.Kind()) {
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return reflect.Value{}, false
		}
		// Outside ±2^63 (2^64 unsigned) the conversion itself is undefined.
		if f < -(1<<63) || f >= 1<<64 || (f >= 1<<63 && !isUnsigned(want.Kind())) {
			return reflect.Value{}, false
		}
	}
	out := rv.Convert(want)
	if out.Convert(rv.Type()).Interface() != rv.Interface() {
		return reflect.Value{}, false
	}
	if signOf(rv) != signOf(out) {
		return reflect.Value{}, false
	}
	return out, true
}

func signOf(v reflect.Value) int {
	switch {
	case isFloat(v.Kind()):
		if v.Float() < 0 {
			return -1
		}
	case isUnsigned(v.Kind()):
	default:
		if v.Int() < 0 {
			return -1
		}
	}
	return 1
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// IsNumericKind reports whether k is an integer or floating-point kind.
func IsNumericKind(k reflect.Kind) bool { return isNumeric(k) }

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

var (
	jsonObjectType = reflect.TypeOf(map[string]any(nil))
	jsonArrayType  = reflect.TypeOf([]any(nil))
)

// jsonShaped matches the dynamic types encoding/json style decoders produce
// for untyped targets.
func jsonShaped(t reflect.Type) bool {
	switch t {
	case jsonObjectType, jsonArrayType:
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool, reflect.Float64:
		return true
	}
	return false
}
