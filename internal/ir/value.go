package ir

import (
	"fmt"
	"reflect"
	"slices"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface over the constant values a plan can carry:
// condition constants, definition defaults and scenario arguments.
// Only the types in this file implement it.
type Value interface {
	value() // Sealed
}

// Null is the SQL/JSON null constant.
type Null struct{}

func (Null) value() {}

// String is a text constant.
type String string

func (String) value() {}

// Int is an integer constant. All Go integer kinds widen to Int.
type Int int64

func (Int) value() {}

// Float is a floating point constant.
type Float float64

func (Float) value() {}

// Bool is a boolean constant.
type Bool bool

func (Bool) value() {}

// Time is a timestamp constant, always held in UTC.
type Time struct {
	time.Time
}

func (Time) value() {}

// List is an ordered list of constants, used by In/NotIn conditions.
type List []Value

func (List) value() {}

// Object maps keys to constants. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

var timeType = reflect.TypeOf(time.Time{})

// FromGo converts a Go value into a Value.
//
// Accepted inputs: nil, Value, string, bool, every integer and float kind,
// time.Time, []byte (as String), slices and arrays of accepted values, and
// maps with string keys. Pointers are dereferenced; a nil pointer is Null.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time{val.UTC()}, nil
	case []byte:
		return String(val), nil
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return FromGo(rv.Elem().Interface())
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return Time{rv.Convert(timeType).Interface().(time.Time).UTC()}, nil
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}, nil
		}
		list := make(List, rv.Len())
		for i := range list {
			elem, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = elem
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", iter.Key().String(), err)
			}
			obj[iter.Key().String()] = elem
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported value type: %s", rv.Type())
}

// MustFromGo is like FromGo but panics on error.
// Use only in tests or with literal inputs.
func MustFromGo(v any) Value {
	val, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return val
}

// ToGo converts a Value into the plain Go value a database driver binds:
// nil, string, int64, float64, bool, time.Time, []any or map[string]any.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return val.Time
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
