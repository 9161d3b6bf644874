package doc

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Entry describes one persisted field of a document.
type Entry struct {
	// Name is the field name callers and plans use.
	Name string

	// DBSideName is the column or document key in the backend.
	DBSideName string

	// Type is the Go type values are converted to on Set.
	// For nullable struct fields this is the pointer's element type.
	Type reflect.Type

	// Nullable reports whether the entry accepts nil.
	Nullable bool

	// Flags carries the entry's roles.
	Flags Flags

	get func(obj any) (any, error)
	set func(obj any, v any) error
}

// Get returns the entry's value in obj. Nil pointers read as nil.
func (e *Entry) Get(obj any) (any, error) {
	v, err := e.get(obj)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.Name, err)
	}
	return v, nil
}

// Set stores v in obj, converting it to the entry's type. Nil stores the
// zero value (or nil for nullable entries).
func (e *Entry) Set(obj any, v any) error {
	if err := e.set(obj, v); err != nil {
		return fmt.Errorf("set %s: %w", e.Name, err)
	}
	return nil
}

// Convert coerces v into the entry's type without storing it. The result is
// nil only when v is nil and the entry is nullable.
func (e *Entry) Convert(v any) (any, error) {
	if v == nil && e.Nullable {
		return nil, nil
	}
	dst := reflect.New(e.Type).Elem()
	if err := assign(dst, v); err != nil {
		return nil, fmt.Errorf("convert %s: %w", e.Name, err)
	}
	return dst.Interface(), nil
}

// IsZero reports whether v is nil or the zero value of its type.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// assign stores v into dst, converting between the representations drivers
// hand back: int64/float64 numbers, []byte or string text, time.Time or
// RFC 3339 strings.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.SetZero()
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Kind() == reflect.Pointer {
		if src.IsNil() {
			dst.SetZero()
			return nil
		}
		src = src.Elem()
	}
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		switch src.Kind() {
		case reflect.String:
			dst.SetString(src.String())
			return nil
		case reflect.Slice:
			if src.Type() == bytesType {
				dst.SetString(string(src.Bytes()))
				return nil
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := toInt64(src)
		if ok && !dst.OverflowInt(n) {
			dst.SetInt(n)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := toInt64(src)
		if ok && n >= 0 && !dst.OverflowUint(uint64(n)) {
			dst.SetUint(uint64(n))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		switch {
		case src.CanFloat():
			dst.SetFloat(src.Float())
			return nil
		case src.CanInt():
			dst.SetFloat(float64(src.Int()))
			return nil
		}
	case reflect.Bool:
		if src.CanInt() {
			dst.SetBool(src.Int() != 0)
			return nil
		}
	case reflect.Struct:
		if dst.Type() == timeType {
			if t, ok := toTime(src); ok {
				dst.Set(reflect.ValueOf(t))
				return nil
			}
		}
	case reflect.Slice:
		if dst.Type() == bytesType && src.Kind() == reflect.String {
			dst.SetBytes([]byte(src.String()))
			return nil
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) && src.Kind() == dst.Kind() {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot convert %s to %s", src.Type(), dst.Type())
}

func toInt64(v reflect.Value) (int64, bool) {
	switch {
	case v.CanInt():
		return v.Int(), true
	case v.CanUint():
		u := v.Uint()
		return int64(u), u <= math.MaxInt64
	case v.CanFloat():
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func toTime(v reflect.Value) (time.Time, bool) {
	var s string
	switch v.Kind() {
	case reflect.String:
		s = v.String()
	case reflect.Slice:
		if v.Type() != bytesType {
			return time.Time{}, false
		}
		s = string(v.Bytes())
	default:
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
