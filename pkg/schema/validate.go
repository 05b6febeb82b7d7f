package schema

import (
	"errors"
	"fmt"
	"reflect"
)

// Required rejects zero values.
type Required struct{}

// Validate implements Validator.
func (Required) Validate(value any) (any, error) {
	if value == nil {
		return nil, errors.New("value is required")
	}
	v := reflect.ValueOf(value)
	if v.IsZero() {
		return nil, errors.New("value is required")
	}
	return value, nil
}

// Min rejects numbers below Bound.
type Min struct{ Bound float64 }

// Validate implements Validator.
func (m Min) Validate(value any) (any, error) {
	n, ok := asNumber(value)
	if !ok {
		return nil, fmt.Errorf("min=%v requires a numeric value, got %T", m.Bound, value)
	}
	if n < m.Bound {
		return nil, fmt.Errorf("value %v below minimum %v", n, m.Bound)
	}
	return value, nil
}

// Max rejects numbers above Bound.
type Max struct{ Bound float64 }

// Validate implements Validator.
func (m Max) Validate(value any) (any, error) {
	n, ok := asNumber(value)
	if !ok {
		return nil, fmt.Errorf("max=%v requires a numeric value, got %T", m.Bound, value)
	}
	if n > m.Bound {
		return nil, fmt.Errorf("value %v above maximum %v", n, m.Bound)
	}
	return value, nil
}

// MinLen rejects strings, slices, and maps shorter than N.
type MinLen struct{ N int }

// Validate implements Validator.
func (m MinLen) Validate(value any) (any, error) {
	n, ok := length(value)
	if !ok {
		return nil, fmt.Errorf("minlen=%d requires a sized value, got %T", m.N, value)
	}
	if n < m.N {
		return nil, fmt.Errorf("length %d below minimum %d", n, m.N)
	}
	return value, nil
}

// MaxLen rejects strings, slices, and maps longer than N.
type MaxLen struct{ N int }

// Validate implements Validator.
func (m MaxLen) Validate(value any) (any, error) {
	n, ok := length(value)
	if !ok {
		return nil, fmt.Errorf("maxlen=%d requires a sized value, got %T", m.N, value)
	}
	if n > m.N {
		return nil, fmt.Errorf("length %d above maximum %d", n, m.N)
	}
	return value, nil
}

// Func adapts a plain function into a Validator.
type Func func(value any) (any, error)

// Validate implements Validator.
func (f Func) Validate(value any) (any, error) {
	return f(value)
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func length(value any) (int, bool) {
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return v.Len(), true
	default:
		return 0, false
	}
}
