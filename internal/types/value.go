package types

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Value represents a single database value. Concrete types use native Go types:
//
//	UInt8 -> uint8, UInt16 -> uint16, ..., String -> string, DateTime -> uint32
//
// A nil Value is SQL NULL.
type Value = interface{}

// DateTimeLayout is the textual form accepted for DateTime literals.
const DateTimeLayout = "2006-01-02 15:04:05"

// ToFloat64 converts a numeric value to float64 for arithmetic.
func ToFloat64(dt DataType, v Value) (float64, error) {
	switch dt {
	case TypeUInt8:
		return float64(v.(uint8)), nil
	case TypeUInt16:
		return float64(v.(uint16)), nil
	case TypeUInt32:
		return float64(v.(uint32)), nil
	case TypeUInt64:
		return float64(v.(uint64)), nil
	case TypeInt8:
		return float64(v.(int8)), nil
	case TypeInt16:
		return float64(v.(int16)), nil
	case TypeInt32:
		return float64(v.(int32)), nil
	case TypeInt64:
		return float64(v.(int64)), nil
	case TypeFloat32:
		return float64(v.(float32)), nil
	case TypeFloat64:
		return v.(float64), nil
	case TypeDateTime:
		return float64(v.(uint32)), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to float64", dt.Name())
	}
}

// ToInt64 converts a numeric value to int64.
func ToInt64(dt DataType, v Value) (int64, error) {
	switch dt {
	case TypeUInt8:
		return int64(v.(uint8)), nil
	case TypeUInt16:
		return int64(v.(uint16)), nil
	case TypeUInt32:
		return int64(v.(uint32)), nil
	case TypeUInt64:
		return int64(v.(uint64)), nil
	case TypeInt8:
		return int64(v.(int8)), nil
	case TypeInt16:
		return int64(v.(int16)), nil
	case TypeInt32:
		return int64(v.(int32)), nil
	case TypeInt64:
		return v.(int64), nil
	case TypeFloat32:
		return int64(v.(float32)), nil
	case TypeFloat64:
		return int64(v.(float64)), nil
	case TypeDateTime:
		return int64(v.(uint32)), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to int64", dt.Name())
	}
}

// FromInt64 builds a native value of type dt from n. The caller is
// responsible for n being inside the type's domain.
func FromInt64(dt DataType, n int64) Value {
	switch dt {
	case TypeUInt8:
		return uint8(n)
	case TypeUInt16:
		return uint16(n)
	case TypeUInt32:
		return uint32(n)
	case TypeUInt64:
		return uint64(n)
	case TypeInt8:
		return int8(n)
	case TypeInt16:
		return int16(n)
	case TypeInt32:
		return int32(n)
	case TypeFloat32:
		return float32(n)
	case TypeFloat64:
		return float64(n)
	case TypeDateTime:
		return uint32(n)
	case TypeString:
		return strconv.FormatInt(n, 10)
	default:
		return n
	}
}

// CompareValues compares two values of the same DataType.
// Returns -1 if a < b, 0 if a == b, 1 if a > b. NULL orders before every
// non-NULL value and equal to another NULL.
func CompareValues(dt DataType, a, b Value) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch dt {
	case TypeUInt8:
		return cmpOrdered(a.(uint8), b.(uint8))
	case TypeUInt16:
		return cmpOrdered(a.(uint16), b.(uint16))
	case TypeUInt32:
		return cmpOrdered(a.(uint32), b.(uint32))
	case TypeUInt64:
		return cmpOrdered(a.(uint64), b.(uint64))
	case TypeInt8:
		return cmpOrdered(a.(int8), b.(int8))
	case TypeInt16:
		return cmpOrdered(a.(int16), b.(int16))
	case TypeInt32:
		return cmpOrdered(a.(int32), b.(int32))
	case TypeInt64:
		return cmpOrdered(a.(int64), b.(int64))
	case TypeFloat32:
		return cmpOrdered(a.(float32), b.(float32))
	case TypeFloat64:
		return cmpOrdered(a.(float64), b.(float64))
	case TypeString:
		return cmpOrdered(a.(string), b.(string))
	case TypeDateTime:
		return cmpOrdered(a.(uint32), b.(uint32))
	default:
		return 0
	}
}

type ordered interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~int8 | ~int16 | ~int32 | ~int64 |
		~float32 | ~float64 | ~string
}

func cmpOrdered[T ordered](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CoerceValue converts a literal (int64, float64, string or nil as produced
// by the parser) or a native value of another type into the native
// representation of dt. It fails when the value does not fit the type.
func CoerceValue(dt DataType, v Value) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case string:
		return coerceString(dt, x)
	case float64:
		if dt.IsFloat() {
			if dt == TypeFloat32 {
				return float32(x), nil
			}
			return x, nil
		}
		if dt == TypeString {
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("value %v is not an integer for %s", x, dt.Name())
		}
		return coerceInt(dt, int64(x))
	case float32:
		return CoerceValue(dt, float64(x))
	case uint64:
		if dt == TypeUInt64 {
			return x, nil
		}
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("value %d out of range for %s", x, dt.Name())
		}
		return coerceInt(dt, int64(x))
	}
	n, err := anyToInt64(v)
	if err != nil {
		return nil, err
	}
	return coerceInt(dt, n)
}

func anyToInt64(v Value) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

func coerceInt(dt DataType, n int64) (Value, error) {
	switch dt {
	case TypeFloat32:
		return float32(n), nil
	case TypeFloat64:
		return float64(n), nil
	case TypeString:
		return strconv.FormatInt(n, 10), nil
	case TypeUInt64:
		if n < 0 {
			return nil, fmt.Errorf("value %d out of range for %s", n, dt.Name())
		}
		return uint64(n), nil
	}
	lo, hi, ok := dt.IntBounds()
	if !ok {
		return nil, fmt.Errorf("cannot convert %d to %s", n, dt.Name())
	}
	if n < lo || n > hi {
		return nil, fmt.Errorf("value %d out of range for %s", n, dt.Name())
	}
	return FromInt64(dt, n), nil
}

func coerceString(dt DataType, s string) (Value, error) {
	switch {
	case dt == TypeString:
		return s, nil
	case dt == TypeDateTime:
		t, err := ParseDateTime(s)
		if err != nil {
			return nil, err
		}
		return coerceInt(dt, t.Unix())
	case dt.IsFloat():
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s literal %q", dt.Name(), s)
		}
		return CoerceValue(dt, f)
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s literal %q", dt.Name(), s)
		}
		return coerceInt(dt, n)
	}
}

// ParseDateTime accepts 'YYYY-MM-DD' or 'YYYY-MM-DD HH:MM:SS' in UTC.
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(DateTimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid DateTime literal %q", s)
	}
	return t, nil
}

// ValueToString converts a value to its string representation.
func ValueToString(dt DataType, v Value) string {
	if v == nil {
		return "NULL"
	}
	switch dt {
	case TypeDateTime:
		return time.Unix(int64(v.(uint32)), 0).UTC().Format(DateTimeLayout)
	case TypeFloat32:
		return strconv.FormatFloat(float64(v.(float32)), 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.(float64), 'g', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
