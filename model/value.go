package model

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// Comparer reports whether two property values are equal.
type Comparer func(a, b any) bool

// TemporaryStringPrefix marks temporary values of string keys.
const TemporaryStringPrefix = "__temp:"

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// DefaultComparer returns the comparer used when none is configured.
// Byte slices compare by content, times by instant, everything else
// structurally.
func DefaultComparer(k Kind) Comparer {
	switch k {
	case KindBytes:
		return func(a, b any) bool {
			ab, aok := a.([]byte)
			bb, bok := b.([]byte)
			if aok && bok {
				return bytes.Equal(ab, bb)
			}
			return equalValues(a, b)
		}
	case KindTime:
		return func(a, b any) bool {
			at, aok := a.(time.Time)
			bt, bok := b.(time.Time)
			if aok && bok {
				return at.Equal(bt)
			}
			return equalValues(a, b)
		}
	default:
		return equalValues
	}
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return cmp.Equal(a, b, exportAll)
}

func isDefault(v any) bool {
	if v == nil {
		return true
	}
	switch v := v.(type) {
	case int64:
		return v == 0
	case string:
		return v == ""
	case uuid.UUID:
		return v == uuid.Nil
	case []byte:
		return len(v) == 0
	case time.Time:
		return v.IsZero()
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}

func temporaryValue(k Kind, next func() int64) any {
	switch k {
	case KindString:
		return TemporaryStringPrefix + uuid.NewString()
	case KindUUID:
		return uuid.New()
	default:
		return next()
	}
}

// convert normalizes v to the canonical Go type of kind k.
func convert(k Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindInt64:
		return toInt64(v)
	case KindString:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case KindBool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case int:
			return v != 0, nil
		}
	case KindFloat64:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		default:
			if i, err := toInt64(v); err == nil {
				return float64(i.(int64)), nil
			}
		}
	case KindBytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	case KindTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			return time.Parse(time.RFC3339Nano, v)
		case []byte:
			return time.Parse(time.RFC3339Nano, string(v))
		}
	case KindUUID:
		switch v := v.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			return uuid.Parse(v)
		case []byte:
			if len(v) == 16 {
				return uuid.FromBytes(v)
			}
			return uuid.ParseBytes(v)
		case [16]byte:
			return uuid.UUID(v), nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, k)
}

func toInt64(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to int64", v)
}
