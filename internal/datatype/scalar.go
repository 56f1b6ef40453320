// Package datatype holds helpers for converting between Go values, strings
// and arrow scalars.
package datatype

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// FromGo converts a Go value into a scalar. Untyped integers become int64
// scalars; use a sized Go type (int32, uint8, ...) to get another width. A
// nil value becomes a null scalar of the null type.
func FromGo(v any) scalar.Scalar {
	switch v := v.(type) {
	case nil:
		return scalar.MakeNullScalar(arrow.Null)
	case scalar.Scalar:
		return v
	case bool:
		return scalar.NewBooleanScalar(v)
	case int:
		return scalar.NewInt64Scalar(int64(v))
	case int8:
		return scalar.NewInt8Scalar(v)
	case int16:
		return scalar.NewInt16Scalar(v)
	case int32:
		return scalar.NewInt32Scalar(v)
	case int64:
		return scalar.NewInt64Scalar(v)
	case uint:
		return scalar.NewUint64Scalar(uint64(v))
	case uint8:
		return scalar.NewUint8Scalar(v)
	case uint16:
		return scalar.NewUint16Scalar(v)
	case uint32:
		return scalar.NewUint32Scalar(v)
	case uint64:
		return scalar.NewUint64Scalar(v)
	case float32:
		return scalar.NewFloat32Scalar(v)
	case float64:
		return scalar.NewFloat64Scalar(v)
	case string:
		return scalar.NewStringScalar(v)
	case []byte:
		return scalar.NewBinaryScalar(memory.NewBufferBytes(v), arrow.BinaryTypes.Binary)
	default:
		return scalar.MakeScalar(v)
	}
}

// IsNull returns true if s is nil or holds no valid value.
func IsNull(s scalar.Scalar) bool {
	return s == nil || !s.IsValid()
}

// ParseScalar parses val as a scalar of type dt. Integers are always parsed
// in base 10, so a path segment such as "08" parses to 8.
func ParseScalar(dt arrow.DataType, val string) (scalar.Scalar, error) {
	var (
		res scalar.Scalar
		err error
	)

	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		var v int64
		v, err = strconv.ParseInt(strings.TrimSpace(val), 10, dt.(arrow.FixedWidthDataType).BitWidth())
		if err == nil {
			res = signedScalar(dt.ID(), v)
		}
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		var v uint64
		v, err = strconv.ParseUint(strings.TrimSpace(val), 10, dt.(arrow.FixedWidthDataType).BitWidth())
		if err == nil {
			res = unsignedScalar(dt.ID(), v)
		}
	case arrow.FLOAT32:
		var v float64
		v, err = strconv.ParseFloat(strings.TrimSpace(val), 32)
		res = scalar.NewFloat32Scalar(float32(v))
	case arrow.FLOAT64:
		var v float64
		v, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
		res = scalar.NewFloat64Scalar(v)
	case arrow.BOOL:
		var v bool
		v, err = strconv.ParseBool(strings.TrimSpace(val))
		res = scalar.NewBooleanScalar(v)
	case arrow.STRING:
		res = scalar.NewStringScalar(val)
	case arrow.LARGE_STRING:
		res = scalar.NewLargeStringScalar(val)
	case arrow.BINARY:
		res = scalar.NewBinaryScalar(memory.NewBufferBytes([]byte(val)), dt)
	default:
		res, err = scalar.ParseScalar(dt, val)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing %q as %s: %w: %w", val, dt, dserrors.ErrType, err)
	}
	return res, nil
}

func signedScalar(id arrow.Type, v int64) scalar.Scalar {
	switch id {
	case arrow.INT8:
		return scalar.NewInt8Scalar(int8(v))
	case arrow.INT16:
		return scalar.NewInt16Scalar(int16(v))
	case arrow.INT32:
		return scalar.NewInt32Scalar(int32(v))
	default:
		return scalar.NewInt64Scalar(v)
	}
}

func unsignedScalar(id arrow.Type, v uint64) scalar.Scalar {
	switch id {
	case arrow.UINT8:
		return scalar.NewUint8Scalar(uint8(v))
	case arrow.UINT16:
		return scalar.NewUint16Scalar(uint16(v))
	case arrow.UINT32:
		return scalar.NewUint32Scalar(uint32(v))
	default:
		return scalar.NewUint64Scalar(v)
	}
}

// GoValue returns the value held by s as one of int64, uint64, float64,
// bool or string. ok is false for null scalars and unsupported types.
func GoValue(s scalar.Scalar) (v any, ok bool) {
	if IsNull(s) {
		return nil, false
	}

	switch s := s.(type) {
	case *scalar.Int8:
		return int64(s.Value), true
	case *scalar.Int16:
		return int64(s.Value), true
	case *scalar.Int32:
		return int64(s.Value), true
	case *scalar.Int64:
		return s.Value, true
	case *scalar.Uint8:
		return uint64(s.Value), true
	case *scalar.Uint16:
		return uint64(s.Value), true
	case *scalar.Uint32:
		return uint64(s.Value), true
	case *scalar.Uint64:
		return s.Value, true
	case *scalar.Float32:
		return float64(s.Value), true
	case *scalar.Float64:
		return s.Value, true
	case *scalar.Boolean:
		return s.Value, true
	case *scalar.String:
		return string(s.Data()), true
	case *scalar.LargeString:
		return string(s.Data()), true
	case *scalar.Binary:
		return string(s.Data()), true
	case *scalar.Date32:
		return int64(s.Value), true
	case *scalar.Date64:
		return int64(s.Value), true
	case *scalar.Timestamp:
		return int64(s.Value), true
	case *scalar.Duration:
		return int64(s.Value), true
	}
	return nil, false
}

// Compare orders two valid scalars of the same type. It returns an error
// wrapping ErrType when the scalars cannot be compared.
func Compare(a, b scalar.Scalar) (int, error) {
	if !arrow.TypeEqual(a.DataType(), b.DataType()) {
		return 0, fmt.Errorf("cannot compare %s with %s: %w", a.DataType(), b.DataType(), dserrors.ErrType)
	}

	av, aok := GoValue(a)
	bv, bok := GoValue(b)
	if !aok || !bok {
		return 0, fmt.Errorf("cannot compare values of type %s: %w", a.DataType(), dserrors.ErrNotImplemented)
	}

	switch av := av.(type) {
	case int64:
		return cmp.Compare(av, bv.(int64)), nil
	case uint64:
		return cmp.Compare(av, bv.(uint64)), nil
	case float64:
		return cmp.Compare(av, bv.(float64)), nil
	case string:
		return strings.Compare(av, bv.(string)), nil
	case bool:
		return compareBool(av, bv.(bool)), nil
	}
	return 0, fmt.Errorf("cannot compare values of type %s: %w", a.DataType(), dserrors.ErrNotImplemented)
}

// IsNaN reports whether s is a floating point NaN.
func IsNaN(s scalar.Scalar) bool {
	v, ok := GoValue(s)
	f, isFloat := v.(float64)
	return ok && isFloat && math.IsNaN(f)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
