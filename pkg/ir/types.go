package ir

import (
	"fmt"
	"strings"
)

// DataType is the element type of a value.
type DataType int

const (
	Invalid DataType = iota
	Bool
	Int32
	Int64
	Index
	Half
	BFloat16
	Float
	Double
)

var dataTypeNames = map[DataType]string{
	Invalid:  "invalid",
	Bool:     "bool",
	Int32:    "int32",
	Int64:    "int64",
	Index:    "index",
	Half:     "float16",
	BFloat16: "bfloat16",
	Float:    "float32",
	Double:   "float64",
}

// String returns the canonical lowercase name (e.g. "float32").
func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ParseDataType converts a name produced by [DataType.String] back into a
// DataType. The short aliases "f16", "bf16", "f32" and "f64" are accepted.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(s) {
	case "f16", "half":
		return Half, nil
	case "bf16":
		return BFloat16, nil
	case "f32", "float":
		return Float, nil
	case "f64", "double":
		return Double, nil
	}
	for dt, name := range dataTypeNames {
		if name == strings.ToLower(s) && dt != Invalid {
			return dt, nil
		}
	}
	return Invalid, fmt.Errorf("unknown data type %q", s)
}

// Size returns the size of one element in bytes.
func (d DataType) Size() int {
	switch d {
	case Bool:
		return 1
	case Half, BFloat16:
		return 2
	case Int32, Float:
		return 4
	case Int64, Index, Double:
		return 8
	}
	return 0
}

// IsFloatingPoint reports whether d is a floating point type.
func (d DataType) IsFloatingPoint() bool {
	return d == Half || d == BFloat16 || d == Float || d == Double
}

// IsReducedPrecision reports whether d is one of the 16-bit float types used
// for boundary precision reduction.
func (d DataType) IsReducedPrecision() bool { return d == Half || d == BFloat16 }

func promote(a, b DataType) DataType {
	switch {
	case a == b:
		return a
	case a.IsFloatingPoint() && b.IsFloatingPoint():
		if a.Size() == b.Size() {
			// float16 with bfloat16 has no common 16-bit type.
			return Float
		}
		if a.Size() > b.Size() {
			return a
		}
		return b
	case a.IsFloatingPoint():
		return a
	case b.IsFloatingPoint():
		return b
	case a > b:
		return a
	}
	return b
}
