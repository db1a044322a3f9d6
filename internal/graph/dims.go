package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Dynamic marks a dimension only known at run time.
const Dynamic = -1

// Dims is a binding shape. A negative entry is a dynamic dimension.
type Dims []int

// IsDynamic reports whether any dimension is unknown.
func (d Dims) IsDynamic() bool {
	for _, v := range d {
		if v < 0 {
			return true
		}
	}
	return false
}

// Volume is the element count of a fully specified shape, or -1 when the
// shape still has dynamic dimensions. A rank-0 shape holds one element.
func (d Dims) Volume() int64 {
	n := int64(1)
	for _, v := range d {
		if v < 0 {
			return -1
		}
		n *= int64(v)
	}
	return n
}

func (d Dims) Equal(o Dims) bool {
	if len(d) != len(o) {
		return false
	}
	for i := range d {
		if d[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (d Dims) Clone() Dims {
	if d == nil {
		return nil
	}
	out := make(Dims, len(d))
	copy(out, d)
	return out
}

func (d Dims) String() string {
	parts := make([]string, len(d))
	for i, v := range d {
		if v < 0 {
			parts[i] = "?"
		} else {
			parts[i] = strconv.Itoa(v)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseDims parses "1,3,224,224" or "1x3x224x224". "?" and "-1" are dynamic.
func ParseDims(s string) (Dims, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]()")
	if s == "" {
		return Dims{}, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == 'x' || r == ' ' })
	out := make(Dims, 0, len(fields))
	for _, f := range fields {
		if f == "?" {
			out = append(out, Dynamic)
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q in %q", f, s)
		}
		if v < 0 {
			v = Dynamic
		}
		out = append(out, v)
	}
	return out, nil
}

// DataType is the element type of a binding.
type DataType int

const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
	Bool
)

// Size is the width of one element in bytes.
func (t DataType) Size() int64 {
	switch t {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8, Bool:
		return 1
	default:
		return 0
	}
}

func (t DataType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", int(t))
	}
}

// ParseDataType accepts the names produced by DataType.String plus the
// short aliases fp32, fp16, half and float.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "float", "":
		return Float32, nil
	case "float16", "fp16", "half":
		return Float16, nil
	case "int8":
		return Int8, nil
	case "int32":
		return Int32, nil
	case "bool":
		return Bool, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", s)
	}
}

// ByteSize is the buffer size for a concrete shape of this type.
func ByteSize(d Dims, t DataType) (int64, error) {
	vol := d.Volume()
	if vol < 0 {
		return 0, fmt.Errorf("%w: shape %s", ErrUnresolvedShape, d)
	}
	return vol * t.Size(), nil
}
