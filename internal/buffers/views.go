package buffers

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/samcharles93/engineprep/internal/graph"
)

// SetFloat32 encodes vals into the host buffer in the binding's element
// type. len(vals) must equal the element count of the pair's shape.
func (p *Pair) SetFloat32(vals []float32) error {
	n := p.Shape.Volume()
	if int64(len(vals)) != n {
		return fmt.Errorf("binding %s: got %d values for shape %s (%d elements)", p.Binding.Name, len(vals), p.Shape, n)
	}
	buf := p.Host.Bytes()
	switch p.Binding.DType {
	case graph.Float32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	case graph.Float16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		}
	case graph.Int32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
		}
	case graph.Int8:
		for i, v := range vals {
			buf[i] = byte(int8(max(-128, min(127, math.Round(float64(v))))))
		}
	case graph.Bool:
		for i, v := range vals {
			buf[i] = 0
			if v != 0 {
				buf[i] = 1
			}
		}
	default:
		return fmt.Errorf("binding %s: unsupported dtype %s", p.Binding.Name, p.Binding.DType)
	}
	return nil
}

// Float32 decodes the host buffer into float32 values.
func (p *Pair) Float32() ([]float32, error) {
	n := int(p.Shape.Volume())
	buf := p.Host.Bytes()
	out := make([]float32, n)
	switch p.Binding.DType {
	case graph.Float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case graph.Float16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
	case graph.Int32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case graph.Int8:
		for i := range out {
			out[i] = float32(int8(buf[i]))
		}
	case graph.Bool:
		for i := range out {
			if buf[i] != 0 {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("binding %s: unsupported dtype %s", p.Binding.Name, p.Binding.DType)
	}
	return out, nil
}
