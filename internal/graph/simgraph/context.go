package simgraph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/samcharles93/engineprep/internal/graph"
)

type execContext struct {
	engine  *Engine
	profile int
	shapes  map[int]graph.Dims
	closed  bool
}

func (c *execContext) ActiveProfile() int { return c.profile }

func (c *execContext) SetActiveProfile(profile int) error {
	if profile < 0 || profile >= c.engine.NumProfiles() {
		return fmt.Errorf("profile %d out of range [0,%d)", profile, c.engine.NumProfiles())
	}
	c.profile = profile
	clear(c.shapes)
	return nil
}

func (c *execContext) owns(binding int) bool {
	first := c.profile * c.engine.perProf
	return binding >= first && binding < first+c.engine.perProf
}

func (c *execContext) SetBindingShape(binding int, shape graph.Dims) error {
	if !c.owns(binding) {
		return fmt.Errorf("binding %d does not belong to active profile %d", binding, c.profile)
	}
	b := c.engine.bindings[binding]
	if !b.IsInput() {
		return fmt.Errorf("binding %d (%s) is an output; its shape is derived", binding, b.Name)
	}
	if shape.IsDynamic() {
		return fmt.Errorf("%w: %s shape %s is not fully specified", graph.ErrUnresolvedShape, b.Name, shape)
	}
	ps := c.engine.profiles[c.profile][binding%c.engine.perProf]
	if !ps.Contains(shape) {
		return fmt.Errorf("%s: shape %s outside profile %d range [%s, %s]", b.Name, shape, c.profile, ps.Min, ps.Max)
	}
	c.shapes[binding] = shape.Clone()
	return nil
}

func (c *execContext) BindingShape(binding int) (graph.Dims, error) {
	if binding < 0 || binding >= len(c.engine.bindings) {
		return nil, fmt.Errorf("binding index %d out of range [0,%d)", binding, len(c.engine.bindings))
	}
	b := c.engine.bindings[binding]
	if b.IsInput() {
		if s, ok := c.shapes[binding]; ok {
			return s.Clone(), nil
		}
		return b.Shape.Clone(), nil
	}
	out := b.Shape.Clone()
	if !out.IsDynamic() || !c.owns(binding) {
		return out, nil
	}
	ref, err := c.BindingShape(c.firstInput())
	if err != nil {
		return nil, err
	}
	for axis, d := range out {
		if d < 0 && axis < len(ref) {
			out[axis] = ref[axis]
		}
	}
	return out, nil
}

func (c *execContext) firstInput() int {
	first := c.profile * c.engine.perProf
	for i := first; i < first+c.engine.perProf; i++ {
		if c.engine.bindings[i].IsInput() {
			return i
		}
	}
	return first
}

func (c *execContext) AllBindingShapesSpecified() bool {
	first := c.profile * c.engine.perProf
	for i := first; i < first+c.engine.perProf; i++ {
		if !c.engine.bindings[i].IsInput() {
			continue
		}
		s, err := c.BindingShape(i)
		if err != nil || s.IsDynamic() {
			return false
		}
	}
	return true
}

func (c *execContext) Execute(bindings []uintptr) error {
	if c.closed {
		return errors.New("execution context closed")
	}
	if c.engine.mem == nil {
		return errors.New("engine loaded without device memory")
	}
	if len(bindings) != c.engine.perProf {
		return fmt.Errorf("expected %d binding addresses, got %d", c.engine.perProf, len(bindings))
	}
	if !c.AllBindingShapesSpecified() {
		return fmt.Errorf("%w: not every input shape is set", graph.ErrUnresolvedShape)
	}

	first := c.profile * c.engine.perProf
	var inputs, outputs []int
	for i := first; i < first+c.engine.perProf; i++ {
		if c.engine.bindings[i].IsInput() {
			inputs = append(inputs, i)
		} else {
			outputs = append(outputs, i)
		}
	}
	addrs := make(map[int]uintptr, len(bindings))
	for pos, idx := range append(append([]int(nil), inputs...), outputs...) {
		addrs[idx] = bindings[pos]
	}

	src := c.firstInput()
	srcShape, _ := c.BindingShape(src)
	srcBinding := c.engine.bindings[src]
	if srcBinding.DType != graph.Float32 {
		return fmt.Errorf("sim runtime only reads float32 inputs, %s is %s", srcBinding.Name, srcBinding.DType)
	}
	size, err := graph.ByteSize(srcShape, srcBinding.DType)
	if err != nil {
		return err
	}
	raw, err := c.engine.mem.View(addrs[src], size)
	if err != nil {
		return fmt.Errorf("input %s: %w", srcBinding.Name, err)
	}
	means := rowMeans(raw, srcShape)

	for _, idx := range outputs {
		b := c.engine.bindings[idx]
		shape, err := c.BindingShape(idx)
		if err != nil {
			return err
		}
		size, err := graph.ByteSize(shape, b.DType)
		if err != nil {
			return err
		}
		mem, err := c.engine.mem.View(addrs[idx], size)
		if err != nil {
			return fmt.Errorf("output %s: %w", b.Name, err)
		}
		rows, cols := splitRows(shape)
		for r := 0; r < rows; r++ {
			m := means[r%len(means)]
			for j := 0; j < cols; j++ {
				putElem(mem, r*cols+j, b.DType, m+float32(j))
			}
		}
	}
	return nil
}

func (c *execContext) Close() error {
	c.closed = true
	return nil
}

func splitRows(shape graph.Dims) (int, int) {
	vol := int(shape.Volume())
	if len(shape) == 0 || shape[0] == 0 {
		return 1, vol
	}
	return shape[0], vol / shape[0]
}

func rowMeans(raw []byte, shape graph.Dims) []float32 {
	rows, cols := splitRows(shape)
	means := make([]float32, max(rows, 1))
	if cols == 0 {
		return means
	}
	for r := 0; r < rows; r++ {
		var sum float64
		for j := 0; j < cols; j++ {
			off := (r*cols + j) * 4
			sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
		}
		means[r] = float32(sum / float64(cols))
	}
	return means
}

func putElem(mem []byte, i int, dt graph.DataType, v float32) {
	switch dt {
	case graph.Float32:
		binary.LittleEndian.PutUint32(mem[i*4:], math.Float32bits(v))
	case graph.Float16:
		binary.LittleEndian.PutUint16(mem[i*2:], float16.Fromfloat32(v).Bits())
	case graph.Int32:
		binary.LittleEndian.PutUint32(mem[i*4:], uint32(int32(v)))
	case graph.Int8:
		mem[i] = byte(int8(max(-128, min(127, v))))
	case graph.Bool:
		if v != 0 {
			mem[i] = 1
		} else {
			mem[i] = 0
		}
	}
}
