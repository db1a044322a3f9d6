// Package graph describes compiled inference graphs ("engines") at the
// narrow boundary engineprep needs: binding metadata, optimization profile
// shape ranges, execution contexts and execute-over-pointers.
package graph

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrGraphInvariant reports a malformed compiled graph, e.g. a binding
	// count that does not divide evenly across its optimization profiles.
	ErrGraphInvariant = errors.New("graph invariant violated")
	// ErrUnresolvedShape reports a dynamic binding whose concrete shape
	// could not be determined from a profile or an explicit input.
	ErrUnresolvedShape = errors.New("unresolved dynamic shape")
)

// Direction tells whether a binding consumes or produces data.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Binding is one named input or output slot of a compiled graph.
type Binding struct {
	Index     int
	Name      string
	Direction Direction
	Shape     Dims
	DType     DataType
}

// IsInput reports whether the binding is an input.
func (b Binding) IsInput() bool { return b.Direction == Input }

// ProfileShapes is the (min, opt, max) range an optimization profile allows
// for one dynamic binding.
type ProfileShapes struct {
	Min Dims
	Opt Dims
	Max Dims
}

// Contains reports whether d is fully specified and lies within [Min, Max]
// dimension-wise.
func (p ProfileShapes) Contains(d Dims) bool {
	if d.IsDynamic() || len(d) != len(p.Min) || len(d) != len(p.Max) {
		return false
	}
	for i := range d {
		if d[i] < p.Min[i] || d[i] > p.Max[i] {
			return false
		}
	}
	return true
}

// Engine is an immutable compiled graph.
type Engine interface {
	// NumBindings is the total binding count across all profiles.
	NumBindings() int
	// NumProfiles is the number of optimization profiles, at least 1.
	NumProfiles() int
	Binding(index int) (Binding, error)
	// ProfileShapes returns the shape range of a binding under a profile.
	ProfileShapes(profile, binding int) (ProfileShapes, error)
	NewContext() (Context, error)
}

// Context is an execution context over an Engine. Exactly one profile is
// active at a time.
type Context interface {
	ActiveProfile() int
	SetActiveProfile(profile int) error
	// SetBindingShape fixes the run-time shape of an input binding.
	SetBindingShape(binding int, shape Dims) error
	// BindingShape returns the current shape of a binding. Output shapes of
	// dynamic graphs are only concrete once every input shape is set.
	BindingShape(binding int) (Dims, error)
	AllBindingShapesSpecified() bool
	// Execute runs the graph synchronously over device addresses, inputs
	// followed by outputs in binding-index order.
	Execute(bindings []uintptr) error
	Close() error
}

// Runtime turns a serialized compiled graph into an Engine.
type Runtime interface {
	Name() string
	Deserialize(blob []byte) (Engine, error)
}

// LoadEngine reads the compiled graph file fully into memory and hands it to
// the runtime's loader.
func LoadEngine(path string, rt Runtime) (Engine, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine %s: %w", path, err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("engine file %s is empty", path)
	}
	e, err := rt.Deserialize(blob)
	if err != nil {
		return nil, fmt.Errorf("%s runtime: deserialize %s: %w", rt.Name(), path, err)
	}
	return e, nil
}

// Bindings lists every binding of the engine in index order.
func Bindings(e Engine) ([]Binding, error) {
	out := make([]Binding, 0, e.NumBindings())
	for i := 0; i < e.NumBindings(); i++ {
		b, err := e.Binding(i)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
