// Package simgraph is an in-memory compiled-graph runtime. Engines are
// described in JSON and execute deterministically over host-addressable
// device memory, which makes the binding, buffer and calibration machinery
// testable without an accelerator.
//
// Every dynamic output dimension takes the run-time value of the same axis
// of the profile's first input. Execution fills output row r, column j with
// mean(row r of the first input) + j.
package simgraph

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/engineprep/internal/graph"
)

// RuntimeName is reported by Runtime.Name.
const RuntimeName = "sim"

// Memory resolves device addresses to live bytes.
type Memory interface {
	View(addr uintptr, size int64) ([]byte, error)
}

// Description is the serialized form of a simulated engine.
type Description struct {
	Name string `json:"name"`
	// Bindings is the per-profile binding template, in declaration order.
	Bindings []BindingDesc `json:"bindings"`
	// Profiles holds the shape ranges of dynamic inputs, keyed by binding
	// name. An engine without dynamic inputs may omit it.
	Profiles []ProfileDesc `json:"profiles,omitempty"`
}

type BindingDesc struct {
	Name  string `json:"name"`
	Input bool   `json:"input"`
	DType string `json:"dtype,omitempty"`
	Shape []int  `json:"shape"`
}

type ProfileDesc struct {
	Shapes map[string]ShapeRange `json:"shapes"`
}

type ShapeRange struct {
	Min []int `json:"min"`
	Opt []int `json:"opt"`
	Max []int `json:"max"`
}

// Runtime deserializes JSON engine descriptions.
type Runtime struct {
	mem Memory
}

// NewRuntime returns a runtime whose engines execute against mem. A nil
// mem still loads engines for inspection; Execute then fails.
func NewRuntime(mem Memory) *Runtime {
	return &Runtime{mem: mem}
}

func (r *Runtime) Name() string { return RuntimeName }

func (r *Runtime) Deserialize(blob []byte) (graph.Engine, error) {
	var desc Description
	if err := json.Unmarshal(blob, &desc); err != nil {
		return nil, fmt.Errorf("decode engine description: %w", err)
	}
	return New(desc, r.mem)
}

// Marshal serializes a description, the inverse of Runtime.Deserialize.
func Marshal(desc Description) ([]byte, error) {
	return json.MarshalIndent(desc, "", "  ")
}

// Engine is a validated, immutable simulated engine.
type Engine struct {
	name      string
	mem       Memory
	perProf   int
	bindings  []graph.Binding
	profiles  [][]graph.ProfileShapes
	numInputs int
}

// New validates desc and expands its binding template across profiles.
// Bindings of profile k > 0 are suffixed " [profile k]".
func New(desc Description, mem Memory) (*Engine, error) {
	if len(desc.Bindings) == 0 {
		return nil, errors.New("engine has no bindings")
	}
	numProfiles := len(desc.Profiles)
	if numProfiles == 0 {
		numProfiles = 1
	}

	e := &Engine{
		name:     desc.Name,
		mem:      mem,
		perProf:  len(desc.Bindings),
		profiles: make([][]graph.ProfileShapes, numProfiles),
	}

	template := make([]graph.Binding, len(desc.Bindings))
	seen := make(map[string]bool, len(desc.Bindings))
	firstInput := -1
	for i, bd := range desc.Bindings {
		if bd.Name == "" {
			return nil, fmt.Errorf("binding %d has no name", i)
		}
		if seen[bd.Name] {
			return nil, fmt.Errorf("duplicate binding name %q", bd.Name)
		}
		seen[bd.Name] = true
		dt, err := graph.ParseDataType(bd.DType)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", bd.Name, err)
		}
		b := graph.Binding{Index: i, Name: bd.Name, Direction: graph.Output, Shape: normalizeDims(bd.Shape), DType: dt}
		if bd.Input {
			b.Direction = graph.Input
			e.numInputs++
			if firstInput < 0 {
				firstInput = i
			}
		}
		template[i] = b
	}
	if e.numInputs == 0 {
		return nil, errors.New("engine has no input bindings")
	}
	for _, b := range template {
		if b.IsInput() || !b.Shape.IsDynamic() {
			continue
		}
		ref := template[firstInput].Shape
		for axis, d := range b.Shape {
			if d < 0 && axis >= len(ref) {
				return nil, fmt.Errorf("output %q: dynamic axis %d has no matching input axis", b.Name, axis)
			}
		}
	}

	for k := 0; k < numProfiles; k++ {
		var pd ProfileDesc
		if k < len(desc.Profiles) {
			pd = desc.Profiles[k]
		}
		e.profiles[k] = make([]graph.ProfileShapes, len(template))
		for i, b := range template {
			rng, ok := pd.Shapes[b.Name]
			if !b.IsInput() || !b.Shape.IsDynamic() {
				if ok {
					return nil, fmt.Errorf("profile %d: %q is not a dynamic input", k, b.Name)
				}
				e.profiles[k][i] = graph.ProfileShapes{Min: b.Shape, Opt: b.Shape, Max: b.Shape}
				continue
			}
			if !ok {
				return nil, fmt.Errorf("profile %d: dynamic input %q has no shape range", k, b.Name)
			}
			ps := graph.ProfileShapes{Min: normalizeDims(rng.Min), Opt: normalizeDims(rng.Opt), Max: normalizeDims(rng.Max)}
			if err := validateRange(b.Shape, ps); err != nil {
				return nil, fmt.Errorf("profile %d: input %q: %w", k, b.Name, err)
			}
			e.profiles[k][i] = ps
		}
		for i, b := range template {
			b.Index = k*e.perProf + i
			if k > 0 {
				b.Name = fmt.Sprintf("%s [profile %d]", b.Name, k)
			}
			b.Shape = b.Shape.Clone()
			e.bindings = append(e.bindings, b)
		}
	}
	return e, nil
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) NumBindings() int { return len(e.bindings) }

func (e *Engine) NumProfiles() int { return len(e.profiles) }

func (e *Engine) Binding(index int) (graph.Binding, error) {
	if index < 0 || index >= len(e.bindings) {
		return graph.Binding{}, fmt.Errorf("binding index %d out of range [0,%d)", index, len(e.bindings))
	}
	b := e.bindings[index]
	b.Shape = b.Shape.Clone()
	return b, nil
}

func (e *Engine) ProfileShapes(profile, binding int) (graph.ProfileShapes, error) {
	if profile < 0 || profile >= len(e.profiles) {
		return graph.ProfileShapes{}, fmt.Errorf("profile %d out of range [0,%d)", profile, len(e.profiles))
	}
	if binding < 0 || binding >= len(e.bindings) {
		return graph.ProfileShapes{}, fmt.Errorf("binding index %d out of range [0,%d)", binding, len(e.bindings))
	}
	ps := e.profiles[profile][binding%e.perProf]
	return graph.ProfileShapes{Min: ps.Min.Clone(), Opt: ps.Opt.Clone(), Max: ps.Max.Clone()}, nil
}

func (e *Engine) NewContext() (graph.Context, error) {
	return &execContext{engine: e, shapes: make(map[int]graph.Dims)}, nil
}

func normalizeDims(in []int) graph.Dims {
	out := make(graph.Dims, len(in))
	for i, v := range in {
		if v < 0 {
			v = graph.Dynamic
		}
		out[i] = v
	}
	return out
}

func validateRange(declared graph.Dims, ps graph.ProfileShapes) error {
	for _, d := range []graph.Dims{ps.Min, ps.Opt, ps.Max} {
		if len(d) != len(declared) {
			return fmt.Errorf("range rank %d does not match binding rank %d", len(d), len(declared))
		}
		if d.IsDynamic() {
			return fmt.Errorf("range %s is not fully specified", d)
		}
	}
	for i, want := range declared {
		if want >= 0 && (ps.Min[i] != want || ps.Opt[i] != want || ps.Max[i] != want) {
			return fmt.Errorf("fixed axis %d must be %d in every range point", i, want)
		}
		if ps.Min[i] > ps.Opt[i] || ps.Opt[i] > ps.Max[i] {
			return fmt.Errorf("axis %d violates min <= opt <= max (%d, %d, %d)", i, ps.Min[i], ps.Opt[i], ps.Max[i])
		}
	}
	return nil
}
