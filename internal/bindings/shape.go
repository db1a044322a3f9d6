package bindings

import (
	"fmt"
	"strings"

	"github.com/samcharles93/engineprep/internal/graph"
)

// Point selects one shape out of a profile's (min, opt, max) range.
type Point int

const (
	Min Point = iota
	Opt
	Max
)

func (p Point) String() string {
	switch p {
	case Min:
		return "min"
	case Opt:
		return "opt"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("point(%d)", int(p))
	}
}

// ParsePoint accepts min, opt and max, and also the kMIN/kOPT/kMAX spellings.
func ParsePoint(s string) (Point, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "k") {
	case "min":
		return Min, nil
	case "opt", "":
		return Opt, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown shape point %q (expected min, opt, or max)", s)
	}
}

func (p Point) pick(ps graph.ProfileShapes) graph.Dims {
	switch p {
	case Min:
		return ps.Min
	case Max:
		return ps.Max
	default:
		return ps.Opt
	}
}

// ResolveShape returns the concrete shape of b. Fixed shapes come back
// unchanged whatever point is. Dynamic shapes take the chosen point of
// profile; a nil profile means no profile is active.
func ResolveShape(b graph.Binding, profile *graph.ProfileShapes, point Point) (graph.Dims, error) {
	if !b.Shape.IsDynamic() {
		return b.Shape.Clone(), nil
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s has shape %s and no active profile", graph.ErrUnresolvedShape, b.Name, b.Shape)
	}
	d := point.pick(*profile)
	if len(d) != len(b.Shape) || d.IsDynamic() {
		return nil, fmt.Errorf("%w: %s profile %s shape %s does not fit %s", graph.ErrUnresolvedShape, b.Name, point, d, b.Shape)
	}
	return d.Clone(), nil
}

// Resolver resolves input shapes against an engine's active profile.
type Resolver struct {
	Engine  graph.Engine
	Profile int
	Point   Point
}

// Resolve returns the shape to use for an input binding. An explicit shape
// wins when given; it must match a fixed declaration or fall inside the
// profile range of a dynamic one.
func (r Resolver) Resolve(binding int, explicit graph.Dims) (graph.Dims, error) {
	b, err := r.Engine.Binding(binding)
	if err != nil {
		return nil, err
	}
	var profile *graph.ProfileShapes
	if b.Shape.IsDynamic() {
		ps, err := r.Engine.ProfileShapes(r.Profile, binding)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", graph.ErrUnresolvedShape, b.Name, err)
		}
		profile = &ps
	}

	if explicit == nil {
		return ResolveShape(b, profile, r.Point)
	}
	if explicit.IsDynamic() {
		return nil, fmt.Errorf("%w: explicit shape %s for %s is not fully specified", graph.ErrUnresolvedShape, explicit, b.Name)
	}
	if profile == nil {
		if !explicit.Equal(b.Shape) {
			return nil, fmt.Errorf("%s has fixed shape %s, got %s", b.Name, b.Shape, explicit)
		}
		return explicit.Clone(), nil
	}
	if !profile.Contains(explicit) {
		return nil, fmt.Errorf("%s: shape %s outside profile %d range [%s, %s]", b.Name, explicit, r.Profile, profile.Min, profile.Max)
	}
	return explicit.Clone(), nil
}
