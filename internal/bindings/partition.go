// Package bindings maps an optimization profile onto the binding indices it
// owns and resolves dynamic binding shapes to concrete ones.
package bindings

import (
	"fmt"

	"github.com/samcharles93/engineprep/internal/graph"
)

// Layout is the binding range owned by one optimization profile, split by
// direction. Inputs and Outputs keep graph declaration order.
type Layout struct {
	Profile            int
	BindingsPerProfile int
	// First and End bound the half-open index range [First, End).
	First   int
	End     int
	Inputs  []int
	Outputs []int
}

// Ordered returns input indices followed by output indices, the order in
// which device addresses are handed to Execute.
func (l Layout) Ordered() []int {
	out := make([]int, 0, len(l.Inputs)+len(l.Outputs))
	out = append(out, l.Inputs...)
	return append(out, l.Outputs...)
}

// Partition computes the binding range of profile and splits it into input
// and output indices. A binding count that does not divide evenly across
// profiles means the compiled graph is malformed.
func Partition(e graph.Engine, profile int) (Layout, error) {
	total, profiles := e.NumBindings(), e.NumProfiles()
	if profiles <= 0 {
		return Layout{}, fmt.Errorf("%w: engine reports %d optimization profiles", graph.ErrGraphInvariant, profiles)
	}
	if total%profiles != 0 {
		return Layout{}, fmt.Errorf("%w: %d bindings do not divide evenly across %d profiles", graph.ErrGraphInvariant, total, profiles)
	}
	if profile < 0 || profile >= profiles {
		return Layout{}, fmt.Errorf("profile %d out of range [0,%d)", profile, profiles)
	}

	per := total / profiles
	l := Layout{
		Profile:            profile,
		BindingsPerProfile: per,
		First:              profile * per,
		End:                profile*per + per,
	}
	for i := l.First; i < l.End; i++ {
		b, err := e.Binding(i)
		if err != nil {
			return Layout{}, err
		}
		if b.IsInput() {
			l.Inputs = append(l.Inputs, i)
		} else {
			l.Outputs = append(l.Outputs, i)
		}
	}
	return l, nil
}
