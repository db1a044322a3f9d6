package bindings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/graph/simgraph"
)

// stubEngine serves a fixed binding table, including malformed ones.
type stubEngine struct {
	bindings []graph.Binding
	profiles int
	shapes   graph.ProfileShapes
}

func (s stubEngine) NumBindings() int { return len(s.bindings) }
func (s stubEngine) NumProfiles() int { return s.profiles }
func (s stubEngine) Binding(i int) (graph.Binding, error) {
	if i < 0 || i >= len(s.bindings) {
		return graph.Binding{}, errors.New("out of range")
	}
	return s.bindings[i], nil
}
func (s stubEngine) ProfileShapes(int, int) (graph.ProfileShapes, error) { return s.shapes, nil }
func (s stubEngine) NewContext() (graph.Context, error)                  { return nil, errors.New("stub") }

func twoProfileEngine(t *testing.T) graph.Engine {
	t.Helper()
	e, err := simgraph.New(simgraph.Description{
		Bindings: []simgraph.BindingDesc{
			{Name: "image", Input: true, Shape: []int{-1, 3, 224, 224}},
			{Name: "scores", Shape: []int{-1, 1000}},
			{Name: "scale", Input: true, Shape: []int{1}},
		},
		Profiles: []simgraph.ProfileDesc{
			{Shapes: map[string]simgraph.ShapeRange{"image": {Min: []int{1, 3, 224, 224}, Opt: []int{4, 3, 224, 224}, Max: []int{8, 3, 224, 224}}}},
			{Shapes: map[string]simgraph.ShapeRange{"image": {Min: []int{8, 3, 224, 224}, Opt: []int{16, 3, 224, 224}, Max: []int{32, 3, 224, 224}}}},
		},
	}, nil)
	require.NoError(t, err)
	return e
}

func TestPartitionSecondProfile(t *testing.T) {
	t.Parallel()
	l, err := Partition(twoProfileEngine(t), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, l.BindingsPerProfile)
	assert.Equal(t, 3, l.First)
	assert.Equal(t, 6, l.End)
	assert.Equal(t, []int{3, 5}, l.Inputs)
	assert.Equal(t, []int{4}, l.Outputs)
	assert.Equal(t, []int{3, 5, 4}, l.Ordered())
	for _, i := range l.Ordered() {
		assert.Contains(t, []int{3, 4, 5}, i)
	}
}

func TestPartitionFirstProfile(t *testing.T) {
	t.Parallel()
	l, err := Partition(twoProfileEngine(t), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, l.Inputs)
	assert.Equal(t, []int{1}, l.Outputs)
}

func TestPartitionRejectsUnevenBindings(t *testing.T) {
	t.Parallel()
	e := stubEngine{
		bindings: []graph.Binding{
			{Index: 0, Direction: graph.Input},
			{Index: 1, Direction: graph.Output},
			{Index: 2, Direction: graph.Input},
		},
		profiles: 2,
	}
	_, err := Partition(e, 0)
	require.True(t, errors.Is(err, graph.ErrGraphInvariant))

	_, err = Partition(stubEngine{profiles: 0}, 0)
	require.True(t, errors.Is(err, graph.ErrGraphInvariant))
}

func TestPartitionProfileOutOfRange(t *testing.T) {
	t.Parallel()
	_, err := Partition(twoProfileEngine(t), 2)
	require.Error(t, err)
	_, err = Partition(twoProfileEngine(t), -1)
	require.Error(t, err)
}

func TestResolveShapeFixedIgnoresPoint(t *testing.T) {
	t.Parallel()
	b := graph.Binding{Name: "x", Shape: graph.Dims{1, 3, 224, 224}}
	for _, p := range []Point{Min, Opt, Max} {
		got, err := ResolveShape(b, nil, p)
		require.NoError(t, err)
		assert.Equal(t, graph.Dims{1, 3, 224, 224}, got)
	}
}

func TestResolveShapeDynamic(t *testing.T) {
	t.Parallel()
	b := graph.Binding{Name: "x", Shape: graph.Dims{graph.Dynamic, 3, 224, 224}}
	ps := graph.ProfileShapes{
		Min: graph.Dims{1, 3, 224, 224},
		Opt: graph.Dims{4, 3, 224, 224},
		Max: graph.Dims{8, 3, 224, 224},
	}

	tests := []struct {
		point Point
		want  graph.Dims
	}{
		{Min, graph.Dims{1, 3, 224, 224}},
		{Opt, graph.Dims{4, 3, 224, 224}},
		{Max, graph.Dims{8, 3, 224, 224}},
	}
	for _, tc := range tests {
		got, err := ResolveShape(b, &ps, tc.point)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.point.String())
	}

	_, err := ResolveShape(b, nil, Opt)
	require.True(t, errors.Is(err, graph.ErrUnresolvedShape))
}

func TestParsePoint(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Point{"min": Min, "kOPT": Opt, "": Opt, " Max ": Max} {
		got, err := ParsePoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePoint("median")
	require.Error(t, err)
}

func TestResolverExplicitShapes(t *testing.T) {
	t.Parallel()
	r := Resolver{Engine: twoProfileEngine(t), Profile: 0, Point: Max}

	got, err := r.Resolve(0, nil)
	require.NoError(t, err)
	assert.Equal(t, graph.Dims{8, 3, 224, 224}, got)

	got, err = r.Resolve(0, graph.Dims{2, 3, 224, 224})
	require.NoError(t, err)
	assert.Equal(t, graph.Dims{2, 3, 224, 224}, got)

	_, err = r.Resolve(0, graph.Dims{9, 3, 224, 224})
	require.Error(t, err)

	_, err = r.Resolve(0, graph.Dims{graph.Dynamic, 3, 224, 224})
	require.True(t, errors.Is(err, graph.ErrUnresolvedShape))

	got, err = r.Resolve(2, graph.Dims{1})
	require.NoError(t, err)
	assert.Equal(t, graph.Dims{1}, got)

	_, err = r.Resolve(2, graph.Dims{2})
	require.Error(t, err)
}
