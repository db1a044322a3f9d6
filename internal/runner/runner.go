// Package runner drives synchronous inference over one execution context:
// input shapes are fixed first, output buffers follow, then each Run copies
// inputs in, executes, and copies outputs back.
package runner

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/buffers"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
)

// Runner owns one execution context and the buffers bound to it. It is not
// safe for concurrent use.
type Runner struct {
	engine  graph.Engine
	ctx     graph.Context
	dev     accel.Device
	log     logger.Logger
	layout  bindings.Layout
	buffers *buffers.Manager
	ready   bool
}

// New creates an execution context on engine with profile active.
func New(engine graph.Engine, dev accel.Device, profile int, log logger.Logger) (*Runner, error) {
	log = log.With(logger.ComponentKey, "runner")
	layout, err := bindings.Partition(engine, profile)
	if err != nil {
		return nil, err
	}
	ctx, err := engine.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create execution context: %w", err)
	}
	if err := ctx.SetActiveProfile(profile); err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("activate profile %d: %w", profile, err)
	}
	log.Info("engine binding layout",
		"profiles", engine.NumProfiles(),
		"bindings_per_profile", layout.BindingsPerProfile,
		"profile", profile,
		"first_binding", layout.First,
		"last_binding", layout.End-1)
	return &Runner{
		engine:  engine,
		ctx:     ctx,
		dev:     dev,
		log:     log,
		layout:  layout,
		buffers: buffers.NewManager(dev, log),
	}, nil
}

func (r *Runner) Layout() bindings.Layout { return r.layout }

func (r *Runner) Engine() graph.Engine { return r.engine }

// Resolver returns a shape resolver bound to the runner's active profile.
func (r *Runner) Resolver(point bindings.Point) bindings.Resolver {
	return bindings.Resolver{Engine: r.engine, Profile: r.layout.Profile, Point: point}
}

// Setup fixes the shape of every input, in Layout().Inputs order, then sizes
// the output buffers from the shapes the context derives. Buffers are only
// reallocated for bindings whose shape changed.
func (r *Runner) Setup(shapes []graph.Dims) error {
	if len(shapes) != len(r.layout.Inputs) {
		return fmt.Errorf("expected %d input shapes, got %d", len(r.layout.Inputs), len(shapes))
	}
	r.ready = false
	for i, idx := range r.layout.Inputs {
		if err := r.ctx.SetBindingShape(idx, shapes[i]); err != nil {
			return fmt.Errorf("set input shape: %w", err)
		}
	}
	if !r.ctx.AllBindingShapesSpecified() {
		return fmt.Errorf("%w: input shapes incomplete after setup", graph.ErrUnresolvedShape)
	}

	for _, idx := range r.layout.Ordered() {
		b, err := r.engine.Binding(idx)
		if err != nil {
			return err
		}
		shape, err := r.ctx.BindingShape(idx)
		if err != nil {
			return err
		}
		if shape.IsDynamic() {
			return fmt.Errorf("%w: %s still has shape %s", graph.ErrUnresolvedShape, b.Name, shape)
		}
		if _, realloc, err := r.buffers.Rebind(b, shape); err != nil {
			return err
		} else if realloc {
			r.log.Debug("binding shape set", "binding", b.Name, "direction", b.Direction.String(), "shape", shape.String())
		}
	}
	r.ready = true
	r.log.Debug("buffers ready", "total", humanize.IBytes(uint64(r.buffers.TotalBytes())))
	return nil
}

// SetupResolved resolves every input through the resolver (explicit shapes
// by binding index win) and calls Setup.
func (r *Runner) SetupResolved(point bindings.Point, explicit map[int]graph.Dims) ([]graph.Dims, error) {
	res := r.Resolver(point)
	shapes := make([]graph.Dims, 0, len(r.layout.Inputs))
	for _, idx := range r.layout.Inputs {
		s, err := res.Resolve(idx, explicit[idx])
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
	}
	return shapes, r.Setup(shapes)
}

// Inputs returns the input pairs in Layout().Inputs order.
func (r *Runner) Inputs() []*buffers.Pair { return r.pairs(r.layout.Inputs) }

// Outputs returns the output pairs in Layout().Outputs order.
func (r *Runner) Outputs() []*buffers.Pair { return r.pairs(r.layout.Outputs) }

func (r *Runner) pairs(idx []int) []*buffers.Pair {
	out := make([]*buffers.Pair, 0, len(idx))
	for _, i := range idx {
		if p, ok := r.buffers.Get(i); ok {
			out = append(out, p)
		}
	}
	return out
}

// Run performs one inference pass. It blocks until outputs are back in
// host memory. Failures are returned as-is and never retried; buffer
// contents are undefined after an error.
func (r *Runner) Run() error {
	if !r.ready {
		return fmt.Errorf("%w: Setup has not completed", graph.ErrUnresolvedShape)
	}
	inputs, outputs := r.Inputs(), r.Outputs()
	for _, p := range inputs {
		if err := r.dev.CopyToDevice(p.Device, p.Host); err != nil {
			return fmt.Errorf("input %s: %w", p.Binding.Name, err)
		}
	}

	addrs := make([]uintptr, 0, len(inputs)+len(outputs))
	for _, p := range inputs {
		addrs = append(addrs, p.Device.Addr())
	}
	for _, p := range outputs {
		addrs = append(addrs, p.Device.Addr())
	}
	if err := r.ctx.Execute(addrs); err != nil {
		return fmt.Errorf("%w: %w", accel.ErrExecution, err)
	}

	for _, p := range outputs {
		if err := r.dev.CopyToHost(p.Host, p.Device); err != nil {
			return fmt.Errorf("output %s: %w", p.Binding.Name, err)
		}
	}
	return r.dev.Synchronize()
}

// Close releases every buffer and the execution context.
func (r *Runner) Close() error {
	r.ready = false
	return errors.Join(r.buffers.ReleaseAll(), r.ctx.Close())
}
