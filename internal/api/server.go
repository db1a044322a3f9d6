// Package api serves a loaded engine over HTTP: one endpoint describing the
// active profile's bindings, one running inference on request tensors.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/logger"
	"github.com/samcharles93/engineprep/internal/runner"
)

type Options struct {
	Runtime string
	Device  string
}

// Server wraps a single Runner. Requests are executed one at a time since
// the runner's buffers are reused between calls.
type Server struct {
	mu     sync.Mutex
	runner *runner.Runner
	opts   Options
	log    logger.Logger
	clock  func() time.Time
}

func NewServer(r *runner.Runner, opts Options, log logger.Logger) *Server {
	return &Server{
		runner: r,
		opts:   opts,
		log:    log.With(logger.ComponentKey, "api"),
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/engine", s.handleEngine)
	e.POST("/v1/infer", s.handleInfer)
}

func (s *Server) handleEngine(c *echo.Context) error {
	if s.runner == nil {
		return writeServerError(c, "no engine loaded")
	}
	resp, err := s.describe()
	if err != nil {
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) describe() (EngineResponse, error) {
	eng := s.runner.Engine()
	layout := s.runner.Layout()
	resp := EngineResponse{
		Object:             "engine",
		Runtime:            s.opts.Runtime,
		Device:             s.opts.Device,
		Profiles:           eng.NumProfiles(),
		Profile:            layout.Profile,
		BindingsPerProfile: layout.BindingsPerProfile,
		Inputs:             []BindingEntry{},
		Outputs:            []BindingEntry{},
	}
	for _, idx := range layout.Ordered() {
		b, err := eng.Binding(idx)
		if err != nil {
			return resp, err
		}
		entry := BindingEntry{Index: b.Index, Name: b.Name, DType: b.DType.String(), Shape: b.Shape}
		if b.IsInput() && b.Shape.IsDynamic() {
			if ps, err := eng.ProfileShapes(layout.Profile, idx); err == nil {
				entry.Min, entry.Opt, entry.Max = ps.Min, ps.Opt, ps.Max
			}
		}
		if b.IsInput() {
			resp.Inputs = append(resp.Inputs, entry)
		} else {
			resp.Outputs = append(resp.Outputs, entry)
		}
	}
	return resp, nil
}

func (s *Server) handleInfer(c *echo.Context) error {
	if s.runner == nil {
		return writeServerError(c, "no engine loaded")
	}
	req, err := decodeJSON[InferRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	point, err := bindings.ParsePoint(req.Point)
	if err != nil {
		return writeBadRequest(c, err.Error(), "point")
	}

	start := s.clock()
	id := newInferID()
	s.mu.Lock()
	outputs, err := s.infer(req, point)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error(), "inputs")
		}
		s.log.Error("inference failed", "id", id, "error", err)
		return writeServerError(c, err.Error())
	}
	s.log.Info("inference", "id", id, "outputs", len(outputs), "duration", s.clock().Sub(start))
	return c.JSON(http.StatusOK, InferResponse{
		ID:        id,
		Object:    "inference",
		CreatedAt: start.Unix(),
		Outputs:   outputs,
	})
}

func (s *Server) infer(req InferRequest, point bindings.Point) (map[string]Tensor, error) {
	eng := s.runner.Engine()
	layout := s.runner.Layout()

	known := make(map[string]bool, len(layout.Inputs))
	explicit := make(map[int]graph.Dims, len(layout.Inputs))
	for _, idx := range layout.Inputs {
		b, err := eng.Binding(idx)
		if err != nil {
			return nil, err
		}
		known[b.Name] = true
		t, ok := req.Inputs[b.Name]
		if !ok {
			return nil, newInvalidRequest("missing input %q", b.Name)
		}
		if len(t.Shape) > 0 {
			explicit[idx] = graph.Dims(t.Shape)
		}
	}
	if extra := unknownNames(req.Inputs, known); len(extra) > 0 {
		return nil, newInvalidRequest("unknown inputs %v", extra)
	}

	if _, err := s.runner.SetupResolved(point, explicit); err != nil {
		return nil, newInvalidRequest("%v", err)
	}
	for _, p := range s.runner.Inputs() {
		if err := p.SetFloat32(req.Inputs[p.Binding.Name].Data); err != nil {
			return nil, newInvalidRequest("%v", err)
		}
	}
	if err := s.runner.Run(); err != nil {
		return nil, err
	}

	out := make(map[string]Tensor, len(layout.Outputs))
	for _, p := range s.runner.Outputs() {
		vals, err := p.Float32()
		if err != nil {
			return nil, fmt.Errorf("read output %s: %w", p.Binding.Name, err)
		}
		out[p.Binding.Name] = Tensor{Shape: p.Shape.Clone(), Data: vals}
	}
	return out, nil
}

func unknownNames(inputs map[string]Tensor, known map[string]bool) []string {
	var extra []string
	for name := range inputs {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}
