package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/graph/simgraph"
	"github.com/samcharles93/engineprep/internal/logger"
)

func testEngine(t *testing.T) *simgraph.Engine {
	t.Helper()
	dev := accel.NewHostDevice(logger.Nop())
	t.Cleanup(func() { _ = dev.Close() })
	eng, err := simgraph.New(simgraph.Description{
		Bindings: []simgraph.BindingDesc{
			{Name: "images", Input: true, Shape: []int{-1, 3, -1, -1}},
			{Name: "probs", Shape: []int{-1, 10}},
		},
		Profiles: []simgraph.ProfileDesc{
			{Shapes: map[string]simgraph.ShapeRange{"images": {
				Min: []int{1, 3, 32, 32}, Opt: []int{4, 3, 64, 64}, Max: []int{8, 3, 128, 128},
			}}},
		},
	}, dev)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func TestParseShapeOverrides(t *testing.T) {
	eng := testEngine(t)
	layout, err := bindings.Partition(eng, 0)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}

	got, err := parseShapeOverrides(eng, layout, []string{"images=2x3x64x64"})
	if err != nil {
		t.Fatalf("named: %v", err)
	}
	if !got[0].Equal(graph.Dims{2, 3, 64, 64}) {
		t.Fatalf("named: got %v", got)
	}

	got, err = parseShapeOverrides(eng, layout, []string{"1,3,32,32"})
	if err != nil {
		t.Fatalf("bare: %v", err)
	}
	if !got[0].Equal(graph.Dims{1, 3, 32, 32}) {
		t.Fatalf("bare: got %v", got)
	}

	if _, err := parseShapeOverrides(eng, layout, []string{"mask=1x2"}); err == nil {
		t.Fatalf("expected unknown input error")
	}
	if _, err := parseShapeOverrides(eng, layout, []string{"images=1xQ"}); err == nil {
		t.Fatalf("expected dims parse error")
	}
}

func TestBatchShape(t *testing.T) {
	eng := testEngine(t)
	in, err := eng.Binding(0)
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	got, err := batchShape(eng, 0, in, 3)
	if err != nil {
		t.Fatalf("batchShape: %v", err)
	}
	if !got.Equal(graph.Dims{3, 3, 64, 64}) {
		t.Fatalf("got %v", got)
	}

	fixed := graph.Binding{Name: "x", Shape: graph.Dims{2, 3, 8, 8}}
	if _, err := batchShape(eng, 0, fixed, 3); err == nil {
		t.Fatalf("expected fixed batch mismatch")
	}
	if _, err := batchShape(eng, 0, graph.Binding{Name: "x", Shape: graph.Dims{3, 8}}, 1); err == nil {
		t.Fatalf("expected rank error")
	}
}

func TestReadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("tench\n goldfish \ngreat white shark\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	labels, err := readLabels(path)
	if err != nil {
		t.Fatalf("readLabels: %v", err)
	}
	if len(labels) != 3 || labels[1] != "goldfish" {
		t.Fatalf("unexpected labels %q", labels)
	}
}

func TestConfigPathUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got := configPath(); got != filepath.Join(dir, "engineprep", "config.yaml") {
		t.Fatalf("configPath: got %q", got)
	}

	if err := os.MkdirAll(filepath.Join(dir, "engineprep"), 0o755); err != nil {
		t.Fatal(err)
	}
	yml := "backend: sim\nbatch_size: 8\nmax_calibration_size: 0\npoint: max\n"
	if err := os.WriteFile(configPath(), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadConfig()
	if cfg.Backend != "sim" || cfg.Point != "max" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.BatchSize == nil || *cfg.BatchSize != 8 {
		t.Fatalf("batch_size not loaded: %+v", cfg.BatchSize)
	}
	if cfg.MaxCalibration == nil || *cfg.MaxCalibration != 0 {
		t.Fatalf("explicit zero cap should be kept: %+v", cfg.MaxCalibration)
	}
}

func TestPreviewLen(t *testing.T) {
	cases := []struct {
		show int64
		n    int
		want int
	}{
		{8, 20, 8},
		{8, 3, 3},
		{0, 3, 0},
		{-1, 3, 0},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := previewLen(c.show, c.n); got != c.want {
			t.Fatalf("previewLen(%d, %d) = %d, want %d", c.show, c.n, got, c.want)
		}
	}
}

func TestCommandsRejectBadCounts(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	missing := filepath.Join(t.TempDir(), "engine.json")

	err := inferCmd().Run(context.Background(), []string{"infer", "--engine", missing, "--show=-1"})
	if err == nil || !strings.Contains(err.Error(), "--show") {
		t.Fatalf("infer --show=-1: got %v", err)
	}

	for _, k := range []string{"0", "-3"} {
		err := classifyCmd().Run(context.Background(), []string{"classify", "--engine", missing, "--top-k=" + k, "cat.png"})
		if err == nil || !strings.Contains(err.Error(), "--top-k") {
			t.Fatalf("classify --top-k=%s: got %v", k, err)
		}
	}
}
