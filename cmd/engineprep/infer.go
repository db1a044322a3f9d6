package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/runner"
)

func inferCmd() *cli.Command {
	var (
		shapes     []string
		seed       int64
		iterations int64
		show       int64
	)

	return &cli.Command{
		Name:  "infer",
		Usage: "Run the engine on seeded random inputs",
		Flags: append(append(engineFlags(),
			&cli.StringSliceFlag{
				Name:        "shape",
				Usage:       "explicit input shape as name=dims, e.g. input=8x3x224x224 (repeatable)",
				Destination: &shapes,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for random inputs",
				Value:       runner.DefaultSeed,
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "iterations",
				Aliases:     []string{"n"},
				Usage:       "number of timed runs",
				Value:       1,
				Destination: &iterations,
			},
			&cli.Int64Flag{
				Name:        "show",
				Usage:       "output values to print per binding",
				Value:       8,
				Destination: &show,
			},
		), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			if show < 0 {
				return fmt.Errorf("infer: --show must not be negative, got %d", show)
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			point, err := bindings.ParsePoint(shapePoint)
			if err != nil {
				return fmt.Errorf("infer: %w", err)
			}
			l, err := openEngine(log)
			if err != nil {
				return fmt.Errorf("infer: %w", err)
			}
			defer func() { _ = l.Close() }()

			explicit, err := parseShapeOverrides(l.engine, l.runner.Layout(), shapes)
			if err != nil {
				return fmt.Errorf("infer: %w", err)
			}
			resolved, err := l.runner.SetupResolved(point, explicit)
			if err != nil {
				return fmt.Errorf("infer: %w", err)
			}
			for i, p := range l.runner.Inputs() {
				log.Info("input", "binding", p.Binding.Name, "shape", resolved[i].String(), "bytes", humanize.IBytes(uint64(p.Bytes)))
			}
			if err := runner.FillRandom(l.runner.Inputs(), uint64(seed)); err != nil {
				return fmt.Errorf("infer: %w", err)
			}

			n := max(iterations, 1)
			start := time.Now()
			for i := int64(0); i < n; i++ {
				if err := l.runner.Run(); err != nil {
					return fmt.Errorf("infer: %w", err)
				}
			}
			elapsed := time.Since(start)

			for _, p := range l.runner.Outputs() {
				vals, err := p.Float32()
				if err != nil {
					return fmt.Errorf("infer: %w", err)
				}
				k := previewLen(show, len(vals))
				fmt.Printf("%s %s %v", p.Binding.Name, p.Shape, vals[:k])
				if k < len(vals) {
					fmt.Printf(" ... (%d values)", len(vals))
				}
				fmt.Println()
			}
			fmt.Printf("%d run(s) in %s (%s/run)\n", n, elapsed.Round(time.Microsecond), (elapsed / time.Duration(n)).Round(time.Microsecond))
			return nil
		},
	}
}

// previewLen is how many of n output values to print for --show.
func previewLen(show int64, n int) int {
	return int(max(0, min(show, int64(n))))
}

// parseShapeOverrides maps "name=dims" entries onto input binding indices
// of the active profile.
func parseShapeOverrides(eng graph.Engine, layout bindings.Layout, specs []string) (map[int]graph.Dims, error) {
	byName := make(map[string]int, len(layout.Inputs))
	for _, idx := range layout.Inputs {
		b, err := eng.Binding(idx)
		if err != nil {
			return nil, err
		}
		byName[b.Name] = idx
	}
	out := make(map[int]graph.Dims, len(specs))
	for _, spec := range specs {
		name, dims, ok := strings.Cut(spec, "=")
		if !ok {
			// A bare shape applies to a sole input.
			if len(layout.Inputs) != 1 {
				return nil, fmt.Errorf("--shape %q: name the input (name=dims) when the engine has %d inputs", spec, len(layout.Inputs))
			}
			d, err := graph.ParseDims(spec)
			if err != nil {
				return nil, fmt.Errorf("--shape %q: %w", spec, err)
			}
			out[layout.Inputs[0]] = d
			continue
		}
		idx, found := byName[strings.TrimSpace(name)]
		if !found {
			return nil, fmt.Errorf("--shape %q: no input named %q in profile %d", spec, name, layout.Profile)
		}
		d, err := graph.ParseDims(dims)
		if err != nil {
			return nil, fmt.Errorf("--shape %q: %w", spec, err)
		}
		out[idx] = d
	}
	return out, nil
}
