package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/engineprep/internal/calib"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/runner"
)

func classifyCmd() *cli.Command {
	var (
		preprocess string
		labelsPath string
		topK       int64
	)

	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify images with an NCHW image classifier engine",
		ArgsUsage: "IMAGE...",
		Flags: append(append(engineFlags(),
			&cli.StringFlag{
				Name:        "preprocess",
				Usage:       "preprocessing function (" + strings.Join(calib.PreprocessNames(), ", ") + ")",
				Value:       calib.DefaultPreprocess,
				Destination: &preprocess,
			},
			&cli.StringFlag{
				Name:        "labels",
				Usage:       "text file with one class label per line",
				Destination: &labelsPath,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "number of predictions per image",
				Value:       5,
				Destination: &topK,
			},
		), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			images := cmd.Args().Slice()
			if len(images) == 0 {
				return errors.New("classify: at least one image is required")
			}
			if topK < 1 {
				return fmt.Errorf("classify: --top-k must be at least 1, got %d", topK)
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			pre, err := calib.LookupPreprocess(preprocess)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			var labels []string
			if labelsPath != "" {
				if labels, err = readLabels(labelsPath); err != nil {
					return fmt.Errorf("classify: %w", err)
				}
			}

			l, err := openEngine(log)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			defer func() { _ = l.Close() }()

			layout := l.runner.Layout()
			if len(layout.Inputs) != 1 || len(layout.Outputs) == 0 {
				return fmt.Errorf("classify: expected one input and at least one output, got %d and %d", len(layout.Inputs), len(layout.Outputs))
			}
			in, err := l.engine.Binding(layout.Inputs[0])
			if err != nil {
				return err
			}
			shape, err := batchShape(l.engine, layout.Profile, in, len(images))
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			if err := l.runner.Setup([]graph.Dims{shape}); err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			sample := int(shape[1:].Volume())
			data := make([]float32, len(images)*sample)
			for i, path := range images {
				if err := calib.LoadSample(path, shape[1:], pre, data[i*sample:(i+1)*sample]); err != nil {
					return fmt.Errorf("classify: %w", err)
				}
			}
			if err := l.runner.Inputs()[0].SetFloat32(data); err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			if err := l.runner.Run(); err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			out := l.runner.Outputs()[0]
			scores, err := out.Float32()
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			classes := len(scores) / len(images)
			for i, path := range images {
				fmt.Println(path)
				for rank, p := range runner.TopK(scores[i*classes:(i+1)*classes], int(topK), labels) {
					label := p.Label
					if label == "" {
						label = fmt.Sprintf("class %d", p.Class)
					}
					fmt.Printf("  %d. %-32s %d  %.5f\n", rank+1, label, p.Class, p.Score)
				}
			}
			return nil
		},
	}
}

// batchShape fills an NCHW input shape for n images, taking C, H and W
// from the declaration or, when dynamic, from the profile's opt shape.
func batchShape(eng graph.Engine, profile int, in graph.Binding, n int) (graph.Dims, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("input %s has shape %s, expected NCHW", in.Name, in.Shape)
	}
	shape := in.Shape.Clone()
	if shape.IsDynamic() {
		ps, err := eng.ProfileShapes(profile, in.Index)
		if err != nil {
			return nil, err
		}
		for i := 1; i < 4; i++ {
			if shape[i] == graph.Dynamic {
				shape[i] = ps.Opt[i]
			}
		}
	}
	switch shape[0] {
	case graph.Dynamic:
		shape[0] = n
	case n:
	default:
		return nil, fmt.Errorf("input %s has fixed batch %d, got %d images", in.Name, shape[0], n)
	}
	return shape, nil
}

func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	return labels, sc.Err()
}
