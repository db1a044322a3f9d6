package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/engineprep/internal/backend"
	"github.com/samcharles93/engineprep/internal/calib"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/quant"
)

type calibrateOptions struct {
	batchSize  int64
	maxSamples int64
	cachePath  string
	dataDir    string
	preprocess string
	inputShape string
	seed       int64
	tensor     string
	extensions []string
	noProgress bool
}

func calibrateCmd() *cli.Command {
	var o calibrateOptions

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Feed a calibration dataset through the INT8 calibrator and write the cache",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "calibration-data",
				Aliases:     []string{"data"},
				Usage:       "directory of calibration images (searched recursively)",
				Destination: &o.dataDir,
			},
			&cli.StringFlag{
				Name:        "cache",
				Usage:       "calibration cache file; an existing cache skips the dataset",
				Value:       calib.DefaultCachePath,
				Destination: &o.cachePath,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Aliases:     []string{"b"},
				Usage:       "calibration batch size",
				Value:       32,
				Destination: &o.batchSize,
			},
			&cli.Int64Flag{
				Name:        "max-calibration-size",
				Usage:       "cap on calibration images, taken as a seeded random sample (0 = no cap)",
				Value:       calib.DefaultMaxSamples,
				Destination: &o.maxSamples,
			},
			&cli.StringFlag{
				Name:        "preprocess",
				Usage:       "preprocessing function (" + strings.Join(calib.PreprocessNames(), ", ") + ")",
				Value:       calib.DefaultPreprocess,
				Destination: &o.preprocess,
			},
			&cli.StringFlag{
				Name:        "input-shape",
				Usage:       "per-sample input shape C,H,W",
				Value:       "3,224,224",
				Destination: &o.inputShape,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for sampling calibration images",
				Value:       calib.DefaultSampleSeed,
				Destination: &o.seed,
			},
			&cli.StringFlag{
				Name:        "tensor",
				Usage:       "input tensor name recorded in the calibration table",
				Value:       "input",
				Destination: &o.tensor,
			},
			&cli.StringSliceFlag{
				Name:        "ext",
				Usage:       "image extensions to collect (repeatable)",
				Destination: &o.extensions,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &o.noProgress,
			},
		}, deviceFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCalibrateConfig(cmd, LoadConfig(), &o)
			log, err := newLogger()
			if err != nil {
				return err
			}
			shape, err := graph.ParseDims(o.inputShape)
			if err != nil {
				return fmt.Errorf("calibrate: --input-shape: %w", err)
			}

			dev, err := backend.OpenDevice(backendName, int(deviceOrdinal), log)
			if err != nil {
				return fmt.Errorf("calibrate: %w", err)
			}
			defer func() { _ = dev.Close() }()

			session, err := calib.NewSession(calib.Config{
				BatchSize:  int(o.batchSize),
				InputShape: shape,
				CachePath:  o.cachePath,
				DataDir:    o.dataDir,
				MaxSamples: int(o.maxSamples),
				Seed:       uint64(o.seed),
				Preprocess: o.preprocess,
				Extensions: o.extensions,
			}, dev, log)
			if err != nil {
				return fmt.Errorf("calibrate: %w", err)
			}
			defer func() { _ = session.Close() }()

			if total := session.Total(); total > 0 && !o.noProgress {
				bar := progressbar.NewOptions(total,
					progressbar.OptionSetDescription("calibrating"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionSetItsString("batches"),
					progressbar.OptionShowIts(),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(os.Stderr) }),
				)
				session.OnProgress(func(done, _ int) { _ = bar.Set(done) })
			}

			q := quant.NewMaxAbs(dev, o.tensor, int(shape.Volume()), log)
			res, err := q.Calibrate(session)
			if err != nil {
				return fmt.Errorf("calibrate: %w", err)
			}
			if res.FromCache {
				fmt.Printf("calibration cache %s reused (%d tensors)\n", session.CachePath(), len(res.Table.Scales))
				return nil
			}
			fmt.Printf("calibrated %d samples in %d batches; wrote %s\n", res.Samples, res.Batches, session.CachePath())
			for _, name := range res.Table.Names() {
				fmt.Printf("  %s: scale %.6g\n", name, res.Table.Scales[name])
			}
			return nil
		},
	}
}
