package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/engineprep/internal/accel"
	"github.com/samcharles93/engineprep/internal/backend"
	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/graph"
	"github.com/samcharles93/engineprep/internal/graph/simgraph"
	"github.com/samcharles93/engineprep/internal/logger"
	"github.com/samcharles93/engineprep/internal/runner"
)

var (
	enginePath    string
	backendName   string
	deviceOrdinal int64
	profileIndex  int64
	shapePoint    string
	logLevel      string
	logFormat     string
	debug         bool
)

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "accelerator backend (auto, sim, cuda)",
			Value:       backend.Auto,
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "accelerator device ordinal",
			Destination: &deviceOrdinal,
		},
	}
}

func engineFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "engine",
			Aliases:     []string{"e"},
			Usage:       "path to the compiled engine file",
			Required:    true,
			Destination: &enginePath,
		},
		&cli.Int64Flag{
			Name:        "profile",
			Aliases:     []string{"p"},
			Usage:       "optimization profile index",
			Destination: &profileIndex,
		},
		&cli.StringFlag{
			Name:        "point",
			Usage:       "profile point for dynamic input shapes (min, opt, max)",
			Value:       bindings.Opt.String(),
			Destination: &shapePoint,
		},
	}, deviceFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       logger.FormatPretty,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger() (logger.Logger, error) {
	level := logLevel
	if debug {
		level = "debug"
	}
	return logger.New(logFormat, level, os.Stderr)
}

// loadedEngine is an engine plus the device and runner built around it.
type loadedEngine struct {
	dev     accel.Device
	engine  graph.Engine
	runtime string
	runner  *runner.Runner
}

func (l *loadedEngine) Close() error {
	var err error
	if l.runner != nil {
		err = l.runner.Close()
	}
	if cerr := l.dev.Close(); err == nil {
		err = cerr
	}
	return err
}

// openEngine opens the device, deserializes the engine file and prepares a
// runner on the selected profile. Only the sim runtime is linked, and it
// needs a device whose memory is host-addressable.
func openEngine(log logger.Logger) (*loadedEngine, error) {
	dev, err := backend.OpenDevice(backendName, int(deviceOrdinal), log)
	if err != nil {
		return nil, err
	}
	mem, ok := dev.(simgraph.Memory)
	if !ok {
		_ = dev.Close()
		return nil, fmt.Errorf("backend %s has no linked engine runtime; use --backend sim", dev.Name())
	}
	rt := simgraph.NewRuntime(mem)
	eng, err := graph.LoadEngine(enginePath, rt)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	l := &loadedEngine{dev: dev, engine: eng, runtime: rt.Name()}
	l.runner, err = runner.New(eng, dev, int(profileIndex), log)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return l, nil
}
