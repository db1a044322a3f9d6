package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/engineprep/internal/bindings"
	"github.com/samcharles93/engineprep/internal/graph"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	borderColor = "#705090"
)

func bindingsCmd() *cli.Command {
	var all bool

	return &cli.Command{
		Name:  "bindings",
		Usage: "List engine bindings, profiles and resolved buffer sizes",
		Flags: append(append(engineFlags(),
			&cli.BoolFlag{
				Name:        "all",
				Usage:       "list every profile instead of only --profile",
				Destination: &all,
			},
		), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			log, err := newLogger()
			if err != nil {
				return err
			}
			point, err := bindings.ParsePoint(shapePoint)
			if err != nil {
				return fmt.Errorf("bindings: %w", err)
			}
			l, err := openEngine(log)
			if err != nil {
				return fmt.Errorf("bindings: %w", err)
			}
			defer func() { _ = l.Close() }()

			profiles := []int{int(profileIndex)}
			if all {
				profiles = profiles[:0]
				for p := 0; p < l.engine.NumProfiles(); p++ {
					profiles = append(profiles, p)
				}
			}

			fmt.Printf("engine:   %s (runtime %s, device %s)\n", enginePath, l.runtime, l.dev.Name())
			fmt.Printf("bindings: %d in %d profile(s), %d per profile\n",
				l.engine.NumBindings(), l.engine.NumProfiles(), l.runner.Layout().BindingsPerProfile)
			for _, p := range profiles {
				t, err := bindingsTable(l.engine, p, point)
				if err != nil {
					return fmt.Errorf("bindings: %w", err)
				}
				fmt.Printf("\nprofile %d (sizes at %s)\n", p, point)
				fmt.Println(t.Render())
			}
			return nil
		},
	}
}

func bindingsTable(eng graph.Engine, profile int, point bindings.Point) (*lgtable.Table, error) {
	layout, err := bindings.Partition(eng, profile)
	if err != nil {
		return nil, err
	}
	res := bindings.Resolver{Engine: eng, Profile: profile, Point: point}

	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(borderColor))).
		Headers("#", "name", "dir", "dtype", "shape", "min", "opt", "max", "bytes").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0 || col == 8:
				return numberStyle
			default:
				return cellStyle
			}
		})

	for _, idx := range layout.Ordered() {
		b, err := eng.Binding(idx)
		if err != nil {
			return nil, err
		}
		minS, optS, maxS := "-", "-", "-"
		if b.Shape.IsDynamic() {
			if ps, err := eng.ProfileShapes(profile, idx); err == nil {
				minS, optS, maxS = ps.Min.String(), ps.Opt.String(), ps.Max.String()
			}
		}
		size := "-"
		if b.IsInput() {
			if shape, err := res.Resolve(idx, nil); err == nil {
				if n, err := graph.ByteSize(shape, b.DType); err == nil {
					size = humanize.IBytes(uint64(n))
				}
			}
		} else if !b.Shape.IsDynamic() {
			if n, err := graph.ByteSize(b.Shape, b.DType); err == nil {
				size = humanize.IBytes(uint64(n))
			}
		}
		t.Row(strconv.Itoa(idx), b.Name, b.Direction.String(), b.DType.String(), b.Shape.String(), minS, optS, maxS, size)
	}
	return t, nil
}
