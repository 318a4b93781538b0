package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/frametransform/internal/frameplot"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// PlotOptions holds flags for the plot command.
type PlotOptions struct {
	*RootOptions
	Reference  string
	Output     string
	AxisLength float64
	Size       float64 // inches
}

// NewPlotCommand creates the plot command.
func NewPlotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plot FRAME ...",
		Short: "Draw the axes of frames as seen from a reference frame",
		Long: `Resolve every FRAME into the reference frame and draw its axes
projected onto the reference XY plane. The image format follows the output
extension (.png, .svg, .pdf).

Examples:
  framectl plot camera lidar --ref world -o rig.png
  framectl plot tag1 tag2 --ref camera --axis 0.1 -o tags.svg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlot(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.Reference, "ref", "", "reference frame (required)")
	_ = cmd.MarkFlagRequired("ref")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "frames.png", "output image path")
	cmd.Flags().Float64Var(&opts.AxisLength, "axis", 0, "axis length in reference units (default 0.5)")
	cmd.Flags().Float64Var(&opts.Size, "size", 6, "image width and height in inches")
	return cmd
}

func runPlot(cmd *cobra.Command, opts *PlotOptions, args []string) error {
	if err := protocol.ValidateFrameID(opts.Reference); err != nil {
		return fmt.Errorf("--ref: %w", err)
	}
	be, err := opts.backend()
	if err != nil {
		return err
	}
	defer be.Close()
	ctx, cancel := opts.context()
	defer cancel()

	poses := make([]frameplot.Pose, 0, len(args))
	for _, name := range args {
		q, err := protocol.NewQuery(name, nil, opts.Reference)
		if err != nil {
			return err
		}
		res, err := be.Resolve(ctx, q)
		if err != nil {
			return fmt.Errorf("%s: %w", q.Key(), err)
		}
		t, err := protocol.DecodeMatrix(res.TF)
		if err != nil {
			return err
		}
		poses = append(poses, frameplot.Pose{Name: name, T: t})
	}

	size := vg.Length(opts.Size) * vg.Inch
	err = frameplot.Save(opts.Output, poses, frameplot.Options{
		Reference:  opts.Reference,
		AxisLength: opts.AxisLength,
		Width:      size,
		Height:     size,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frames in %s to %s\n", len(poses), opts.Reference, opts.Output)
	return nil
}
