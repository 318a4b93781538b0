package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/frametransform/internal/calibration"
)

// NewCalibrationCommand creates the calibration command.
func NewCalibrationCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "calibration ID ...",
		Aliases: []string{"cal"},
		Short:   "Fetch camera calibrations by id",
		Long: `Fetch camera calibrations. With --format yaml the output can be
dropped into the service's calibration directory as is.

Examples:
  framectl calibration 3
  framectl calibration 3 4 --format yaml --grpc localhost:50051`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid calibration id %q", a)
				}
				ids = append(ids, id)
			}

			be, err := rootOpts.backend()
			if err != nil {
				return err
			}
			defer be.Close()
			ctx, cancel := rootOpts.context()
			defer cancel()

			cals, err := be.GetCalibration(ctx, ids...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var v interface{} = cals
			if len(cals) == 1 {
				v = cals[0]
			}
			if ok, err := rootOpts.encode(out, v); ok {
				return err
			}
			for _, c := range cals {
				printCalibration(cmd, c)
			}
			return nil
		},
	}
}

func printCalibration(cmd *cobra.Command, c *calibration.Calibration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "calibration %d %q (%dx%d, error %.4f)\n", c.ID, c.Name, c.Resolution.Width, c.Resolution.Height, c.Error)
	fmt.Fprintf(out, "  intrinsic:  %v\n", c.Intrinsic.Doubles)
	fmt.Fprintf(out, "  distortion: %v\n", c.Distortion.Doubles)
	for _, e := range c.Extrinsic {
		fmt.Fprintf(out, "  extrinsic:  %s -> %s %v\n", e.From, e.To, e.TF.Doubles)
	}
}
