package main

import (
	"fmt"
	"math"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/frametransform/internal/api"
	"github.com/banshee-data/frametransform/internal/config"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// NewEdgesCommand creates the edges command and its subcommands.
func NewEdgesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List, set and remove stored edges",
	}
	cmd.AddCommand(newEdgesListCommand(rootOpts))
	cmd.AddCommand(newEdgesSetCommand(rootOpts))
	cmd.AddCommand(newEdgesApplyCommand(rootOpts))
	cmd.AddCommand(newEdgesRemoveCommand(rootOpts))
	return cmd
}

func newEdgesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every stored edge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootOpts.context()
			defer cancel()
			var edges []api.EdgeView
			if err := rootOpts.client().GetJSON(ctx, "/api/edges", nil, &edges); err != nil {
				return err
			}
			if ok, err := rootOpts.encode(cmd.OutOrStdout(), edges); ok {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FROM\tTO\tSOURCE\tTRANSLATION\tEXPIRED")
			for _, e := range edges {
				t, err := protocol.DecodeMatrix(e.TF)
				if err != nil {
					return err
				}
				tr := frames.Translation(t)
				fmt.Fprintf(tw, "%s\t%s\t%s\t[%.3f %.3f %.3f]\t%v\n", e.From, e.To, e.Source, tr[0], tr[1], tr[2], e.Expired)
			}
			return tw.Flush()
		},
	}
}

// SetOptions holds flags for edges set.
type SetOptions struct {
	*RootOptions
	Translation []float64
	YawDegrees  float64
	Source      string
}

func newEdgesSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "set FROM TO",
		Short: "Store a static edge from a translation and yaw",
		Long: `Store the transform carrying points in FROM into TO.

Examples:
  framectl edges set world robot --xyz 1,0,0
  framectl edges set robot camera --xyz 0.1,0,0.3 --yaw 90 --source rig`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.Translation) != 3 {
				return fmt.Errorf("--xyz needs 3 values, got %d", len(opts.Translation))
			}
			x, y, z := opts.Translation[0], opts.Translation[1], opts.Translation[2]
			t := frames.Transform{
				From: frames.FrameID(args[0]),
				To:   frames.FrameID(args[1]),
				T:    frames.RotateZ(opts.YawDegrees*math.Pi/180, x, y, z),
			}
			batch := protocol.FrameTransformations{Tfs: []protocol.FrameTransformation{protocol.FromTransform(t)}}
			return postBatch(cmd, rootOpts, opts.Source, batch)
		},
	}
	cmd.Flags().Float64SliceVar(&opts.Translation, "xyz", []float64{0, 0, 0}, "translation x,y,z")
	cmd.Flags().Float64Var(&opts.YawDegrees, "yaw", 0, "rotation about Z in degrees")
	cmd.Flags().StringVar(&opts.Source, "source", "framectl", "source the edge is attributed to")
	return cmd
}

func newEdgesApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "apply FILE",
		Short: "Post a batch of observations from a .json or .yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.ReadFile(args[0])
			if err != nil {
				return err
			}
			var batch protocol.FrameTransformations
			if err := config.Decode(args[0], data, &batch); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			return postBatch(cmd, rootOpts, source, batch)
		},
	}
	cmd.Flags().StringVar(&source, "source", "framectl", "source the edges are attributed to")
	return cmd
}

func postBatch(cmd *cobra.Command, rootOpts *RootOptions, source string, batch protocol.FrameTransformations) error {
	ctx, cancel := rootOpts.context()
	defer cancel()
	var out map[string]int
	if err := rootOpts.client().PostJSON(ctx, "/api/edges", url.Values{"source": {source}}, batch, &out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d edges as %s\n", out["applied"], source)
	return nil
}

func newEdgesRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm A B",
		Aliases: []string{"remove"},
		Short:   "Remove the edge between two frames",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootOpts.context()
			defer cancel()
			if err := rootOpts.client().Delete(ctx, "/api/edges", url.Values{"a": {args[0]}, "b": {args[1]}}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s <-> %s\n", args[0], args[1])
			return nil
		},
	}
}
