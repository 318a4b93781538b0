package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve FROM.[HINT.]TO ...",
		Short: "Compose the transform between two frames",
		Long: `Resolve one or more dotted queries against the running service.

Examples:
  framectl resolve world.camera
  framectl resolve world.robot.camera --format json
  framectl resolve map.odom --grpc localhost:50051`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := make([]frames.Query, 0, len(args))
			for _, a := range args {
				q, err := protocol.ParseQuery(a)
				if err != nil {
					return err
				}
				queries = append(queries, q)
			}

			be, err := rootOpts.backend()
			if err != nil {
				return err
			}
			defer be.Close()
			ctx, cancel := rootOpts.context()
			defer cancel()

			results := make([]protocol.FrameTransformation, 0, len(queries))
			for _, q := range queries {
				res, err := be.Resolve(ctx, q)
				if err != nil {
					return fmt.Errorf("%s: %w", q.Key(), err)
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			var v interface{} = results
			if len(results) == 1 {
				v = results[0]
			}
			if ok, err := rootOpts.encode(out, v); ok {
				return err
			}
			for _, r := range results {
				if err := printTransform(out, r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// printTransform writes a human readable summary of a composed transform.
func printTransform(w io.Writer, m protocol.FrameTransformation) error {
	t, err := protocol.DecodeMatrix(m.TF)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s -> %s\n", m.From, m.To)
	if len(m.Path) > 0 {
		fmt.Fprintf(w, "  path:        %s\n", strings.Join(m.Path, " > "))
	}
	tr := frames.Translation(t)
	fmt.Fprintf(w, "  translation: [%.6f %.6f %.6f]\n", tr[0], tr[1], tr[2])
	if m.TimestampNanos != 0 {
		fmt.Fprintf(w, "  timestamp:   %s\n", time.Unix(0, m.TimestampNanos).UTC().Format(time.RFC3339Nano))
	}
	if m.ValidUntilNanos != 0 {
		fmt.Fprintf(w, "  valid until: %s\n", time.Unix(0, m.ValidUntilNanos).UTC().Format(time.RFC3339Nano))
	}
	for r := 0; r < frames.Rows; r++ {
		row := t[r*frames.Cols : (r+1)*frames.Cols]
		fmt.Fprintf(w, "  | %10.6f %10.6f %10.6f %10.6f |\n", row[0], row[1], row[2], row[3])
	}
	return nil
}
