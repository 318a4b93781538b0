package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/version"
)

// NewTopicCommand creates the topic command, which converts between dotted
// queries and bus topics without contacting the service.
func NewTopicCommand(rootOpts *RootOptions) *cobra.Command {
	var parse bool
	cmd := &cobra.Command{
		Use:   "topic QUERY|TOPIC ...",
		Short: "Print the bus topic for a query, or the query for a topic with --parse",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, a := range args {
				if parse {
					q, err := protocol.ParseTopic(a)
					if err != nil {
						return err
					}
					if ok, err := rootOpts.encode(out, map[string]interface{}{"from": q.From, "hints": q.Hints, "to": q.To}); ok {
						if err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "from=%s hints=%v to=%s\n", q.From, q.Hints, q.To)
					continue
				}
				q, err := protocol.ParseQuery(a)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, protocol.FormatTopic(q))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parse, "parse", false, "parse topics instead of formatting queries")
	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the framectl version and, if reachable, the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "framectl %s\n", version.String())
			ctx, cancel := rootOpts.context()
			defer cancel()
			var server map[string]string
			if err := rootOpts.client().GetJSON(ctx, "/api/version", nil, &server); err != nil {
				fmt.Fprintf(out, "server    unreachable: %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "server    %s (git %s, built %s)\n", server["version"], server["git_sha"], server["build_time"])
			return nil
		},
	}
}
