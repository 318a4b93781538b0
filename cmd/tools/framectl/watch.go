package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/banshee-data/frametransform/internal/api"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch FROM.[HINT.]TO ...",
		Short: "Stream updates of one or more queries over the websocket",
		Long: `Subscribe to query topics and print every recomputed transform.
Subscribing makes the service track the query until the watch ends.

Examples:
  framectl watch world.camera
  framectl watch world.camera world.lidar --count 10 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many updates (0 watches until interrupted)")
	return cmd
}

// wsURL turns the HTTP server address into the websocket endpoint for topics.
func wsURL(server string, topics []string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"topic": topics}.Encode()
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, args []string) error {
	topics := make([]string, 0, len(args))
	for _, a := range args {
		q, err := protocol.ParseQuery(a)
		if err != nil {
			return err
		}
		topics = append(topics, protocol.FormatTopic(q))
	}
	target, err := wsURL(opts.Server, topics)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := opts.context()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	out := cmd.OutOrStdout()
	for seen := 0; opts.Count == 0 || seen < opts.Count; seen++ {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var tf protocol.FrameTransformation
		if err := json.Unmarshal(msg.Payload, &tf); err != nil {
			return fmt.Errorf("bad payload on %s: %w", msg.Topic, err)
		}
		if opts.Format == "json" {
			if err := json.NewEncoder(out).Encode(tf); err != nil {
				return err
			}
			continue
		}
		if ok, err := opts.encode(out, tf); ok {
			if err != nil {
				return err
			}
			continue
		}
		if err := printTransform(out, tf); err != nil {
			return err
		}
	}
	return nil
}
