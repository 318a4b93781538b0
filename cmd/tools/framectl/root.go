package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/httputil"
	"github.com/banshee-data/frametransform/internal/protocol"
	"github.com/banshee-data/frametransform/internal/rpc"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	GRPC    string
	Format  string // "text" | "json" | "yaml"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for framectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "framectl",
		Short: "Query and edit a running frames service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "HTTP address of the frames service")
	cmd.PersistentFlags().StringVar(&opts.GRPC, "grpc", "", "gRPC address; when set, resolve and calibration use gRPC")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewPlotCommand(opts))
	cmd.AddCommand(NewCalibrationCommand(opts))
	cmd.AddCommand(NewEdgesCommand(opts))
	cmd.AddCommand(NewTopicCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// backend is the part of the service the query commands need.
type backend interface {
	Resolve(ctx context.Context, q frames.Query) (protocol.FrameTransformation, error)
	GetCalibration(ctx context.Context, ids ...int64) ([]*calibration.Calibration, error)
	Close() error
}

type httpBackend struct {
	c *httputil.Client
}

func (h httpBackend) Resolve(ctx context.Context, q frames.Query) (protocol.FrameTransformation, error) {
	var out protocol.FrameTransformation
	err := h.c.GetJSON(ctx, "/api/transform", url.Values{"q": {q.Key()}}, &out)
	return out, err
}

func (h httpBackend) GetCalibration(ctx context.Context, ids ...int64) ([]*calibration.Calibration, error) {
	v := url.Values{}
	for _, id := range ids {
		v.Add("id", strconv.FormatInt(id, 10))
	}
	var out []*calibration.Calibration
	err := h.c.GetJSON(ctx, "/api/calibrations", v, &out)
	return out, err
}

func (h httpBackend) Close() error { return nil }

// backend picks gRPC when --grpc is set and HTTP otherwise.
func (o *RootOptions) backend() (backend, error) {
	if o.GRPC != "" {
		return rpc.Dial(o.GRPC)
	}
	return httpBackend{c: o.client()}, nil
}

func (o *RootOptions) client() *httputil.Client {
	return httputil.NewClient(o.Server, nil)
}

func (o *RootOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.Timeout)
}

// encode writes v as JSON or YAML and reports whether the format was one
// of those.
func (o *RootOptions) encode(w io.Writer, v interface{}) (bool, error) {
	switch o.Format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}
