package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// Client calls a FrameTransformation service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security. Extra options are
// appended, so tests can pass a bufconn dialer.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Resolve asks the service for the transform answering q.
func (c *Client) Resolve(ctx context.Context, q frames.Query) (protocol.FrameTransformation, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ResolveMethod, protocol.QueryToStruct(q), out); err != nil {
		return protocol.FrameTransformation{}, err
	}
	return protocol.FromStruct(out)
}

// Update sends a batch of observations attributed to source.
func (c *Client) Update(ctx context.Context, source string, batch protocol.FrameTransformations) error {
	out := new(structpb.Struct)
	return c.cc.Invoke(ctx, UpdateMethod, protocol.BatchToStruct(source, batch), out)
}

// GetCalibration fetches calibrations by id.
func (c *Client) GetCalibration(ctx context.Context, ids ...int64) ([]*calibration.Calibration, error) {
	values := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		values[i] = structpb.NewNumberValue(float64(id))
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"ids": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetCalibrationMethod, in, out); err != nil {
		return nil, err
	}
	var cals []*calibration.Calibration
	for _, v := range out.GetFields()["calibrations"].GetListValue().GetValues() {
		cal, err := CalibrationFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	return cals, nil
}
