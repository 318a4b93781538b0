package rpc

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// DefaultSource attributes Update batches that name no source.
const DefaultSource = "grpc"

// Resolver answers queries. Implemented by *frames.Engine.
type Resolver interface {
	Resolve(q frames.Query) (frames.Result, error)
}

// Updater applies observation batches. Implemented by *publisher.Publisher.
type Updater interface {
	Apply(ctx context.Context, source string, batch protocol.FrameTransformations) error
}

// Calibrations looks up camera calibrations. Implemented by
// *calibration.Server.
type Calibrations interface {
	Get(ids ...int64) ([]*calibration.Calibration, error)
}

// Ensure Server implements the gRPC interface.
var _ FrameTransformationServer = (*Server)(nil)

// Server implements FrameTransformationServer. Updater and Calibrations
// may be nil; the matching methods then return Unimplemented.
type Server struct {
	resolver     Resolver
	updater      Updater
	calibrations Calibrations
}

// NewServer creates a new gRPC server implementation.
func NewServer(resolver Resolver, updater Updater, calibrations Calibrations) *Server {
	return &Server{resolver: resolver, updater: updater, calibrations: calibrations}
}

func (s *Server) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := protocol.QueryFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.resolver.Resolve(q)
	if err != nil {
		return nil, toStatus(err)
	}
	return protocol.ToStruct(protocol.FromResult(res)), nil
}

func (s *Server) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.updater == nil {
		return nil, status.Error(codes.Unimplemented, "updates not enabled")
	}
	source, batch, err := protocol.BatchFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if source == "" {
		source = DefaultSource
	}
	if err := s.updater.Apply(ctx, source, batch); err != nil {
		return nil, toStatus(err)
	}
	log.Printf("[gRPC] Update: %d transforms from %s", len(batch.Tfs), source)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accepted": structpb.NewNumberValue(float64(len(batch.Tfs))),
	}}, nil
}

func (s *Server) GetCalibration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.calibrations == nil {
		return nil, status.Error(codes.Unimplemented, "calibrations not loaded")
	}
	var ids []int64
	for _, v := range req.GetFields()["ids"].GetListValue().GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != float64(int64(n.NumberValue)) {
			return nil, status.Errorf(codes.InvalidArgument, "ids must be integers, got %v", v.AsInterface())
		}
		ids = append(ids, int64(n.NumberValue))
	}
	cals, err := s.calibrations.Get(ids...)
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]*structpb.Value, len(cals))
	for i, c := range cals {
		values[i] = structpb.NewStructValue(CalibrationToStruct(c))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"calibrations": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

// CalibrationToStruct encodes c in the same shape as its JSON form.
func CalibrationToStruct(c *calibration.Calibration) *structpb.Struct {
	extrinsic := make([]*structpb.Value, len(c.Extrinsic))
	for i, m := range c.Extrinsic {
		extrinsic[i] = structpb.NewStructValue(protocol.ToStruct(m))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":   structpb.NewNumberValue(float64(c.ID)),
		"name": structpb.NewStringValue(c.Name),
		"resolution": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"width":  structpb.NewNumberValue(float64(c.Resolution.Width)),
			"height": structpb.NewNumberValue(float64(c.Resolution.Height)),
		}}),
		"intrinsic":  structpb.NewStructValue(protocol.TensorToStruct(c.Intrinsic)),
		"distortion": structpb.NewStructValue(protocol.TensorToStruct(c.Distortion)),
		"error":      structpb.NewNumberValue(c.Error),
		"extrinsic":  structpb.NewListValue(&structpb.ListValue{Values: extrinsic}),
	}}
}

// CalibrationFromStruct decodes a Struct produced by CalibrationToStruct.
func CalibrationFromStruct(s *structpb.Struct) (*calibration.Calibration, error) {
	f := s.GetFields()
	res := f["resolution"].GetStructValue().GetFields()
	c := &calibration.Calibration{
		ID:   int64(f["id"].GetNumberValue()),
		Name: f["name"].GetStringValue(),
		Resolution: calibration.Resolution{
			Width:  int(res["width"].GetNumberValue()),
			Height: int(res["height"].GetNumberValue()),
		},
		Error: f["error"].GetNumberValue(),
	}
	var err error
	if c.Intrinsic, err = protocol.TensorFromStruct(f["intrinsic"].GetStructValue()); err != nil {
		return nil, err
	}
	if c.Distortion, err = protocol.TensorFromStruct(f["distortion"].GetStructValue()); err != nil {
		return nil, err
	}
	for _, v := range f["extrinsic"].GetListValue().GetValues() {
		m, err := protocol.FromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		c.Extrinsic = append(c.Extrinsic, m)
	}
	return c, nil
}

// Code maps service errors onto gRPC status codes.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, frames.ErrUnknownFrame), errors.Is(err, frames.ErrNotFound),
		errors.Is(err, calibration.ErrCalibrationNotFound):
		return codes.NotFound
	case errors.Is(err, frames.ErrNoPath), errors.Is(err, frames.ErrEdgeMissing):
		return codes.FailedPrecondition
	case errors.Is(err, frames.ErrInvalidHints), errors.Is(err, frames.ErrInvalidTransform),
		errors.Is(err, protocol.ErrInvalidQuery), errors.Is(err, protocol.ErrInvalidTensor):
		return codes.InvalidArgument
	case errors.Is(err, frames.ErrIllFormedTransform):
		return codes.DataLoss
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	return status.Error(Code(err), err.Error())
}
