// Package rpc exposes the frame transformation service over gRPC.
//
// Messages are google.protobuf.Struct values shaped like the JSON forms in
// package protocol, so the service descriptor is written by hand instead of
// generated from a .proto file.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "frametransform.FrameTransformation"

// Full method names.
const (
	ResolveMethod        = "/" + ServiceName + "/Resolve"
	UpdateMethod         = "/" + ServiceName + "/Update"
	GetCalibrationMethod = "/" + ServiceName + "/GetCalibration"
)

// FrameTransformationServer is the server API.
type FrameTransformationServer interface {
	// Resolve answers {query: "A.H.B"} or {from, hints, to} with a
	// FrameTransformation.
	Resolve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Update applies a {source, tfs} batch of observations.
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetCalibration returns {calibrations} for {ids}.
	GetCalibration(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterFrameTransformationServer registers srv on s.
func RegisterFrameTransformationServer(s grpc.ServiceRegistrar, srv FrameTransformationServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameTransformationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: unaryHandler(ResolveMethod, FrameTransformationServer.Resolve)},
		{MethodName: "Update", Handler: unaryHandler(UpdateMethod, FrameTransformationServer.Update)},
		{MethodName: "GetCalibration", Handler: unaryHandler(GetCalibrationMethod, FrameTransformationServer.GetCalibration)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frametransform.proto",
}

type unaryMethod func(FrameTransformationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FrameTransformationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FrameTransformationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
