// Package rpc exposes the crossing totals over gRPC. The service uses
// protobuf well-known types only, so it needs no generated code:
//
//	service crossing.v1.Totals {
//	  rpc GetTotals(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc Live(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc WatchTotals(google.protobuf.Duration) returns (stream google.protobuf.Struct);
//	}
//
// Totals are encoded as {"<source_id>": {"forward": n, "backward": m}}.
package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/crossing.report/internal/aggregate"
)

const (
	ServiceName = "crossing.v1.Totals"

	GetTotalsMethod   = "/crossing.v1.Totals/GetTotals"
	LiveMethod        = "/crossing.v1.Totals/Live"
	WatchTotalsMethod = "/crossing.v1.Totals/WatchTotals"
)

// TotalsServer is the server API for the Totals service.
type TotalsServer interface {
	GetTotals(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Live(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchTotals(*durationpb.Duration, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterTotalsServer registers srv with s.
func RegisterTotalsServer(s grpc.ServiceRegistrar, srv TotalsServer) {
	s.RegisterService(&TotalsServiceDesc, srv)
}

func getTotalsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TotalsServer).GetTotals(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetTotalsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TotalsServer).GetTotals(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func liveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TotalsServer).Live(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LiveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TotalsServer).Live(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchTotalsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(durationpb.Duration)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TotalsServer).WatchTotals(m, &grpc.GenericServerStream[durationpb.Duration, structpb.Struct]{ServerStream: stream})
}

// TotalsServiceDesc is the grpc.ServiceDesc for the Totals service.
var TotalsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TotalsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTotals", Handler: getTotalsHandler},
		{MethodName: "Live", Handler: liveHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchTotals", Handler: watchTotalsHandler, ServerStreams: true},
	},
	Metadata: "crossing/v1/totals.proto",
}

// EncodeTotals converts per-source totals into the wire Struct.
func EncodeTotals(totals map[string]aggregate.Totals) (*structpb.Struct, error) {
	m := make(map[string]interface{}, len(totals))
	for id, t := range totals {
		m[id] = map[string]interface{}{
			"forward":  t.Forward,
			"backward": t.Backward,
		}
	}
	return structpb.NewStruct(m)
}

// DecodeTotals is the inverse of EncodeTotals.
func DecodeTotals(s *structpb.Struct) (map[string]aggregate.Totals, error) {
	out := make(map[string]aggregate.Totals, len(s.GetFields()))
	for id, v := range s.GetFields() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("source %q: expected an object", id)
		}
		out[id] = aggregate.Totals{
			Forward:  uint64(fields["forward"].GetNumberValue()),
			Backward: uint64(fields["backward"].GetNumberValue()),
		}
	}
	return out, nil
}
