package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/crossing.report/internal/aggregate"
)

// TotalsClient calls the Totals service.
type TotalsClient struct {
	cc grpc.ClientConnInterface
}

// NewTotalsClient wraps a client connection.
func NewTotalsClient(cc grpc.ClientConnInterface) *TotalsClient {
	return &TotalsClient{cc: cc}
}

// GetTotals returns the live per-source totals.
func (c *TotalsClient) GetTotals(ctx context.Context, opts ...grpc.CallOption) (map[string]aggregate.Totals, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetTotalsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return DecodeTotals(out)
}

// Live returns the liveness payload.
func (c *TotalsClient) Live(ctx context.Context, opts ...grpc.CallOption) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LiveMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// WatchTotals streams totals every interval while they change.
func (c *TotalsClient) WatchTotals(ctx context.Context, interval time.Duration, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &TotalsServiceDesc.Streams[0], WatchTotalsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[durationpb.Duration, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(durationpb.New(interval)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
