// Package v1 describes the rolodex.v1.Realtime gRPC service.
//
// Messages are google.protobuf.Struct values carrying the same JSON event
// envelope the WebSocket channel uses, so the service needs no generated
// message types. Status takes google.protobuf.Empty.
package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	RealtimeServiceName   = "rolodex.v1.Realtime"
	RealtimeConnectMethod = "/rolodex.v1.Realtime/Connect"
	RealtimeStatusMethod  = "/rolodex.v1.Realtime/Status"
)

type (
	Realtime_ConnectServer = grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]
	Realtime_ConnectClient = grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
)

// RealtimeServer is implemented by the gRPC real-time endpoint.
type RealtimeServer interface {
	Connect(Realtime_ConnectServer) error
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterRealtimeServer(s grpc.ServiceRegistrar, srv RealtimeServer) {
	s.RegisterService(&Realtime_ServiceDesc, srv)
}

var Realtime_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RealtimeServiceName,
	HandlerType: (*RealtimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    realtimeStatusHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       realtimeConnectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "rolodex/v1/realtime.proto",
}

func realtimeStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RealtimeServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RealtimeStatusMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RealtimeServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func realtimeConnectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RealtimeServer).Connect(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RealtimeClient is the client side of rolodex.v1.Realtime.
type RealtimeClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (Realtime_ConnectClient, error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type realtimeClient struct {
	cc grpc.ClientConnInterface
}

func NewRealtimeClient(cc grpc.ClientConnInterface) RealtimeClient {
	return &realtimeClient{cc}
}

func (c *realtimeClient) Connect(ctx context.Context, opts ...grpc.CallOption) (Realtime_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &Realtime_ServiceDesc.Streams[0], RealtimeConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}

func (c *realtimeClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RealtimeStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
