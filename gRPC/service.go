package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const serviceName = "persondet.DetectService"

type DetectServiceServer interface {
	InitEngine(context.Context, *InitEngineRequest) (*InitEngineResponse, error)
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	CheckEngine(context.Context, *CheckEngineRequest) (*CheckEngineResponse, error)
	CheckAllEngine(context.Context, *emptypb.Empty) (*CheckAllEngineResponse, error)
	DestroyEngine(context.Context, *DestroyEngineRequest) (*DestroyEngineResponse, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type UnimplementedDetectServiceServer struct{}

func (UnimplementedDetectServiceServer) InitEngine(context.Context, *InitEngineRequest) (*InitEngineResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InitEngine not implemented")
}
func (UnimplementedDetectServiceServer) Detect(context.Context, *DetectRequest) (*DetectResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Detect not implemented")
}
func (UnimplementedDetectServiceServer) CheckEngine(context.Context, *CheckEngineRequest) (*CheckEngineResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CheckEngine not implemented")
}
func (UnimplementedDetectServiceServer) CheckAllEngine(context.Context, *emptypb.Empty) (*CheckAllEngineResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CheckAllEngine not implemented")
}
func (UnimplementedDetectServiceServer) DestroyEngine(context.Context, *DestroyEngineRequest) (*DestroyEngineResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DestroyEngine not implemented")
}
func (UnimplementedDetectServiceServer) Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

// unary builds the method handler protoc-gen-go-grpc would have generated.
func unary[Req, Resp any](method string, call func(DetectServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DetectServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DetectServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var DetectServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("InitEngine", DetectServiceServer.InitEngine),
		unary("Detect", DetectServiceServer.Detect),
		unary("CheckEngine", DetectServiceServer.CheckEngine),
		unary("CheckAllEngine", DetectServiceServer.CheckAllEngine),
		unary("DestroyEngine", DetectServiceServer.DestroyEngine),
		unary("Shutdown", DetectServiceServer.Shutdown),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "persondet.proto",
}

func RegisterDetectServiceServer(s grpc.ServiceRegistrar, srv DetectServiceServer) {
	s.RegisterService(&DetectServiceDesc, srv)
}

type DetectServiceClient interface {
	InitEngine(ctx context.Context, in *InitEngineRequest, opts ...grpc.CallOption) (*InitEngineResponse, error)
	Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error)
	CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error)
	CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error)
	DestroyEngine(ctx context.Context, in *DestroyEngineRequest, opts ...grpc.CallOption) (*DestroyEngineResponse, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type detectServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDetectServiceClient(cc grpc.ClientConnInterface) DetectServiceClient {
	return &detectServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *detectServiceClient) InitEngine(ctx context.Context, in *InitEngineRequest, opts ...grpc.CallOption) (*InitEngineResponse, error) {
	return invoke[InitEngineResponse](ctx, c.cc, "InitEngine", in, opts)
}

func (c *detectServiceClient) Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error) {
	return invoke[DetectResponse](ctx, c.cc, "Detect", in, opts)
}

func (c *detectServiceClient) CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error) {
	return invoke[CheckEngineResponse](ctx, c.cc, "CheckEngine", in, opts)
}

func (c *detectServiceClient) CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error) {
	return invoke[CheckAllEngineResponse](ctx, c.cc, "CheckAllEngine", in, opts)
}

func (c *detectServiceClient) DestroyEngine(ctx context.Context, in *DestroyEngineRequest, opts ...grpc.CallOption) (*DestroyEngineResponse, error) {
	return invoke[DestroyEngineResponse](ctx, c.cc, "DestroyEngine", in, opts)
}

func (c *detectServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Shutdown", in, opts)
}
