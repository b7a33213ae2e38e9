package grpc_control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are well-known types (Empty in, Struct in/out) so the service
// needs no generated code.
const ServiceName = "keeperoracle.control.v1.OracleControl"

type OracleControlServer interface {
	ListFeeds(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPrice(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateFeedParameters(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterOracleControlServer(s grpc.ServiceRegistrar, srv OracleControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OracleControlServer)(nil),
	Methods: []grpc.MethodDesc{
		emptyMethod("ListFeeds", OracleControlServer.ListFeeds),
		emptyMethod("GetStatus", OracleControlServer.GetStatus),
		emptyMethod("GetPrice", OracleControlServer.GetPrice),
		structMethod("UpdateFeedParameters", OracleControlServer.UpdateFeedParameters),
		structMethod("StartFeed", OracleControlServer.StartFeed),
		structMethod("StopFeed", OracleControlServer.StopFeed),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keeperoracle/control/v1/control.proto",
}

// -----------------------------------------------------------------------------

func emptyMethod(name string, call func(OracleControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OracleControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OracleControlServer), ctx, req.(*emptypb.Empty))
			})
		},
	}
}

func structMethod(name string, call func(OracleControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OracleControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OracleControlServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in interface{}) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) ListFeeds(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListFeeds", &emptypb.Empty{})
}

func (c *ControlClient) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStatus", &emptypb.Empty{})
}

func (c *ControlClient) GetPrice(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetPrice", &emptypb.Empty{})
}

func (c *ControlClient) UpdateFeedParameters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return c.invoke(ctx, "UpdateFeedParameters", req)
}

func (c *ControlClient) StartFeed(ctx context.Context, name string) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartFeed", nameRequest(name))
}

func (c *ControlClient) StopFeed(ctx context.Context, name string) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopFeed", nameRequest(name))
}

func nameRequest(name string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"name": structpb.NewStringValue(name)}}
}
