// Service descriptor and client for the fieldstore admin API
package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "fieldstore.v1.Admin"

// AdminServer is the server API of the admin service.
// Requests and responses are protobuf Structs carrying JSON objects.
type AdminServer interface {
	GetVersion(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListFields(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetField(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upgrade(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddDocuments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSettings(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req proto.Message](name string, newReq func() Req, call func(AdminServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// AdminServiceDesc describes the admin service for grpc.Server registration
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetVersion", newEmpty, AdminServer.GetVersion),
		unary("ListFields", newEmpty, AdminServer.ListFields),
		unary("GetField", newStruct, AdminServer.GetField),
		unary("Upgrade", newEmpty, AdminServer.Upgrade),
		unary("AddDocuments", newStruct, AdminServer.AddDocuments),
		unary("GetSettings", newEmpty, AdminServer.GetSettings),
		unary("UpdateSettings", newStruct, AdminServer.UpdateSettings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fieldstore/v1/admin.proto",
}

// RegisterAdminServer registers srv with s
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminClient calls the admin service over a connection
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) invoke(ctx context.Context, method string, in proto.Message, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) GetVersion(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetVersion", &emptypb.Empty{}, opts)
}

func (c *AdminClient) ListFields(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListFields", &emptypb.Empty{}, opts)
}

// GetField takes {"name": "<field>"}
func (c *AdminClient) GetField(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetField", in, opts)
}

func (c *AdminClient) Upgrade(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Upgrade", &emptypb.Empty{}, opts)
}

// AddDocuments takes {"documents": [ {...}, ... ]}
func (c *AdminClient) AddDocuments(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "AddDocuments", in, opts)
}

func (c *AdminClient) GetSettings(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSettings", &emptypb.Empty{}, opts)
}

// UpdateSettings takes the settings object
func (c *AdminClient) UpdateSettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "UpdateSettings", in, opts)
}
