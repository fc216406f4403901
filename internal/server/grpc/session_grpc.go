package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Fully-qualified method names of linkgate.v1.SessionService.
const (
	ServiceName               = "linkgate.v1.SessionService"
	SessionLoginFullMethod    = "/" + ServiceName + "/Login"
	SessionReissueFullMethod  = "/" + ServiceName + "/Reissue"
	SessionLogoutFullMethod   = "/" + ServiceName + "/Logout"
	SessionWithdrawFullMethod = "/" + ServiceName + "/Withdraw"
)

// SessionServer is the server API for linkgate.v1.SessionService. Messages are
// well-known protobuf types so the service needs no generated code.
type SessionServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reissue(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Withdraw(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// SessionServiceDesc describes linkgate.v1.SessionService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: sessionLoginHandler},
		{MethodName: "Reissue", Handler: sessionReissueHandler},
		{MethodName: "Logout", Handler: sessionLogoutHandler},
		{MethodName: "Withdraw", Handler: sessionWithdrawHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "linkgate/v1/session.proto",
}

func sessionLoginHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).Login(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionLoginFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).Login(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionReissueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).Reissue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionReissueFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).Reissue(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionLogoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).Logout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionLogoutFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).Logout(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionWithdrawHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).Withdraw(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionWithdrawFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).Withdraw(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
