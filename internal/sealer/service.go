package sealer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ledgerseal.sealer.v1.SealerService"

const (
	SignMethod   = "/" + ServiceName + "/Sign"
	VerifyMethod = "/" + ServiceName + "/Verify"
)

// Message field names.
const (
	FieldTenantID  = "tenant_id"
	FieldPayload   = "payload"
	FieldSignature = "signature"
	FieldKeyID     = "key_id"
	FieldValid     = "valid"
)

// SealerServiceServer is the server API of the seal service. Requests and
// responses are google.protobuf.Struct values.
type SealerServiceServer interface {
	Sign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterSealerServiceServer(s grpc.ServiceRegistrar, srv SealerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func signHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SealerServiceServer).Sign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SealerServiceServer).Sign(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SealerServiceServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SealerServiceServer).Verify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SealerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: signHandler},
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledgerseal/sealer/v1/sealer.proto",
}
