package oracle

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests and replies travel as google.protobuf.Struct so no generated code is
// needed on either side: {"system", "user"} in, {"text"} out.
const (
	serviceName    = "shift.ReasoningService"
	completeMethod = "/" + serviceName + "/Complete"
)

// #region client
// GRPCOracle calls a remote reasoning service.
type GRPCOracle struct {
	conn *grpc.ClientConn
}

// NewGRPCOracle connects to addr without transport security. Extra options
// are appended after the defaults.
func NewGRPCOracle(addr string, opts ...grpc.DialOption) (*GRPCOracle, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCOracle{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (g *GRPCOracle) Close() error {
	return g.conn.Close()
}

// Complete sends one request.
func (g *GRPCOracle) Complete(ctx context.Context, system, user string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"system": system, "user": user})
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, completeMethod, in, out); err != nil {
		return "", fmt.Errorf("complete rpc: %w", err)
	}
	return out.GetFields()["text"].GetStringValue(), nil
}

// #endregion client

// #region server
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Oracle)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
	},
	Metadata: "shift/reasoning.proto",
}

// RegisterReasoningServer serves o on s.
func RegisterReasoningServer(s *grpc.Server, o Oracle) {
	s.RegisterService(&serviceDesc, o)
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		fields := req.(*structpb.Struct).GetFields()
		text, err := srv.(Oracle).Complete(ctx, fields["system"].GetStringValue(), fields["user"].GetStringValue())
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return structpb.NewStruct(map[string]any{"text": text})
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	return interceptor(ctx, in, info, call)
}

// #endregion server
