package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// GatewayClient is the hand-written equivalent of a protoc-gen-go-grpc
// client stub for the Gateway service.
type GatewayClient interface {
	Complete(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Stream(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (GatewayStreamClient, error)
}

// GatewayStreamClient is the receive side of the Stream RPC.
type GatewayStreamClient interface {
	Recv() (*structpb.Struct, error)
}

type gatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewGatewayClient wraps conn for calling the Gateway service.
func NewGatewayClient(conn grpc.ClientConnInterface) GatewayClient {
	return &gatewayClient{cc: conn}
}

func (c *gatewayClient) Complete(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodComplete, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gatewayClient) Stream(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (GatewayStreamClient, error) {
	desc := &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, MethodStream, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &gatewayStreamClient{stream: stream}, nil
}

type gatewayStreamClient struct {
	stream grpc.ClientStream
}

func (s *gatewayStreamClient) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
