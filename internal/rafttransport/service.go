// Package rafttransport wires internal/raft.Transport onto gRPC: each peer
// connection is a single bidirectional-streaming RPC carrying this module's own
// Message encoding as an opaque wrapperspb.BytesValue payload, so no
// generated .proto stubs are needed (spec.md §4.4 "Transport").
package rafttransport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// wireMessage is the wire envelope for every Communicate frame: this
// module's own Message, encoded to bytes and carried inside a well-known
// protobuf type so the default grpc proto codec needs no generated code.
type wireMessage = wrapperspb.BytesValue

// communicateMethod is the fully qualified RPC name routed by serviceDesc.
const communicateMethod = "/raftkv.Raft/Communicate"

// serviceDesc describes the single bidirectional-streaming RPC this package
// exposes, hand-built the way protoc-gen-go-grpc would render it, but
// without requiring a .proto compile step.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftkv.Raft",
	HandlerType: (*communicateServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Communicate",
			Handler:       communicateHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "rafttransport/service.go",
}

// communicateServer is the interface serviceDesc dispatches to.
type communicateServer interface {
	Communicate(Raft_CommunicateServer) error
}

func communicateHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(communicateServer).Communicate(&raftCommunicateServer{stream})
}

// Raft_CommunicateServer is the server-side view of the Communicate stream.
type Raft_CommunicateServer interface {
	Send(*wireMessage) error
	Recv() (*wireMessage, error)
	grpc.ServerStream
}

type raftCommunicateServer struct {
	grpc.ServerStream
}

func (x *raftCommunicateServer) Send(m *wireMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *raftCommunicateServer) Recv() (*wireMessage, error) {
	m := new(wireMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Raft_CommunicateClient is the client-side view of the Communicate stream.
type Raft_CommunicateClient interface {
	Send(*wireMessage) error
	Recv() (*wireMessage, error)
	grpc.ClientStream
}

type raftCommunicateClient struct {
	grpc.ClientStream
}

func (x *raftCommunicateClient) Send(m *wireMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *raftCommunicateClient) Recv() (*wireMessage, error) {
	m := new(wireMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func communicate(ctx context.Context, cc *grpc.ClientConn, opts ...grpc.CallOption) (Raft_CommunicateClient, error) {
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], communicateMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &raftCommunicateClient{stream}, nil
}
