package rafttransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/btmorr/raftkv/internal/raft"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Transport is the gRPC-backed implementation of raft.Transport. Each peer
// gets its own outbound Communicate stream, dialed lazily and reused; the
// server side decodes every inbound frame onto a single receive channel.
type Transport struct {
	selfID string
	peers  map[string]string // peer id -> dial address ("host:port")

	recv chan raft.Message

	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	clients map[string]Raft_CommunicateClient
}

// New constructs a Transport for selfID, dialing peers by id as needed.
func New(selfID string, peers map[string]string) *Transport {
	return &Transport{
		selfID:  selfID,
		peers:   peers,
		recv:    make(chan raft.Message, 256),
		conns:   make(map[string]*grpc.ClientConn),
		clients: make(map[string]Raft_CommunicateClient),
	}
}

// Receiver implements raft.Transport.
func (t *Transport) Receiver() <-chan raft.Message { return t.recv }

// Send implements raft.Transport: it encodes msg and writes it to the
// peer's outbound stream, dialing on first use.
func (t *Transport) Send(msg raft.Message) error {
	client, err := t.clientFor(msg.To)
	if err != nil {
		return err
	}
	return client.Send(wrapperspb.Bytes(raft.EncodeMessage(msg)))
}

func (t *Transport) clientFor(peer string) (Raft_CommunicateClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[peer]; ok {
		return c, nil
	}
	addr, ok := t.peers[peer]
	if !ok {
		return nil, fmt.Errorf("rafttransport: unknown peer %q", peer)
	}

	conn, err := grpc.DialContext(context.Background(), addr, grpc.WithInsecure())
	if err != nil {
		log.Error().Err(err).Str("peer", peer).Msg("rafttransport: dial failed")
		return nil, err
	}
	stream, err := communicate(context.Background(), conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.conns[peer] = conn
	t.clients[peer] = stream
	return stream, nil
}

// Communicate implements the server side of the Raft service: every frame
// received on the stream is decoded and pushed onto the receive channel,
// for as long as the peer keeps the stream open.
func (t *Transport) Communicate(stream Raft_CommunicateServer) error {
	for {
		in, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		msg, err := raft.DecodeMessage(in.GetValue())
		if err != nil {
			log.Warn().Err(err).Msg("rafttransport: dropping undecodable message")
			continue
		}
		t.recv <- msg
	}
}

// Serve registers this Transport on a new gRPC server bound to lis and
// starts serving in the background.
func (t *Transport) Serve(lis net.Listener) *grpc.Server {
	s := grpc.NewServer()
	s.RegisterService(&serviceDesc, t)
	go func() {
		if err := s.Serve(lis); err != nil {
			log.Error().Err(err).Msg("rafttransport: server stopped")
		}
	}()
	return s
}

// Close tears down every outbound connection and closes the receive
// channel. The Driver consuming Receiver() must have stopped first.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(t.recv)
	return firstErr
}
