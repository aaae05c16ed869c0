// Package grpctransport is a gRPC-backed election.MessageTransport: a
// dial-on-demand client cache keyed by peer member id, and a
// listen/Serve/GracefulStop server lifecycle. No protoc-generated stub
// is available for this service, so the wire envelope is a
// hand-registered grpc.ServiceDesc carrying a gob-encoded
// election.Message inside a wrapperspb.BytesValue — a ready-made
// proto.Message, not a fabricated generated stub.
package grpctransport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vzdtic/clusterelect/pkg/election"
)

const fullMethodSend = "/clusterelect.ElectionTransport/Send"

// electionTransportServer is the hand-rolled server interface the
// ServiceDesc below dispatches to, in place of a protoc-generated one.
type electionTransportServer interface {
	Send(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(electionTransportServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodSend}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(electionTransportServer).Send(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "clusterelect.ElectionTransport",
	HandlerType: (*electionTransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clusterelect/election.proto",
}

// electionTransportClient is the hand-rolled client stub dialing the
// ServiceDesc above, in the same shape grpc.ClientConn.Invoke expects from
// a generated one.
type electionTransportClient struct {
	cc *grpc.ClientConn
}

func (c *electionTransportClient) Send(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fullMethodSend, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Transport is a gRPC election.MessageTransport for one cluster member. It
// dials peers lazily and caches the connections.
type Transport struct {
	self      int32
	localAddr string
	peerAddrs map[int32]string
	timeout   time.Duration

	mu      sync.RWMutex
	conns   map[int32]*grpc.ClientConn
	clients map[int32]*electionTransportClient

	server   *grpc.Server
	listener net.Listener

	inboxMu sync.Mutex
	inbox   []election.Message
}

// New builds a Transport for self, listening at localAddr once Start is
// called and dialing peerAddrs on first send to each.
func New(self int32, localAddr string, peerAddrs map[int32]string) *Transport {
	return &Transport{
		self:      self,
		localAddr: localAddr,
		peerAddrs: peerAddrs,
		timeout:   5 * time.Second,
		conns:     make(map[int32]*grpc.ClientConn),
		clients:   make(map[int32]*electionTransportClient),
	}
}

// Start begins serving incoming Send RPCs in the background.
func (t *Transport) Start() error {
	listener, err := net.Listen("tcp", t.localAddr)
	if err != nil {
		return fmt.Errorf("grpctransport: listen: %w", err)
	}
	t.listener = listener

	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, t)

	go func() {
		if err := t.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			fmt.Printf("grpctransport: server error: %v\n", err)
		}
	}()
	return nil
}

// Stop closes every outbound connection and gracefully stops the server.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
	if t.listener != nil {
		t.listener.Close()
	}
}

func (t *Transport) client(to int32) (*electionTransportClient, error) {
	t.mu.RLock()
	if c, ok := t.clients[to]; ok {
		t.mu.RUnlock()
		return c, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[to]; ok {
		return c, nil
	}

	addr, ok := t.peerAddrs[to]
	if !ok {
		return nil, fmt.Errorf("grpctransport: unknown peer %d", to)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
	}
	c := &electionTransportClient{cc: conn}
	t.conns[to] = conn
	t.clients[to] = c
	return c, nil
}

func encodeMessage(msg election.Message) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("grpctransport: encode message: %w", err)
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func decodeMessage(b *wrapperspb.BytesValue) (election.Message, error) {
	var msg election.Message
	if b == nil {
		return msg, fmt.Errorf("grpctransport: nil envelope")
	}
	if err := gob.NewDecoder(bytes.NewReader(b.GetValue())).Decode(&msg); err != nil {
		return msg, fmt.Errorf("grpctransport: decode message: %w", err)
	}
	return msg, nil
}

// Poll drains messages delivered to this member's Send handler since the
// last call.
func (t *Transport) Poll() []election.Message {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	out := t.inbox
	t.inbox = nil
	return out
}

// SendTo delivers msg to a single peer by member id, per
// election.MessageTransport. A failed dial or RPC returns false, letting
// the FSM retry on a later tick (via its ballot-sent flags, or by
// resending AppendedPosition), the same as a saturated send buffer would.
func (t *Transport) SendTo(to int32, msg election.Message) bool {
	client, err := t.client(to)
	if err != nil {
		return false
	}
	envelope, err := encodeMessage(msg)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	_, err = client.Send(ctx, envelope)
	return err == nil
}

// Broadcast delivers msg to every known peer, best-effort.
func (t *Transport) Broadcast(msg election.Message) {
	for to := range t.peerAddrs {
		t.SendTo(to, msg)
	}
}

// Send is the server-side RPC handler: it decodes the envelope and queues
// the message for the next Poll.
func (t *Transport) Send(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	msg, err := decodeMessage(in)
	if err != nil {
		return nil, err
	}
	t.inboxMu.Lock()
	t.inbox = append(t.inbox, msg)
	t.inboxMu.Unlock()
	return wrapperspb.Bytes(nil), nil
}
