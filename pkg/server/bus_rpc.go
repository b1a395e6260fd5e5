package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/status"

	"clustermgr/pkg/bus"
)

// Bus message types of the generic RPC binding.
const (
	msgRPCRequest = "rpcRequest"
	msgRPCReply   = "rpcReply"
)

// RPCTopic is where the master of clusterName takes bus RPC requests.
func RPCTopic(clusterName string) string { return "rpc." + clusterName }

type rpcRequest struct {
	CorrID  string          `json:"corr_id"`
	Method  string          `json:"method"`
	Args    json.RawMessage `json:"args,omitempty"`
	ReplyTo string          `json:"reply_to"`
}

type rpcReply struct {
	CorrID string          `json:"corr_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BusRPCServer answers ClusterManager calls arriving on the bus.
type BusRPCServer struct {
	bus   bus.Bus
	srv   ClusterManagerServer
	topic string
	log   hclog.Logger

	mu  sync.Mutex
	sub bus.Subscription
}

func NewBusRPCServer(b bus.Bus, srv ClusterManagerServer, clusterName string, logger hclog.Logger) *BusRPCServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BusRPCServer{bus: b, srv: srv, topic: RPCTopic(clusterName), log: logger.Named("bus-rpc")}
}

// Start subscribes to the RPC topic.
func (s *BusRPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}
	sub, err := s.bus.Subscribe(ctx, []string{s.topic}, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.sub = sub
	s.log.Info("serving rpc", "topic", s.topic)
	return nil
}

// Stop unsubscribes from the RPC topic.
func (s *BusRPCServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.log.Warn("unsubscribe failed", "error", err)
	}
	s.sub = nil
}

func (s *BusRPCServer) handle(topic string, msg bus.Message) {
	if msg.Type != msgRPCRequest {
		return
	}
	var req rpcRequest
	if err := msg.Decode(&req); err != nil {
		s.log.Warn("bad rpc request", "error", err)
		return
	}
	if req.ReplyTo == "" {
		s.log.Warn("rpc request without reply topic", "method", req.Method)
		return
	}

	ctx := context.Background()
	reply := s.call(ctx, req)
	out, err := bus.NewMessage(msgRPCReply, reply)
	if err != nil {
		s.log.Error("encode rpc reply failed", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, req.ReplyTo, out); err != nil {
		s.log.Warn("publish rpc reply failed", "method", req.Method, "error", err)
	}
}

func (s *BusRPCServer) call(ctx context.Context, req rpcRequest) rpcReply {
	reply := rpcReply{CorrID: req.CorrID}
	m, ok := busMethods[req.Method]
	if !ok {
		reply.Error = fmt.Sprintf("unknown method %q", req.Method)
		return reply
	}
	result, err := m.invoke(ctx, s.srv, req.Args)
	if err != nil {
		reply.Error = status.Convert(err).Message()
		return reply
	}
	if reply.Result, err = json.Marshal(result); err != nil {
		reply.Error = fmt.Sprintf("encode result: %v", err)
	}
	return reply
}

// RemoteError is an error returned by the remote cluster manager.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// BusClient calls the master's ClusterManager operations over the bus.
type BusClient struct {
	bus     bus.Bus
	topic   string
	replyTo string
	sub     bus.Subscription

	mu      sync.Mutex
	pending map[string]chan rpcReply
}

// NewBusClient subscribes a private reply topic and returns a client for clusterName.
func NewBusClient(ctx context.Context, b bus.Bus, clusterName string) (*BusClient, error) {
	c := &BusClient{
		bus:     b,
		topic:   RPCTopic(clusterName),
		replyTo: "rpc.reply." + uuid.NewString(),
		pending: make(map[string]chan rpcReply),
	}
	sub, err := b.Subscribe(ctx, []string{c.replyTo}, c.onReply)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.replyTo, err)
	}
	c.sub = sub
	return c, nil
}

func (c *BusClient) onReply(topic string, msg bus.Message) {
	if msg.Type != msgRPCReply {
		return
	}
	var reply rpcReply
	if err := msg.Decode(&reply); err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[reply.CorrID]
	delete(c.pending, reply.CorrID)
	c.mu.Unlock()
	if ok {
		ch <- reply
	}
}

// Call invokes method (a bus method name such as "keepAlive") with args and
// decodes the result into result, which may be nil. It waits for ctx.
func (c *BusClient) Call(ctx context.Context, method string, args, result any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s arguments: %w", method, err)
	}
	req := rpcRequest{CorrID: uuid.NewString(), Method: method, Args: raw, ReplyTo: c.replyTo}

	ch := make(chan rpcReply, 1)
	c.mu.Lock()
	c.pending[req.CorrID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.CorrID)
		c.mu.Unlock()
	}()

	msg, err := bus.NewMessage(msgRPCRequest, req)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, c.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case reply := <-ch:
		if reply.Error != "" {
			return &RemoteError{Method: method, Message: reply.Error}
		}
		if result == nil || len(reply.Result) == 0 {
			return nil
		}
		return json.Unmarshal(reply.Result, result)
	}
}

// CallTimeout is Call bounded by timeout.
func (c *BusClient) CallTimeout(timeout time.Duration, method string, args, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Call(ctx, method, args, result)
}

// Close drops the reply subscription.
func (c *BusClient) Close() error {
	return c.sub.Unsubscribe()
}
