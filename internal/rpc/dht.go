package rpc

import (
	"context"

	"chorddht/internal/domain"

	"google.golang.org/grpc"
)

// Messages exchanged between Chord nodes. Each corresponds to one
// logical message from spec.md's transport table (FIND_SUCCESSOR,
// GET_PREDECESSOR, NOTIFY, GET_SUCCESSOR_LIST, PING, GET, PUT,
// REPLICATE, HANDOFF). REPLICATE and HANDOFF both ride the Store
// RPC (a batch of resources, possibly partially rejected), mirroring
// the teacher's transferResourcesAsync pattern used for both handoff
// and periodic replication.

// PrimarySlot marks a GetRequest/StoreRequest as addressing a node's
// primary store rather than one of its replica slots.
const PrimarySlot = -1

type Empty struct{}

type FindSuccessorRequest struct {
	Target domain.ID
}

type NodeReply struct {
	Node *domain.Node
}

type SuccessorListReply struct {
	Successors []*domain.Node
}

type NotifyRequest struct {
	Self *domain.Node
}

// GetRequest addresses either the primary store (Slot == PrimarySlot)
// or replica slot Slot (spec.md §4.5's GET fallback reads replicas[0]
// of the owner's immediate successor when the owner is unreachable).
type GetRequest struct {
	Key  domain.ID
	Slot int
}

type ResourceReply struct {
	Resource *domain.Resource
}

// StoreRequest addresses either the primary store (Slot == PrimarySlot,
// used for client PUTs, join handoff, and ownership repair) or replica
// slot Slot (the REPLICATE message of spec.md §4.5).
type StoreRequest struct {
	Resources []domain.Resource
	Slot      int
}

// StoreReply carries the subset of Resources that this node rejected
// (e.g. it no longer owns that key). An empty Failed means the whole
// batch was accepted.
type StoreReply struct {
	Failed []domain.Resource
}

// DeleteRequest addresses either the primary store (Slot ==
// PrimarySlot) or a replica slot — REPLICATE's delete counterpart,
// keeping a node's replica chain consistent once a key is removed
// from its owner.
type DeleteRequest struct {
	Key  domain.ID
	Slot int
}

type LeaveRequest struct {
	Self *domain.Node
}

// DHTServer is implemented by internal/server to handle node-to-node
// RPCs. Every method receives a context carrying the caller's
// deadline/cancellation, propagated across hops.
type DHTServer interface {
	FindSuccessor(ctx context.Context, req *FindSuccessorRequest) (*NodeReply, error)
	GetPredecessor(ctx context.Context, req *Empty) (*NodeReply, error)
	GetSuccessorList(ctx context.Context, req *Empty) (*SuccessorListReply, error)
	Notify(ctx context.Context, req *NotifyRequest) (*Empty, error)
	Ping(ctx context.Context, req *Empty) (*Empty, error)
	Get(ctx context.Context, req *GetRequest) (*ResourceReply, error)
	Store(ctx context.Context, req *StoreRequest) (*StoreReply, error)
	Delete(ctx context.Context, req *DeleteRequest) (*Empty, error)
	Leave(ctx context.Context, req *LeaveRequest) (*Empty, error)
}

const dhtServiceName = "chorddht.DHTService"

// RegisterDHTServer attaches srv's methods to a grpc.ServiceRegistrar
// (typically a *grpc.Server) under the DHTService descriptor below.
func RegisterDHTServer(s grpc.ServiceRegistrar, srv DHTServer) {
	s.RegisterService(&dhtServiceDesc, srv)
}

func dhtHandler[Req any, Resp any](
	call func(DHTServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DHTServer), ctx, req)
		}
		fullMethod, _ := grpc.Method(ctx)
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DHTServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var dhtServiceDesc = grpc.ServiceDesc{
	ServiceName: dhtServiceName,
	HandlerType: (*DHTServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindSuccessor", Handler: dhtHandler(DHTServer.FindSuccessor)},
		{MethodName: "GetPredecessor", Handler: dhtHandler(DHTServer.GetPredecessor)},
		{MethodName: "GetSuccessorList", Handler: dhtHandler(DHTServer.GetSuccessorList)},
		{MethodName: "Notify", Handler: dhtHandler(DHTServer.Notify)},
		{MethodName: "Ping", Handler: dhtHandler(DHTServer.Ping)},
		{MethodName: "Get", Handler: dhtHandler(DHTServer.Get)},
		{MethodName: "Store", Handler: dhtHandler(DHTServer.Store)},
		{MethodName: "Delete", Handler: dhtHandler(DHTServer.Delete)},
		{MethodName: "Leave", Handler: dhtHandler(DHTServer.Leave)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chorddht/dht.proto",
}

// DHTClient is a thin typed wrapper over a grpc.ClientConnInterface,
// invoking each DHTService method by name with the gob codec selected.
type DHTClient struct {
	cc grpc.ClientConnInterface
}

func NewDHTClient(cc grpc.ClientConnInterface) DHTClient {
	return DHTClient{cc: cc}
}

func (c DHTClient) invoke(ctx context.Context, method string, req, reply any) error {
	return c.cc.Invoke(ctx, "/"+dhtServiceName+"/"+method, req, reply, grpc.CallContentSubtype(CodecName))
}

func (c DHTClient) FindSuccessor(ctx context.Context, req *FindSuccessorRequest) (*NodeReply, error) {
	reply := new(NodeReply)
	if err := c.invoke(ctx, "FindSuccessor", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) GetPredecessor(ctx context.Context, req *Empty) (*NodeReply, error) {
	reply := new(NodeReply)
	if err := c.invoke(ctx, "GetPredecessor", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) GetSuccessorList(ctx context.Context, req *Empty) (*SuccessorListReply, error) {
	reply := new(SuccessorListReply)
	if err := c.invoke(ctx, "GetSuccessorList", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Notify(ctx context.Context, req *NotifyRequest) (*Empty, error) {
	reply := new(Empty)
	if err := c.invoke(ctx, "Notify", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Ping(ctx context.Context, req *Empty) (*Empty, error) {
	reply := new(Empty)
	if err := c.invoke(ctx, "Ping", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Get(ctx context.Context, req *GetRequest) (*ResourceReply, error) {
	reply := new(ResourceReply)
	if err := c.invoke(ctx, "Get", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Store(ctx context.Context, req *StoreRequest) (*StoreReply, error) {
	reply := new(StoreReply)
	if err := c.invoke(ctx, "Store", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Delete(ctx context.Context, req *DeleteRequest) (*Empty, error) {
	reply := new(Empty)
	if err := c.invoke(ctx, "Delete", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c DHTClient) Leave(ctx context.Context, req *LeaveRequest) (*Empty, error) {
	reply := new(Empty)
	if err := c.invoke(ctx, "Leave", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
