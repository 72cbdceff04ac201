package rpc

import (
	"context"

	"chorddht/internal/domain"

	"google.golang.org/grpc"
)

// Messages for the admin/client-facing surface (spec.md §6: join,
// create, leave, put, get, lookup, info). Keys travel as raw strings;
// the node hashes them into the identifier space itself, so RawKey is
// never lost for logging.

type PutRequest struct {
	Key   string
	Value string
}

type GetByKeyRequest struct {
	Key string
}

type DeleteByKeyRequest struct {
	Key string
}

type LookupRequest struct {
	Key string
}

type JoinRequest struct {
	BootstrapAddr string
}

type CreateRequest struct{}

type ValueReply struct {
	Value string
}

type InfoReply struct {
	Self          *domain.Node
	Predecessor   *domain.Node
	Successors    []*domain.Node
	FingersSet    int
	ResourceCount int
}

type RoutingTableReply struct {
	Self        *domain.Node
	Predecessor *domain.Node
	Successors  []*domain.Node
	Fingers     []*domain.Node
}

type StoreSnapshotReply struct {
	Resources []domain.Resource
}

// AdminServer is implemented by internal/server and invoked by
// cmd/client's interactive shell.
type AdminServer interface {
	Join(ctx context.Context, req *JoinRequest) (*Empty, error)
	Create(ctx context.Context, req *CreateRequest) (*Empty, error)
	Leave(ctx context.Context, req *Empty) (*Empty, error)
	Put(ctx context.Context, req *PutRequest) (*Empty, error)
	Get(ctx context.Context, req *GetByKeyRequest) (*ValueReply, error)
	Delete(ctx context.Context, req *DeleteByKeyRequest) (*Empty, error)
	Lookup(ctx context.Context, req *LookupRequest) (*NodeReply, error)
	Info(ctx context.Context, req *Empty) (*InfoReply, error)
	GetRoutingTable(ctx context.Context, req *Empty) (*RoutingTableReply, error)
	GetStore(ctx context.Context, req *Empty) (*StoreSnapshotReply, error)
}

const adminServiceName = "chorddht.AdminService"

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

func adminHandler[Req any, Resp any](
	call func(AdminServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, req)
		}
		fullMethod, _ := grpc.Method(ctx)
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: adminHandler(AdminServer.Join)},
		{MethodName: "Create", Handler: adminHandler(AdminServer.Create)},
		{MethodName: "Leave", Handler: adminHandler(AdminServer.Leave)},
		{MethodName: "Put", Handler: adminHandler(AdminServer.Put)},
		{MethodName: "Get", Handler: adminHandler(AdminServer.Get)},
		{MethodName: "Delete", Handler: adminHandler(AdminServer.Delete)},
		{MethodName: "Lookup", Handler: adminHandler(AdminServer.Lookup)},
		{MethodName: "Info", Handler: adminHandler(AdminServer.Info)},
		{MethodName: "GetRoutingTable", Handler: adminHandler(AdminServer.GetRoutingTable)},
		{MethodName: "GetStore", Handler: adminHandler(AdminServer.GetStore)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chorddht/admin.proto",
}

// AdminClient is a thin typed wrapper over a grpc.ClientConnInterface
// for the admin surface, used by cmd/client.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return AdminClient{cc: cc}
}

func (c AdminClient) invoke(ctx context.Context, method string, req, reply any) error {
	return c.cc.Invoke(ctx, "/"+adminServiceName+"/"+method, req, reply, grpc.CallContentSubtype(CodecName))
}

func (c AdminClient) Join(ctx context.Context, req *JoinRequest) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "Join", req, reply)
}

func (c AdminClient) Create(ctx context.Context, req *CreateRequest) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "Create", req, reply)
}

func (c AdminClient) Leave(ctx context.Context, req *Empty) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "Leave", req, reply)
}

func (c AdminClient) Put(ctx context.Context, req *PutRequest) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "Put", req, reply)
}

func (c AdminClient) Get(ctx context.Context, req *GetByKeyRequest) (*ValueReply, error) {
	reply := new(ValueReply)
	return reply, c.invoke(ctx, "Get", req, reply)
}

func (c AdminClient) Delete(ctx context.Context, req *DeleteByKeyRequest) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "Delete", req, reply)
}

func (c AdminClient) Lookup(ctx context.Context, req *LookupRequest) (*NodeReply, error) {
	reply := new(NodeReply)
	return reply, c.invoke(ctx, "Lookup", req, reply)
}

func (c AdminClient) Info(ctx context.Context, req *Empty) (*InfoReply, error) {
	reply := new(InfoReply)
	return reply, c.invoke(ctx, "Info", req, reply)
}

func (c AdminClient) GetRoutingTable(ctx context.Context, req *Empty) (*RoutingTableReply, error) {
	reply := new(RoutingTableReply)
	return reply, c.invoke(ctx, "GetRoutingTable", req, reply)
}

func (c AdminClient) GetStore(ctx context.Context, req *Empty) (*StoreSnapshotReply, error) {
	reply := new(StoreSnapshotReply)
	return reply, c.invoke(ctx, "GetStore", req, reply)
}
