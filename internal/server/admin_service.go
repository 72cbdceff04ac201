package server

import (
	"context"
	"errors"

	"chorddht/internal/bootstrap"
	"chorddht/internal/domain"
	"chorddht/internal/node"
	"chorddht/internal/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// adminService implements rpc.AdminServer, the surface consumed by
// cmd/client's interactive shell (spec.md §6: join, create, leave,
// put, get, lookup, info).
type adminService struct {
	node *node.Node
}

// NewAdminService creates a new admin service bound to the given node.
func NewAdminService(n *node.Node) rpc.AdminServer {
	return &adminService{node: n}
}

func (s *adminService) Join(ctx context.Context, req *rpc.JoinRequest) (*rpc.Empty, error) {
	if req == nil || req.BootstrapAddr == "" {
		return nil, status.Error(codes.InvalidArgument, "missing bootstrap address")
	}
	peers, err := bootstrap.NewStaticBootstrap([]string{req.BootstrapAddr}).Discover(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "join: %v", err)
	}
	if err := s.node.Join(ctx, peers); err != nil {
		return nil, status.Errorf(codes.Internal, "join: %v", err)
	}
	return &rpc.Empty{}, nil
}

func (s *adminService) Create(ctx context.Context, _ *rpc.CreateRequest) (*rpc.Empty, error) {
	s.node.CreateNewDHT()
	return &rpc.Empty{}, nil
}

func (s *adminService) Leave(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if err := s.node.Leave(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "leave: %v", err)
	}
	return &rpc.Empty{}, nil
}

func (s *adminService) Put(ctx context.Context, req *rpc.PutRequest) (*rpc.Empty, error) {
	if req == nil || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}
	sp := s.node.Space()
	res := domain.Resource{
		Key:    sp.NewIdFromString(req.Key),
		RawKey: req.Key,
		Value:  req.Value,
	}
	if err := s.node.Put(ctx, res); err != nil {
		return nil, status.Errorf(codes.Internal, "put: %v", err)
	}
	return &rpc.Empty{}, nil
}

func (s *adminService) Get(ctx context.Context, req *rpc.GetByKeyRequest) (*rpc.ValueReply, error) {
	if req == nil || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}
	sp := s.node.Space()
	res, err := s.node.Get(ctx, sp.NewIdFromString(req.Key))
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, status.Error(codes.NotFound, "key not found")
		}
		return nil, status.Errorf(codes.Internal, "get: %v", err)
	}
	return &rpc.ValueReply{Value: res.Value}, nil
}

func (s *adminService) Delete(ctx context.Context, req *rpc.DeleteByKeyRequest) (*rpc.Empty, error) {
	if req == nil || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}
	sp := s.node.Space()
	if err := s.node.Delete(ctx, sp.NewIdFromString(req.Key)); err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, status.Error(codes.NotFound, "key not found")
		}
		return nil, status.Errorf(codes.Internal, "delete: %v", err)
	}
	return &rpc.Empty{}, nil
}

func (s *adminService) Lookup(ctx context.Context, req *rpc.LookupRequest) (*rpc.NodeReply, error) {
	if req == nil || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}
	sp := s.node.Space()
	owner, err := s.node.LookUp(ctx, sp.NewIdFromString(req.Key))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "lookup: %v", err)
	}
	return &rpc.NodeReply{Node: owner}, nil
}

func (s *adminService) Info(ctx context.Context, _ *rpc.Empty) (*rpc.InfoReply, error) {
	fingers := s.node.Fingers()
	set := 0
	for _, f := range fingers {
		if f != nil {
			set++
		}
	}
	return &rpc.InfoReply{
		Self:          s.node.Self(),
		Predecessor:   s.node.Predecessor(),
		Successors:    s.node.SuccessorList(),
		FingersSet:    set,
		ResourceCount: len(s.node.GetAllResourceStored()),
	}, nil
}

func (s *adminService) GetRoutingTable(ctx context.Context, _ *rpc.Empty) (*rpc.RoutingTableReply, error) {
	return &rpc.RoutingTableReply{
		Self:        s.node.Self(),
		Predecessor: s.node.Predecessor(),
		Successors:  s.node.SuccessorList(),
		Fingers:     s.node.Fingers(),
	}, nil
}

func (s *adminService) GetStore(ctx context.Context, _ *rpc.Empty) (*rpc.StoreSnapshotReply, error) {
	return &rpc.StoreSnapshotReply{Resources: s.node.GetAllResourceStored()}, nil
}
