package server

import (
	"context"
	"errors"

	"chorddht/internal/ctxutil"
	"chorddht/internal/domain"
	"chorddht/internal/node"
	"chorddht/internal/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// dhtService implements rpc.DHTServer, the node-to-node RPCs of the
// Chord protocol. It provides RPC handlers for node-to-node
// communication in the DHT.
type dhtService struct {
	node *node.Node
}

// NewDHTService creates a new DHT service bound to the given node.
func NewDHTService(n *node.Node) rpc.DHTServer {
	return &dhtService{node: n}
}

func (s *dhtService) FindSuccessor(ctx context.Context, req *rpc.FindSuccessorRequest) (*rpc.NodeReply, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil || len(req.Target) == 0 {
		return nil, status.Error(codes.InvalidArgument, "missing target")
	}
	succ, err := s.node.FindSuccessor(ctx, req.Target)
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return nil, err
		}
		return nil, status.Errorf(codes.Internal, "FindSuccessor failed: %v", err)
	}
	if succ == nil {
		return nil, status.Error(codes.NotFound, "successor not found")
	}
	return &rpc.NodeReply{Node: succ}, nil
}

func (s *dhtService) GetPredecessor(ctx context.Context, _ *rpc.Empty) (*rpc.NodeReply, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	pred := s.node.Predecessor()
	if pred == nil {
		return nil, status.Error(codes.NotFound, "no predecessor set")
	}
	return &rpc.NodeReply{Node: pred}, nil
}

func (s *dhtService) GetSuccessorList(ctx context.Context, _ *rpc.Empty) (*rpc.SuccessorListReply, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	return &rpc.SuccessorListReply{Successors: s.node.SuccessorList()}, nil
}

func (s *dhtService) Notify(ctx context.Context, req *rpc.NotifyRequest) (*rpc.Empty, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil || req.Self == nil {
		return nil, status.Error(codes.InvalidArgument, "missing self")
	}
	s.node.Notify(req.Self)
	return &rpc.Empty{}, nil
}

func (s *dhtService) Ping(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

// Get serves both a primary-store read (req.Slot == rpc.PrimarySlot)
// and a replica-slot read (the GET fallback of spec.md §4.5, used when
// a caller's owner lookup failed and it retries against a replica
// holder).
func (s *dhtService) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.ResourceReply, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil || len(req.Key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}

	var res domain.Resource
	var err error
	if req.Slot == rpc.PrimarySlot {
		res, err = s.node.RetrieveLocal(req.Key)
	} else {
		res, err = s.node.RetrieveReplica(req.Slot, req.Key)
	}
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, status.Error(codes.NotFound, "key not found")
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.ResourceReply{Resource: &res}, nil
}

// Store handles direct key placement, the predecessor-handoff /
// ownership-repair batch path (req.Slot == rpc.PrimarySlot), and the
// REPLICATE batch path (req.Slot >= 0, spec.md §4.5): every resource
// in req.Resources is attempted independently and, for primary
// writes, rejected resources (no longer owned by this node) come back
// in StoreReply.Failed rather than failing the whole call. Replica
// writes skip the ownership check; only a slot outside the replica
// range makes them fail (InvalidArgument).
func (s *dhtService) Store(ctx context.Context, req *rpc.StoreRequest) (*rpc.StoreReply, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "missing request")
	}
	if req.Slot != rpc.PrimarySlot {
		if err := s.node.StoreReplica(req.Slot, req.Resources); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return &rpc.StoreReply{}, nil
	}
	var failed []domain.Resource
	for _, res := range req.Resources {
		if err := s.node.StoreLocal(ctx, res); err != nil {
			failed = append(failed, res)
		}
	}
	return &rpc.StoreReply{Failed: failed}, nil
}

// Delete handles the primary-store delete (req.Slot == rpc.PrimarySlot)
// and the REPLICATE delete counterpart (req.Slot >= 0): propagating a
// primary delete to a replica holder's slot, keeping the replica chain
// consistent with the owner (spec.md §4.5).
func (s *dhtService) Delete(ctx context.Context, req *rpc.DeleteRequest) (*rpc.Empty, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil || len(req.Key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "missing key")
	}
	if req.Slot != rpc.PrimarySlot {
		if err := s.node.RemoveReplica(req.Slot, req.Key); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return &rpc.Empty{}, nil
	}
	if err := s.node.RemoveLocal(req.Key); err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, status.Error(codes.NotFound, "key not found")
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.Empty{}, nil
}

func (s *dhtService) Leave(ctx context.Context, req *rpc.LeaveRequest) (*rpc.Empty, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if req == nil || req.Self == nil {
		return nil, status.Error(codes.InvalidArgument, "missing self")
	}
	if err := s.node.HandleLeave(req.Self); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.Empty{}, nil
}
