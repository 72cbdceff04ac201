package client

import (
	"context"
	"errors"
	"fmt"

	"chorddht/internal/domain"
	"chorddht/internal/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrTimeout       = errors.New("client: RPC timed out, no response from remote node")
	ErrNoPredecessor = errors.New("client: remote node has no predecessor")
)

// wrapTimeout normalizes both a local context deadline and a remote
// status.DeadlineExceeded (the client-side context expiring mid-call
// surfaces as the former; the RPC itself timing out on the far end, or
// this node's own FindSuccessor retry loop giving up, surfaces as the
// latter — grpc-go wraps the remote case in a status error that does
// not satisfy errors.Is against the raw context sentinel) to ErrTimeout.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.DeadlineExceeded {
		return ErrTimeout
	}
	return err
}

// FindSuccessor asks cli's node to resolve target, continuing the
// iterative/recursive lookup on its side per spec.md §4.4.
func FindSuccessor(ctx context.Context, cli rpc.DHTClient, target domain.ID) (*domain.Node, error) {
	reply, err := cli.FindSuccessor(ctx, &rpc.FindSuccessorRequest{Target: target})
	if err != nil {
		return nil, wrapTimeout(fmt.Errorf("FindSuccessor RPC failed: %w", err))
	}
	return reply.Node, nil
}

// GetPredecessor fetches cli's node's predecessor. A NotFound status
// means the remote node has no predecessor set yet.
func GetPredecessor(ctx context.Context, cli rpc.DHTClient) (*domain.Node, error) {
	reply, err := cli.GetPredecessor(ctx, &rpc.Empty{})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, ErrNoPredecessor
		}
		return nil, wrapTimeout(fmt.Errorf("GetPredecessor RPC failed: %w", err))
	}
	return reply.Node, nil
}

// GetSuccessorList fetches cli's node's successor list.
func GetSuccessorList(ctx context.Context, cli rpc.DHTClient) ([]*domain.Node, error) {
	reply, err := cli.GetSuccessorList(ctx, &rpc.Empty{})
	if err != nil {
		return nil, wrapTimeout(fmt.Errorf("GetSuccessorList RPC failed: %w", err))
	}
	return reply.Successors, nil
}

// Notify informs cli's node that self might be its predecessor.
func Notify(ctx context.Context, cli rpc.DHTClient, self *domain.Node) error {
	_, err := cli.Notify(ctx, &rpc.NotifyRequest{Self: self})
	return wrapTimeout(err)
}

// Ping checks whether cli's node is alive.
func Ping(ctx context.Context, cli rpc.DHTClient) error {
	_, err := cli.Ping(ctx, &rpc.Empty{})
	return wrapTimeout(err)
}

// RetrieveRemote fetches the resource stored under id at cli's node.
// slot selects the primary store (rpc.PrimarySlot) or a replica slot,
// per spec.md §4.5's GET fallback.
func RetrieveRemote(ctx context.Context, cli rpc.DHTClient, id domain.ID, slot int) (*domain.Resource, error) {
	reply, err := cli.Get(ctx, &rpc.GetRequest{Key: id, Slot: slot})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, domain.ErrResourceNotFound
		}
		return nil, wrapTimeout(fmt.Errorf("Get RPC failed: %w", err))
	}
	return reply.Resource, nil
}

// StoreRemote pushes a batch of resources to cli's node. slot selects
// the primary store (rpc.PrimarySlot, used for forwarding a client
// Put, join handoff, and ownership repair) or a replica slot (the
// REPLICATE message of spec.md §4.5). It returns the subset the
// remote node rejected (primary writes only; replica writes are
// always accepted).
func StoreRemote(ctx context.Context, cli rpc.DHTClient, resources []domain.Resource, slot int) ([]domain.Resource, error) {
	reply, err := cli.Store(ctx, &rpc.StoreRequest{Resources: resources, Slot: slot})
	if err != nil {
		return nil, wrapTimeout(fmt.Errorf("Store RPC failed: %w", err))
	}
	return reply.Failed, nil
}

// RemoveRemote deletes the resource stored under id at cli's node.
// slot selects the primary store (rpc.PrimarySlot) or a replica slot
// (propagating a primary delete to the owner's replica holders).
func RemoveRemote(ctx context.Context, cli rpc.DHTClient, id domain.ID, slot int) error {
	_, err := cli.Delete(ctx, &rpc.DeleteRequest{Key: id, Slot: slot})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return domain.ErrResourceNotFound
		}
		return wrapTimeout(fmt.Errorf("Delete RPC failed: %w", err))
	}
	return nil
}

// Leave informs cli's node that self is leaving the ring gracefully.
func Leave(ctx context.Context, cli rpc.DHTClient, self *domain.Node) error {
	_, err := cli.Leave(ctx, &rpc.LeaveRequest{Self: self})
	return wrapTimeout(err)
}
