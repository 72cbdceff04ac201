package node

import (
	"chorddht/internal/client"
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	"chorddht/internal/storage"
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
)

// StoreReplica writes resources into replica slot j, bypassing the
// ownership check StoreLocal performs for the primary store: the
// sender (the owning node, j hops back on the ring) is trusted to
// have computed the right slot.
func (n *Node) StoreReplica(j int, resources []domain.Resource) error {
	n.replicasMu.RLock()
	defer n.replicasMu.RUnlock()
	if j < 0 || j >= len(n.replicas) {
		return fmt.Errorf("store replica: slot %d out of range [0,%d)", j, len(n.replicas))
	}
	for _, res := range resources {
		n.replicas[j].Put(res)
	}
	return nil
}

// RetrieveReplica fetches id from replica slot j. Used by GET's
// unreachable-owner fallback (spec.md §4.5).
func (n *Node) RetrieveReplica(j int, id domain.ID) (domain.Resource, error) {
	n.replicasMu.RLock()
	defer n.replicasMu.RUnlock()
	if j < 0 || j >= len(n.replicas) {
		return domain.Resource{}, fmt.Errorf("retrieve replica: slot %d out of range [0,%d)", j, len(n.replicas))
	}
	return n.replicas[j].Get(id)
}

// RemoveReplica deletes id from replica slot j, keeping that slot
// consistent with a delete the owner already applied to its primary
// store. Unlike StoreReplica/RetrieveReplica's callers, a missing key
// here is not an error: the replica push that would have put it there
// may simply not have landed yet.
func (n *Node) RemoveReplica(j int, id domain.ID) error {
	n.replicasMu.RLock()
	defer n.replicasMu.RUnlock()
	if j < 0 || j >= len(n.replicas) {
		return fmt.Errorf("remove replica: slot %d out of range [0,%d)", j, len(n.replicas))
	}
	if err := n.replicas[j].Delete(id); err != nil && !errors.Is(err, domain.ErrResourceNotFound) {
		return err
	}
	return nil
}

// replicateToSuccessors asynchronously pushes res to each of this
// node's r successors as replica slot i, per spec.md §4.5's PUT rule:
// "Owner writes to primary[k]=v, then asynchronously issues
// REPLICATE(j=position, batch=[(k,v)])". Best-effort: a failed push
// is logged and left for the next replicateAll reconciliation pass
// rather than retried here.
func (n *Node) replicateToSuccessors(res domain.Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()

	self := n.rt.Self()
	for i := 0; i < n.rt.SuccListSize(); i++ {
		succ := n.rt.GetSuccessor(i)
		if succ == nil || succ.ID.Equal(self.ID) {
			continue
		}
		cli, err := n.cp.GetFromPool(succ.Addr)
		if err != nil {
			n.lgr.Warn("replicateToSuccessors: no pooled connection, will retry on next reconciliation pass",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err))
			continue
		}
		if _, err := client.StoreRemote(ctx, cli, []domain.Resource{res}, i); err != nil {
			n.lgr.Warn("replicateToSuccessors: REPLICATE failed, will retry on next reconciliation pass",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err))
		}
	}
}

// deleteFromSuccessors asynchronously propagates a primary-store
// delete to each of this node's r successors' replica slot i, keeping
// the replica chain consistent with a key RemoveLocal just removed —
// the delete-side counterpart of replicateToSuccessors. Best-effort,
// same as the write path: a failed delete leaves a stale replica
// entry that getReplicaFallback could still briefly serve, accepted
// here the same way a stale replicated write would be.
func (n *Node) deleteFromSuccessors(id domain.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()

	self := n.rt.Self()
	for i := 0; i < n.rt.SuccListSize(); i++ {
		succ := n.rt.GetSuccessor(i)
		if succ == nil || succ.ID.Equal(self.ID) {
			continue
		}
		cli, err := n.cp.GetFromPool(succ.Addr)
		if err != nil {
			n.lgr.Warn("deleteFromSuccessors: no pooled connection, replica may go stale",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err))
			continue
		}
		if err := client.RemoveRemote(ctx, cli, id, i); err != nil {
			n.lgr.Warn("deleteFromSuccessors: replica delete failed, replica may go stale",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err))
		}
	}
}

// replicateAll reconciles the full replica chain by re-pushing every
// primary-owned resource to each successor as a fresh REPLICATE
// batch. It covers spec.md §4.5's "on successor change" rule (a
// membership change shifts who holds which replica slot) as a
// periodic pass rather than a change-triggered hook, trading some
// redundant traffic for much simpler wiring. Invoked from the storage
// maintenance ticker in worker.go.
func (n *Node) replicateAll(ctx context.Context) {
	resources := n.s.All()
	if len(resources) == 0 {
		return
	}
	self := n.rt.Self()
	for i := 0; i < n.rt.SuccListSize(); i++ {
		succ := n.rt.GetSuccessor(i)
		if succ == nil || succ.ID.Equal(self.ID) {
			continue
		}
		cli, err := n.cp.GetFromPool(succ.Addr)
		if err != nil {
			n.lgr.Warn("replicateAll: no pooled connection, skipping this tick",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err))
			continue
		}
		if _, err := client.StoreRemote(ctx, cli, resources, i); err != nil {
			n.lgr.Warn("replicateAll: REPLICATE batch failed, will retry next tick",
				logger.F("slot", i), logger.FNode("successor", succ), logger.F("err", err), logger.F("count", len(resources)))
		}
	}
}

// promoteReplicas implements spec.md §4.5's predecessor-failure rule:
// replicas[0] (the failed predecessor's keys, now orphaned) is merged
// into primary, the replica chain shifts up one slot, and the newly
// owned keys are re-pushed to this node's own successors as fresh
// replicas. Called from checkPredecessor when a ping to the
// predecessor fails.
func (n *Node) promoteReplicas() {
	n.replicasMu.Lock()
	promoted := n.replicas[0].All()
	copy(n.replicas, n.replicas[1:])
	last := len(n.replicas) - 1
	n.replicas[last] = storage.NewMemoryStorage(n.lgr.Named("replica").With(logger.F("slot", last)))
	n.replicasMu.Unlock()

	if len(promoted) == 0 {
		return
	}
	for _, res := range promoted {
		n.s.Put(res)
		go n.replicateToSuccessors(res)
	}
	n.lgr.Info("promoteReplicas: promoted replica slot 0 into primary after predecessor failure",
		logger.F("count", len(promoted)))
}

// getReplicaFallback implements spec.md §4.5's GET fallback for an
// unreachable owner: retry against the owner's own immediate
// successor, reading from its replicas[0] slot rather than primary.
// This only covers the common case where owner is this node's own
// first successor (fixSuccessorList keeps successors[1] equal to the
// owner's own successors[0], so the replica holder is directly
// addressable); read-repair of the primary store is out of scope.
func (n *Node) getReplicaFallback(ctx context.Context, owner *domain.Node, id domain.ID) (*domain.Resource, error) {
	first := n.rt.FirstSuccessor()
	if first == nil || !first.ID.Equal(owner.ID) {
		return nil, fmt.Errorf("get: no known replica holder for unreachable owner %s", owner.Addr)
	}
	holder := n.rt.GetSuccessor(1)
	if holder == nil || holder.ID.Equal(owner.ID) {
		return nil, fmt.Errorf("get: no replica holder known for unreachable owner %s", owner.Addr)
	}

	var econn *grpc.ClientConn
	cli, err := n.cp.GetFromPool(holder.Addr)
	if err != nil {
		cli, econn, err = n.cp.DialEphemeral(holder.Addr)
		if err != nil {
			return nil, fmt.Errorf("get: replica holder %s unreachable: %w", holder.Addr, err)
		}
		defer econn.Close()
	}
	return client.RetrieveRemote(ctx, cli, id, 0)
}
