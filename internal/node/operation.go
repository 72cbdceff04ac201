package node

import (
	"chorddht/internal/client"
	"chorddht/internal/ctxutil"
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	"chorddht/internal/rpc"
	"chorddht/internal/telemetry/lookuptrace"
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsValidID checks whether the provided identifier is valid within the
// identifier space of this node. It delegates to the Space associated
// with this node's routing table.
func (n *Node) IsValidID(id []byte) error {
	return n.rt.Space().IsValidID(id)
}

// Space returns the identifier space of the ring, used by callers that
// need to parse or validate identifiers (e.g. the admin server).
func (n *Node) Space() domain.Space {
	return n.rt.Space()
}

// FindSuccessor resolves the node responsible for target by walking
// the ring, per spec.md §4.3/§4.4.
//
// If target already lies in (self, successor], this node's own
// successor is the answer. Otherwise it asks the routing table for an
// ordered list of candidates that precede target and forwards the
// lookup to the closest one; that node continues the same recursive
// process on its own routing table and the final answer propagates
// back through the chain of calls.
//
// Per spec.md §4.4 step 3, a candidate that cannot be reached or
// fails the forwarded call is evicted from the finger table/successor
// list and the lookup retries against the next-closest candidate;
// only once every candidate is exhausted does the call fail with
// DeadlineExceeded ("Timeout").
func (n *Node) FindSuccessor(ctx context.Context, target domain.ID) (*domain.Node, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}

	self := n.rt.Self()
	ctx = ctxutil.EnsureTraceID(ctx, self.ID)
	succ := n.rt.FirstSuccessor()
	if succ == nil {
		n.lgr.Error("FindSuccessor: routing table not initialized (successor is nil)")
		return nil, status.Error(codes.Internal, "routing table not initialized")
	}
	if target.Between(self.ID, succ.ID) {
		n.lgr.Debug("FindSuccessor: target in (self, successor], returning successor",
			logger.F("target", target.ToHexString(true)), logger.FNode("successor", succ),
			logger.F("hops", ctxutil.HopsFromContext(ctx)), logger.F("trace", ctxutil.TraceIDFromContext(ctx)))
		return succ, nil
	}

	candidates := n.rt.ClosestPrecedingCandidates(target)
	if len(candidates) == 0 {
		if succ.ID.Equal(self.ID) {
			// Single-node ring: self is its own successor.
			return self, nil
		}
		candidates = []*domain.Node{succ}
	}

	var lastErr error
	for _, next := range candidates {
		cli, err := n.cp.GetFromPool(next.Addr)
		var econn *grpc.ClientConn
		if err != nil {
			cli, econn, err = n.cp.DialEphemeral(next.Addr)
		}
		if err != nil {
			n.lgr.Warn("FindSuccessor: next hop unreachable, evicting and retrying",
				logger.F("target", target.ToHexString(true)), logger.FNode("nextHop", next), logger.F("err", err))
			n.evictAndRelease(next.ID)
			lastErr = err
			continue
		}

		res, err := client.FindSuccessor(ctxutil.IncHops(ctx), cli, target)
		if econn != nil {
			econn.Close()
		}
		if err != nil {
			n.lgr.Warn("FindSuccessor: forwarded lookup failed, evicting and retrying",
				logger.F("target", target.ToHexString(true)), logger.FNode("nextHop", next), logger.F("err", err))
			n.evictAndRelease(next.ID)
			lastErr = err
			continue
		}
		return res, nil
	}

	return nil, status.Errorf(codes.DeadlineExceeded,
		"findsuccessor: exhausted %d candidate(s) for target %s: %v", len(candidates), target.ToHexString(true), lastErr)
}

// evictAndRelease removes id from the routing table and releases one
// pooled-connection reference per slot that held it — mirroring the
// evict+release pairing every other routing-table removal path
// (fixSuccessorList, stabilizeSuccessor, fixFingers, checkPredecessor)
// already follows. A node occupying several finger/successor slots
// gets one Release call per slot, matching the one AddRef each slot
// assignment made.
func (n *Node) evictAndRelease(id domain.ID) {
	for _, addr := range n.rt.EvictNode(id) {
		if err := n.cp.Release(addr); err != nil {
			n.lgr.Warn("evictAndRelease: failed to release pooled connection",
				logger.F("addr", addr), logger.F("err", err))
		}
	}
}

// Self returns the local node information.
func (n *Node) Self() *domain.Node {
	return n.rt.Self()
}

// Predecessor returns the current predecessor of this node, or nil if
// none has been established yet.
func (n *Node) Predecessor() *domain.Node {
	return n.rt.GetPredecessor()
}

// SuccessorList returns the current successor list of this node.
// Unset slots are omitted, so the slice may be shorter than the
// configured list size.
func (n *Node) SuccessorList() []*domain.Node {
	return n.rt.SuccessorList()
}

// Fingers returns the current finger table of this node. Unset entries
// (not yet reached by a fix-fingers cycle) are omitted, so the slice
// may be shorter than the table.
func (n *Node) Fingers() []*domain.Node {
	return n.rt.Fingers()
}

// Notify informs this node about a potential predecessor.
//
// The stabilization protocol invokes Notify(p) on a node's successor.
// If the candidate p lies in (pred, self), this node adopts p as its
// new predecessor and asynchronously transfers the keys it no longer
// owns: self used to own (pred, self], and after adopting p it owns
// only (p, self], so (pred, p] now belongs to p. If self had no
// predecessor yet (bootstrap: it considered itself responsible for
// every key), the same handoff applies to (self, p], the entire range
// outside its new ownership interval.
func (n *Node) Notify(p *domain.Node) {
	self := n.rt.Self()
	if p == nil || p.ID.Equal(self.ID) {
		return
	}

	pred := n.rt.GetPredecessor()
	if pred == nil || p.ID.Between(pred.ID, self.ID) {
		if err := n.cp.AddRef(p.Addr); err != nil {
			n.lgr.Warn("Notify: failed to add new predecessor to pool",
				logger.FNode("newPredecessor", p), logger.F("err", err))
		}

		n.rt.SetPredecessor(p)

		if pred != nil {
			if err := n.cp.Release(pred.Addr); err != nil {
				n.lgr.Warn("Notify: failed to release old predecessor",
					logger.FNode("node", pred), logger.F("err", err))
			}
		}

		handoffFrom := self.ID
		if pred != nil {
			handoffFrom = pred.ID
		}
		resources, err := n.s.Between(handoffFrom, p.ID)
		if err != nil {
			n.lgr.Warn("Notify: failed to collect resources for handoff", logger.F("err", err))
		} else if len(resources) > 0 {
			go n.transferResourcesAsync(p, resources)
		}

		n.lgr.Info("Notify: predecessor updated",
			logger.FNode("newPredecessor", p),
			logger.FNode("oldPredecessor", pred))
	}
}

func (n *Node) transferResourcesAsync(p *domain.Node, resources []domain.Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()
	cli, err := n.cp.GetFromPool(p.Addr)
	if err != nil {
		n.lgr.Error("transferResourcesAsync: failed to get connection to new predecessor",
			logger.FNode("predecessor", p), logger.F("err", err))
		return
	}
	failed, err := client.StoreRemote(ctx, cli, resources, rpc.PrimarySlot)
	if err != nil {
		n.lgr.Error("transferResourcesAsync: store RPC failed",
			logger.FNode("predecessor", p),
			logger.F("err", err),
			logger.F("attempted", len(resources)))
		return
	}
	failedKeys := make(map[string]struct{}, len(failed))
	for _, r := range failed {
		failedKeys[r.Key.String()] = struct{}{}
	}
	for _, r := range resources {
		if _, ok := failedKeys[r.Key.String()]; !ok {
			_ = n.s.Delete(r.Key)
		}
	}
	if len(failed) > 0 {
		n.lgr.Warn("transferResourcesAsync: some resources failed to transfer",
			logger.FNode("predecessor", p),
			logger.F("failedCount", len(failed)),
			logger.F("total", len(resources)))
	} else {
		n.lgr.Info("transferResourcesAsync: transferred resources to new predecessor",
			logger.F("count", len(resources)), logger.FNode("predecessor", p))
	}
}

// Put stores a resource in the DHT on behalf of an external client:
// it locates the successor responsible for the key and either stores
// locally or forwards the request there.
func (n *Node) Put(ctx context.Context, res domain.Resource) error {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return err
	}
	succ, err := n.FindSuccessor(ctx, res.Key)
	if err != nil {
		return fmt.Errorf("put: failed to find successor for key %s: %w", res.RawKey, err)
	}
	if succ == nil {
		return fmt.Errorf("put: no successor found for key %s", res.RawKey)
	}

	if succ.ID.Equal(n.rt.Self().ID) {
		if err := n.StoreLocal(ctx, res); err != nil {
			n.lgr.Error("Put: failed to store resource locally",
				logger.F("key", res.RawKey), logger.F("err", err))
			return fmt.Errorf("put: failed to store resource locally: %w", err)
		}
		n.lgr.Info("Put: resource stored locally", logger.F("key", res.RawKey))
		return nil
	}

	sres := []domain.Resource{res}
	cli, err := n.cp.GetFromPool(succ.Addr)
	var econn *grpc.ClientConn
	if err != nil {
		cli, econn, err = n.cp.DialEphemeral(succ.Addr)
		if err != nil {
			n.lgr.Error("Put: failed to get connection to successor",
				logger.F("key", res.RawKey), logger.FNode("successor", succ), logger.F("err", err))
			return fmt.Errorf("put: failed to get connection to successor %s: %w", succ.Addr, err)
		}
		defer econn.Close()
	}
	if _, err := client.StoreRemote(ctx, cli, sres, rpc.PrimarySlot); err != nil {
		n.lgr.Error("Put: failed to store resource at successor",
			logger.F("key", res.RawKey), logger.FNode("successor", succ), logger.F("err", err))
		return fmt.Errorf("put: failed to store resource at successor %s: %w", succ.Addr, err)
	}
	n.lgr.Info("Put: resource stored at successor",
		logger.F("key", res.RawKey), logger.FNode("successor", succ))
	return nil
}

// Get retrieves a resource from the DHT on behalf of an external
// client: it locates the successor responsible for id and either
// fetches locally or forwards the request there.
func (n *Node) Get(ctx context.Context, id domain.ID) (*domain.Resource, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}

	succ, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get: failed to find successor for key %s: %w", id.ToHexString(true), err)
	}
	if succ == nil {
		return nil, fmt.Errorf("get: no successor found for key %s", id.ToHexString(true))
	}

	if succ.ID.Equal(n.rt.Self().ID) {
		res, err := n.RetrieveLocal(id)
		if err != nil {
			if errors.Is(err, domain.ErrResourceNotFound) {
				return nil, fmt.Errorf("get: %w", domain.ErrResourceNotFound)
			}
			n.lgr.Error("Get: failed to retrieve resource locally",
				logger.F("key", id.ToHexString(true)), logger.F("err", err))
			return nil, fmt.Errorf("get: failed to retrieve resource locally: %w", err)
		}
		return &res, nil
	}

	var econn *grpc.ClientConn
	cli, err := n.cp.GetFromPool(succ.Addr)
	if err != nil {
		cli, econn, err = n.cp.DialEphemeral(succ.Addr)
	}
	if err != nil {
		n.lgr.Warn("Get: owner unreachable, falling back to replica holder",
			logger.F("key", id.ToHexString(true)), logger.FNode("owner", succ), logger.F("err", err))
		res, ferr := n.getReplicaFallback(ctx, succ, id)
		if ferr != nil {
			return nil, fmt.Errorf("get: failed to get connection to successor %s: %w", succ.Addr, err)
		}
		return res, nil
	}
	if econn != nil {
		defer econn.Close()
	}
	res, err := client.RetrieveRemote(ctx, cli, id, rpc.PrimarySlot)
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, fmt.Errorf("get: %w", domain.ErrResourceNotFound)
		}
		n.lgr.Warn("Get: retrieve from successor failed, falling back to replica holder",
			logger.F("key", id.ToHexString(true)), logger.FNode("owner", succ), logger.F("err", err))
		res, ferr := n.getReplicaFallback(ctx, succ, id)
		if ferr != nil {
			return nil, fmt.Errorf("get: failed to retrieve resource from successor %s: %w", succ.Addr, err)
		}
		return res, nil
	}

	n.lgr.Info("Get: resource retrieved from successor",
		logger.F("key", id.ToHexString(true)), logger.FNode("successor", succ))
	return res, nil
}

// Delete removes a resource from the DHT on behalf of an external
// client: it locates the successor responsible for id and either
// deletes locally or forwards the request there.
func (n *Node) Delete(ctx context.Context, id domain.ID) error {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return err
	}

	succ, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return fmt.Errorf("delete: failed to find successor for key %s: %w", id.ToHexString(true), err)
	}
	if succ == nil {
		return fmt.Errorf("delete: no successor found for key %s", id.ToHexString(true))
	}

	if succ.ID.Equal(n.rt.Self().ID) {
		if err := n.RemoveLocal(id); err != nil {
			n.lgr.Error("Delete: failed to delete resource locally",
				logger.F("key", id.ToHexString(true)), logger.F("err", err))
			return fmt.Errorf("delete: failed to delete resource locally: %w", err)
		}
		n.lgr.Info("Delete: resource deleted locally", logger.F("key", id.ToHexString(true)))
		return nil
	}
	var econn *grpc.ClientConn
	cli, err := n.cp.GetFromPool(succ.Addr)
	if err != nil {
		cli, econn, err = n.cp.DialEphemeral(succ.Addr)
		if err != nil {
			n.lgr.Error("Delete: failed to get connection to successor",
				logger.F("key", id.ToHexString(true)), logger.FNode("successor", succ), logger.F("err", err))
			return fmt.Errorf("delete: failed to get connection to successor %s: %w", succ.Addr, err)
		}
		defer econn.Close()
	}
	if err := client.RemoveRemote(ctx, cli, id, rpc.PrimarySlot); err != nil {
		n.lgr.Error("Delete: failed to delete resource at successor",
			logger.F("key", id.ToHexString(true)), logger.FNode("successor", succ), logger.F("err", err))
		return fmt.Errorf("delete: failed to delete resource at successor %s: %w", succ.Addr, err)
	}
	n.lgr.Info("Delete: resource deleted at successor",
		logger.F("key", id.ToHexString(true)), logger.FNode("successor", succ))
	return nil
}

// StoreLocal stores the given resource in the local node's storage.
// This method is invoked on the node-to-node path (via StoreRemote).
//
// If this node has no predecessor yet (bootstrap phase), it considers
// itself responsible for every key. Otherwise, the resource is stored
// only if its key falls in (pred, self]; callers are expected to have
// already resolved the correct owner via FindSuccessor.
func (n *Node) StoreLocal(ctx context.Context, resource domain.Resource) error {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return err
	}

	pred := n.rt.GetPredecessor()
	if pred == nil || resource.Key.Between(pred.ID, n.rt.Self().ID) {
		n.s.Put(resource)
		go n.replicateToSuccessors(resource)
		return nil
	}
	return fmt.Errorf("%w: key %s", domain.ErrNotResponsible, resource.RawKey)
}

// RetrieveLocal fetches a resource from local storage by its
// identifier. Unlike Get, it performs no routing.
func (n *Node) RetrieveLocal(id domain.ID) (domain.Resource, error) {
	return n.s.Get(id)
}

// RemoveLocal deletes a resource from local storage by its
// identifier. Unlike Delete, it performs no routing.
func (n *Node) RemoveLocal(id domain.ID) error {
	if err := n.s.Delete(id); err != nil {
		return err
	}
	go n.deleteFromSuccessors(id)
	return nil
}

// GetAllResourceStored returns a snapshot of every resource currently
// held in this node's local storage, for debugging and the admin
// GetStore RPC.
func (n *Node) GetAllResourceStored() []domain.Resource {
	return n.s.All()
}

// LookUp resolves the node responsible for id without touching any
// resource. Used by the admin Lookup RPC.
func (n *Node) LookUp(ctx context.Context, id domain.ID) (*domain.Node, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}

	ctx = lookuptrace.WithLookup(ctxutil.StartHopCounter(ctx))
	succ, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to find successor for key %s: %w", id.ToHexString(true), err)
	}
	if succ == nil {
		return nil, fmt.Errorf("lookup: no successor found for key %s", id.ToHexString(true))
	}
	return succ, nil
}

// HandleLeave processes a graceful leave notification from a
// predecessor: if leaveNode matches the current predecessor, the
// predecessor pointer is cleared, replicas[0] (the leaver's keys) is
// promoted into the primary store, and its connection released.
func (n *Node) HandleLeave(leaveNode *domain.Node) error {
	pred := n.rt.GetPredecessor()
	if leaveNode == nil || pred == nil || !leaveNode.ID.Equal(pred.ID) {
		n.lgr.Warn("HandleLeave: ignoring leave for nil or non-predecessor node",
			logger.FNode("leavingNode", leaveNode))
		return nil
	}

	n.rt.SetPredecessor(nil)
	n.promoteReplicas()

	if err := n.cp.Release(leaveNode.Addr); err != nil {
		n.lgr.Warn("HandleLeave: failed to release leaving node from pool",
			logger.FNode("leavingNode", leaveNode), logger.F("err", err))
	}

	n.lgr.Info("HandleLeave: node removed from routing table and connection pool",
		logger.FNode("leavingNode", leaveNode))
	return nil
}
