package node

import (
	"chorddht/internal/client"
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	"chorddht/internal/rpc"
	"context"
	"time"

	"google.golang.org/grpc"
)

// StartStabilizers runs the periodic maintenance loops that keep the
// ring healthy, per spec.md §4.4:
//   - Chord stabilizers (stabilizeSuccessor, fixSuccessorList,
//     checkPredecessor) on chordInterval
//   - finger table repair (fixFingers) on fingerInterval
//   - local storage ownership repair (resourceRepair) on storageInterval
//
// All loops stop when ctx is canceled.
func (n *Node) StartStabilizers(ctx context.Context, chordInterval, fingerInterval, storageInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(chordInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n.lgr.Info("chord stabilizers stopped")
				return
			case <-ticker.C:
				n.stabilizeSuccessor()
				n.fixSuccessorList()
				n.checkPredecessor()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(fingerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n.lgr.Info("fix-fingers stabilizer stopped")
				return
			case <-ticker.C:
				n.fixFingers(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(storageInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n.lgr.Info("storage maintenance stopped")
				return
			case <-ticker.C:
				n.resourceRepair(ctx)
			}
		}
	}()
}

// printStorageStats logs the current state of the local storage.
func (n *Node) printStorageStats() {
	n.s.DebugLog()
}

// printClientPoolStats logs the current state of the client pool.
func (n *Node) printClientPoolStats() {
	n.cp.DebugLog()
}

// printRoutingTable logs the current state of the routing table.
func (n *Node) printRoutingTable() {
	n.rt.DebugLog()
}

// resourceRepair performs one maintenance pass over the resources stored
// locally inside this node's ownership interval (pred, self]: each one
// that FindSuccessor now resolves to another node (e.g. a node that
// joined between self and its predecessor before being adopted as
// predecessor) is transferred to that node. Resources outside
// (pred, self] are not examined. Every pass ends with replicateAll.
func (n *Node) resourceRepair(ctx context.Context) {
	defer n.replicateAll(ctx)
	self := n.rt.Self()
	pred := n.rt.GetPredecessor()
	if pred == nil {
		n.lgr.Warn("resourceRepair: skipping pass, predecessor is nil")
		return
	}

	resources, err := n.s.Between(pred.ID, self.ID)
	if err != nil {
		n.lgr.Warn("resourceRepair: failed to list local resources", logger.F("err", err))
		return
	}
	if len(resources) == 0 {
		return
	}

	for _, res := range resources {
		resp, err := n.FindSuccessor(ctx, res.Key)
		if err != nil || resp == nil {
			n.lgr.Warn("resourceRepair: failed to find successor",
				logger.F("key", res.RawKey), logger.F("err", err))
			continue
		}
		if resp.ID.Equal(self.ID) {
			continue
		}

		sres := []domain.Resource{res}
		cli, err := n.cp.GetFromPool(resp.Addr)
		var econn *grpc.ClientConn
		if err != nil {
			cli, econn, err = n.cp.DialEphemeral(resp.Addr)
			if err != nil {
				n.lgr.Warn("resourceRepair: failed to connect to responsible node",
					logger.F("key", res.RawKey), logger.FNode("responsible", resp), logger.F("err", err))
				continue
			}
			defer econn.Close()
		}

		if _, err := client.StoreRemote(ctx, cli, sres, rpc.PrimarySlot); err != nil {
			n.lgr.Warn("resourceRepair: failed to transfer resource",
				logger.F("key", res.RawKey), logger.FNode("responsible", resp), logger.F("err", err))
			continue
		}

		if err := n.s.Delete(res.Key); err != nil {
			n.lgr.Warn("resourceRepair: failed to delete resource after transfer",
				logger.F("key", res.RawKey), logger.F("err", err))
		} else {
			n.lgr.Info("resourceRepair: resource transferred successfully",
				logger.F("key", res.RawKey), logger.FNode("responsible", resp))
		}
	}
}

// stabilizeSuccessor is the classic Chord stabilize() procedure: ask
// the successor for its predecessor, adopt it if it is a better fit,
// then notify the successor that self might be its predecessor.
//
// If the successor is unresponsive, a candidate is promoted from the
// successor list; if no candidate is available, the node reverts to
// single-node mode.
func (n *Node) stabilizeSuccessor() {
	self := n.rt.Self()
	succ := n.rt.FirstSuccessor()
	if succ == nil {
		n.lgr.Error("stabilize: successor is nil (invalid state)")
		return
	}

	var pred *domain.Node
	var succAlive bool
	{
		ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
		defer cancel()
		if succ.ID.Equal(self.ID) {
			pred = n.rt.GetPredecessor()
			succAlive = pred != nil
		} else {
			cli, err := n.cp.GetFromPool(succ.Addr)
			if err != nil {
				n.lgr.Warn("stabilize: failed to get client for successor",
					logger.FNode("succ", succ), logger.F("err", err))
				return
			}
			pred, err = client.GetPredecessor(ctx, cli)
			// A successor that answers "no predecessor" is alive.
			succAlive = err == nil || err == client.ErrNoPredecessor
			if err != nil {
				n.lgr.Warn("stabilize: could not get predecessor from successor",
					logger.FNode("succ", succ), logger.F("err", err))
			}
		}
	}

	if !succAlive {
		n.lgr.Warn("stabilize: successor unresponsive, attempting promotion",
			logger.FNode("old_successor", succ))

		promoted := false
		for i := 1; i < n.rt.SuccListSize(); i++ {
			candidate := n.rt.GetSuccessor(i)
			if candidate == nil {
				continue
			}
			n.rt.PromoteCandidate(i)
			if err := n.cp.Release(succ.Addr); err != nil {
				n.lgr.Warn("stabilize: failed to release old successor",
					logger.FNode("old", succ), logger.F("err", err))
			}
			succ = candidate
			promoted = true
			break
		}
		if !promoted {
			n.lgr.Warn("stabilize: no candidates found, reverting to single-node mode")
			if pred := n.rt.GetPredecessor(); pred != nil {
				_ = n.cp.Release(pred.Addr)
			}
			for _, nd := range n.rt.SuccessorList() {
				if nd != nil {
					_ = n.cp.Release(nd.Addr)
				}
			}
			for _, nd := range n.rt.Fingers() {
				if nd != nil {
					_ = n.cp.Release(nd.Addr)
				}
			}
			n.rt.InitSingleNode()
			return
		}
	}

	if pred != nil && pred.ID.Between(self.ID, succ.ID) && !pred.ID.Equal(self.ID) {
		if err := n.cp.AddRef(pred.Addr); err != nil {
			n.lgr.Warn("stabilize: failed to add new successor to pool",
				logger.FNode("new", pred), logger.F("err", err))
		}
		n.rt.SetSuccessor(0, pred)
		if err := n.cp.Release(succ.Addr); err != nil {
			n.lgr.Warn("stabilize: failed to release old successor",
				logger.FNode("old", succ), logger.F("err", err))
		}
		succ = pred
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
		defer cancel()

		if succ.ID.Equal(self.ID) {
			return
		}

		cli, err := n.cp.GetFromPool(succ.Addr)
		if err != nil {
			n.lgr.Error("stabilize: client for successor not found in pool",
				logger.FNode("succ", succ), logger.F("err", err))
			return
		}

		if err := client.Notify(ctx, cli, self); err != nil {
			n.lgr.Warn("stabilize: notify RPC failed",
				logger.FNode("succ", succ), logger.F("err", err))
		}
	}
}

// fixSuccessorList refreshes the local successor list by asking the
// first successor for its own successor list and shifting it in by
// one slot, maintaining the r-deep replica chain from spec.md §4.5.
func (n *Node) fixSuccessorList() {
	succ := n.rt.FirstSuccessor()
	if succ == nil {
		n.lgr.Error("fixSuccessorList: no successor set")
		return
	}
	if succ.ID.Equal(n.rt.Self().ID) {
		return
	}

	var remoteList []*domain.Node
	{
		ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
		cli, err := n.cp.GetFromPool(succ.Addr)
		if err != nil {
			n.lgr.Error("fixSuccessorList: failed to get from pool",
				logger.FNode("succ", succ), logger.F("err", err))
			cancel()
			return
		}
		remoteList, err = client.GetSuccessorList(ctx, cli)
		cancel()
		if err != nil {
			n.lgr.Warn("fixSuccessorList: could not get successor list",
				logger.FNode("succ", succ), logger.F("err", err))
			return
		}
	}

	oldList := n.rt.SuccessorList()
	oldSet := make(map[string]*domain.Node, len(oldList))
	for _, nd := range oldList {
		if nd != nil {
			oldSet[nd.Addr] = nd
		}
	}

	size := n.rt.SuccListSize()
	newList := make([]*domain.Node, size)
	newList[0] = succ
	for i := 1; i < size; i++ {
		if i-1 < len(remoteList) && remoteList[i-1] != nil {
			if remoteList[i-1].ID.Equal(n.rt.Self().ID) {
				break
			}
			newList[i] = remoteList[i-1]
		}
	}

	newSet := make(map[string]*domain.Node, len(newList))
	for _, nd := range newList {
		if nd != nil {
			newSet[nd.Addr] = nd
		}
	}

	for addr, nd := range newSet {
		if _, ok := oldSet[addr]; !ok {
			if err := n.cp.AddRef(addr); err != nil {
				n.lgr.Warn("fixSuccessorList: addref failed",
					logger.FNode("node", nd), logger.F("err", err))
			}
		}
	}

	n.rt.SetSuccessorList(newList)

	for addr, nd := range oldSet {
		if _, ok := newSet[addr]; !ok {
			if err := n.cp.Release(addr); err != nil {
				n.lgr.Warn("fixSuccessorList: release failed",
					logger.FNode("node", nd), logger.F("err", err))
			}
		}
	}
}

// checkPredecessor pings the current predecessor and clears it if
// unresponsive, so a dead predecessor does not block a new node from
// being adopted via Notify.
func (n *Node) checkPredecessor() {
	pred := n.rt.GetPredecessor()
	if pred == nil || pred.ID.Equal(n.rt.Self().ID) {
		return
	}

	cli, err := n.cp.GetFromPool(pred.Addr)
	if err != nil {
		n.lgr.Warn("checkPredecessor: failed to get client for predecessor",
			logger.FNode("pred", pred), logger.F("err", err))
		n.rt.SetPredecessor(nil)
		n.promoteReplicas()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cp.FailureTimeout())
	defer cancel()
	if err := client.Ping(ctx, cli); err != nil {
		n.lgr.Warn("checkPredecessor: predecessor unresponsive, clearing",
			logger.FNode("pred", pred), logger.F("err", err))

		if err := n.cp.Release(pred.Addr); err != nil {
			n.lgr.Warn("checkPredecessor: failed to release predecessor from pool",
				logger.FNode("pred", pred), logger.F("err", err))
		}
		n.rt.SetPredecessor(nil)
		n.promoteReplicas()
	}
}

// fixFingers refreshes one entry of the finger table per call, cycling
// through all of them over time (spec.md §4.4's fix-fingers routine).
// It resolves FingerStart(cursor) via FindSuccessor and installs the
// result at fingers[cursor], then advances the cursor.
func (n *Node) fixFingers(ctx context.Context) {
	size := n.rt.FingerTableSize()
	if size == 0 {
		return
	}

	i := n.fingerCursor
	n.fingerCursor = (n.fingerCursor + 1) % size

	start := n.rt.FingerStart(i)
	fctx, cancel := context.WithTimeout(ctx, n.cp.FailureTimeout())
	node, err := n.FindSuccessor(fctx, start)
	cancel()
	if err != nil || node == nil {
		n.lgr.Warn("fixFingers: failed to resolve finger",
			logger.F("index", i), logger.F("start", start.ToHexString(true)), logger.F("err", err))
		return
	}

	old := n.rt.GetFinger(i)
	if old != nil && old.Addr == node.Addr {
		return
	}
	if !node.ID.Equal(n.rt.Self().ID) {
		if err := n.cp.AddRef(node.Addr); err != nil {
			n.lgr.Warn("fixFingers: failed to addref finger node",
				logger.F("index", i), logger.FNode("node", node), logger.F("err", err))
		}
	}
	n.rt.UpdateFingerAt(i, node)
	if old != nil && !old.ID.Equal(n.rt.Self().ID) {
		if err := n.cp.Release(old.Addr); err != nil {
			n.lgr.Warn("fixFingers: failed to release old finger node",
				logger.F("index", i), logger.FNode("old", old), logger.F("err", err))
		}
	}
}
