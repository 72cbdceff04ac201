package node

import (
	"chorddht/internal/client"
	"chorddht/internal/logger"
	"chorddht/internal/rpc"
	"context"
	"fmt"
)

// CreateNewDHT initializes this node as the sole member of a brand-new
// ring: the first successor, the predecessor, and every finger point
// back to self.
func (n *Node) CreateNewDHT() {
	n.rt.InitSingleNode()
	n.lgr.Info("ring created (single-node)")
}

// Join bootstraps this node into an existing ring by asking one of the
// given peers to resolve self's own identifier. The node returned by the
// first peer that answers becomes this node's initial successor; stabilization fills
// in the predecessor and the rest of the successor list and finger
// table over subsequent ticks.
func (n *Node) Join(ctx context.Context, peers []string) error {
	self := n.rt.Self()

	var lastErr error
	for _, addr := range peers {
		if addr == self.Addr {
			continue
		}

		cli, conn, err := n.cp.DialEphemeral(addr)
		if err != nil {
			lastErr = err
			continue
		}

		joinCtx, cancel := context.WithTimeout(ctx, n.cp.FailureTimeout())
		succ, err := client.FindSuccessor(joinCtx, cli, self.ID)
		cancel()
		_ = conn.Close()
		if err != nil || succ == nil {
			n.lgr.Warn("Join: bootstrap peer did not resolve a successor",
				logger.F("peer", addr), logger.F("err", err))
			lastErr = err
			continue
		}

		if !succ.ID.Equal(self.ID) {
			if err := n.cp.AddRef(succ.Addr); err != nil {
				n.lgr.Warn("Join: failed to addref initial successor",
					logger.FNode("successor", succ), logger.F("err", err))
			}
		}
		n.rt.SetSuccessor(0, succ)
		n.lgr.Info("Join: joined ring via bootstrap peer",
			logger.F("peer", addr), logger.FNode("successor", succ))
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no reachable bootstrap peer among %d candidates", len(peers))
	}
	return fmt.Errorf("join: %w", lastErr)
}

// Leave departs the ring gracefully, per spec.md §4.4: it pushes the
// resources this node owns to its successor and sends it a LEAVE
// notification so the successor's predecessor pointer clears
// immediately instead of waiting for check_predecessor to time out.
//
// The handoff is best-effort: until the successor's stabilization
// cycle adopts this node's old predecessor, the pushed resources may
// fall outside the successor's current (predecessor, self] range and
// be rejected; stabilize/notify closes that gap on its own, same as
// after a crash.
func (n *Node) Leave(ctx context.Context) error {
	self := n.rt.Self()
	succ := n.rt.FirstSuccessor()
	if succ == nil || succ.ID.Equal(self.ID) {
		n.lgr.Info("Leave: single-node ring, nothing to hand off")
		return nil
	}

	cli, conn, err := n.cp.DialEphemeral(succ.Addr)
	if err != nil {
		return fmt.Errorf("leave: failed to reach successor %s: %w", succ.Addr, err)
	}
	defer conn.Close()

	if resources := n.s.All(); len(resources) > 0 {
		failed, err := client.StoreRemote(ctx, cli, resources, rpc.PrimarySlot)
		if err != nil {
			n.lgr.Warn("Leave: failed to hand off resources to successor",
				logger.FNode("successor", succ), logger.F("err", err))
		} else if len(failed) > 0 {
			n.lgr.Warn("Leave: successor rejected part of the handoff, stabilization will retry",
				logger.FNode("successor", succ), logger.F("rejected", len(failed)), logger.F("total", len(resources)))
		}
	}

	if err := client.Leave(ctx, cli, self); err != nil {
		return fmt.Errorf("leave: failed to notify successor %s: %w", succ.Addr, err)
	}
	n.lgr.Info("Leave: departed ring", logger.FNode("successor", succ))
	return nil
}

// Stop releases every pooled connection this node holds. It does not
// touch the routing table or local storage.
func (n *Node) Stop() {
	if err := n.cp.Close(); err != nil {
		n.lgr.Warn("Stop: failed to close connection pool", logger.F("err", err))
	}
}
