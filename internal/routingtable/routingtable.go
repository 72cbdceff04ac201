package routingtable

import (
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	"fmt"
	"sync"
)

// routingEntry holds a reference to a domain.Node behind its own
// read/write mutex, so that a single slot (one successor, one finger)
// can be read or updated without taking a lock over the whole table.
type routingEntry struct {
	node *domain.Node
	mu   sync.RWMutex
}

// RoutingTable is the routing state owned by a single Chord node: its
// predecessor, a SuccListSize-deep successor list for fault tolerance,
// and a Bits-deep finger table for O(log n) routing. Every entry is
// guarded by its own mutex rather than one lock over the whole table,
// so a Stabilize, FixFingers, and RPC handler can touch different
// entries concurrently.
type RoutingTable struct {
	logger        logger.Logger   // logger for routing table operations
	space         domain.Space    // identifier space configuration
	self          *domain.Node    // the local node owning this routing table
	successorList []*routingEntry // successor list, for fault tolerance and replication
	succListSize  int             // configured size of the successor list
	predecessor   *routingEntry   // immediate predecessor in the ring
	fingers       []*routingEntry // finger table, fingers[i] routes towards self+2^i
}

// New creates and initializes a new RoutingTable for the given node.
//
// The routing table is initialized with empty successor entries, an
// empty predecessor entry, and a finger table of space.Bits entries.
// By default logging is disabled (NopLogger) unless overridden with
// options.
func New(self *domain.Node, space domain.Space, succListSize int, opts ...Option) *RoutingTable {
	rt := &RoutingTable{
		self:          self,
		space:         space,
		successorList: make([]*routingEntry, succListSize),
		succListSize:  succListSize,
		predecessor:   &routingEntry{},
		fingers:       make([]*routingEntry, space.Bits),
		logger:        &logger.NopLogger{},
	}
	for i := range rt.successorList {
		rt.successorList[i] = &routingEntry{}
	}
	for i := range rt.fingers {
		rt.fingers[i] = &routingEntry{}
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger.Debug("routing table initialized")
	return rt
}

// InitSingleNode configures the routing table to represent a
// single-node ring: the first successor, the predecessor, and every
// finger point back to self; the other successor slots are left as they
// are. Used when creating a brand-new ring.
func (rt *RoutingTable) InitSingleNode() {
	rt.successorList[0] = &routingEntry{node: rt.self}
	rt.predecessor = &routingEntry{node: rt.self}
	for i := range rt.fingers {
		rt.fingers[i] = &routingEntry{node: rt.self}
	}
	rt.logger.Debug("routing table set to single-node ring")
}

// Space returns the identifier space configuration of the ring.
func (rt *RoutingTable) Space() domain.Space {
	return rt.space
}

// Self returns the local node owning this routing table.
func (rt *RoutingTable) Self() *domain.Node {
	return rt.self
}

// SuccListSize returns the configured size of the successor list.
func (rt *RoutingTable) SuccListSize() int {
	return rt.succListSize
}

// GetSuccessor returns the i-th successor from the successor list.
//
// If the index is out of range or the entry does not contain a node,
// the method returns nil.
func (rt *RoutingTable) GetSuccessor(i int) *domain.Node {
	if i < 0 || i >= len(rt.successorList) {
		rt.logger.Warn(
			"GetSuccessor: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.successorList)-1)),
		)
		return nil
	}
	entry := rt.successorList[i]
	entry.mu.RLock()
	node := entry.node
	entry.mu.RUnlock()
	rt.logger.Debug("GetSuccessor: returning successor", logger.F("index", i), logger.FNode("successor", node))
	return node
}

// FirstSuccessor returns the first successor in the successor list.
// Equivalent to GetSuccessor(0).
func (rt *RoutingTable) FirstSuccessor() *domain.Node {
	return rt.GetSuccessor(0)
}

// SetSuccessor updates the i-th successor entry with the specified node.
//
// If the index is out of range, the method logs a warning and does nothing.
func (rt *RoutingTable) SetSuccessor(i int, node *domain.Node) {
	if i < 0 || i >= len(rt.successorList) {
		rt.logger.Warn(
			"SetSuccessor: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.successorList)-1)),
		)
		return
	}
	entry := rt.successorList[i]
	entry.mu.Lock()
	entry.node = node
	entry.mu.Unlock()
	rt.logger.Debug("SetSuccessor: updated successor", logger.F("index", i), logger.FNode("successor", node))
}

// SuccessorList returns a slice of all non-nil successors currently
// known in the routing table. Callers receive a shallow copy and may
// modify it freely.
func (rt *RoutingTable) SuccessorList() []*domain.Node {
	out := make([]*domain.Node, 0, len(rt.successorList))
	snapshot := make([]*domain.Node, 0, len(rt.successorList))
	for _, entry := range rt.successorList {
		entry.mu.RLock()
		node := entry.node
		entry.mu.RUnlock()

		snapshot = append(snapshot, node)
		if node != nil {
			out = append(out, node)
		}
	}
	rt.logger.Debug("SuccessorList snapshot", logger.F("entries", describeNodes(snapshot)))
	return out
}

// SetSuccessorList replaces the entire successor list with the given
// slice. The slice must have the same length as the internal list.
func (rt *RoutingTable) SetSuccessorList(nodes []*domain.Node) {
	if len(nodes) != len(rt.successorList) {
		rt.logger.Warn(
			"SetSuccessorList: length mismatch",
			logger.F("expected", len(rt.successorList)),
			logger.F("got", len(nodes)),
		)
		return
	}
	for i, node := range nodes {
		rt.SetSuccessor(i, node)
	}
	rt.logger.Debug("SetSuccessorList: successor list updated", logger.F("entries", describeNodes(nodes)))
}

// PromoteCandidate restructures the successor list by promoting the
// successor at position i to the head of the list.
//
// The node at index i becomes the new successor at position 0, all
// successors after it shift forward preserving relative order, and
// everything before it is discarded. The list is padded with nil
// entries up to the configured size. If i is out of range, or the
// candidate is nil, the call is a no-op.
func (rt *RoutingTable) PromoteCandidate(i int) {
	if i <= 0 || i >= rt.succListSize {
		rt.logger.Warn(
			"PromoteCandidate: invalid index",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[1..%d]", rt.succListSize-1)),
		)
		return
	}
	candidate := rt.GetSuccessor(i)
	if candidate == nil {
		rt.logger.Warn("PromoteCandidate: candidate is nil", logger.F("index", i))
		return
	}
	newList := make([]*domain.Node, 0, rt.succListSize)
	newList = append(newList, candidate)
	for j := i + 1; j < rt.succListSize; j++ {
		if succ := rt.GetSuccessor(j); succ != nil {
			newList = append(newList, succ)
		}
	}
	for len(newList) < rt.succListSize {
		newList = append(newList, nil)
	}
	rt.SetSuccessorList(newList)
	rt.logger.Debug("PromoteCandidate: successor promoted", logger.F("from_index", i), logger.FNode("candidate", candidate))
}

// GetPredecessor returns the current predecessor node, or nil if unset.
func (rt *RoutingTable) GetPredecessor() *domain.Node {
	rt.predecessor.mu.RLock()
	node := rt.predecessor.node
	rt.predecessor.mu.RUnlock()
	rt.logger.Debug("GetPredecessor: predecessor retrieved", logger.FNode("predecessor", node))
	return node
}

// SetPredecessor updates the predecessor pointer to the specified node.
func (rt *RoutingTable) SetPredecessor(node *domain.Node) {
	rt.predecessor.mu.Lock()
	rt.predecessor.node = node
	rt.predecessor.mu.Unlock()
	rt.logger.Debug("SetPredecessor: predecessor updated", logger.FNode("predecessor", node))
}

// GetFinger returns the node stored at finger table index i.
//
// If i is out of range, the method returns nil.
func (rt *RoutingTable) GetFinger(i int) *domain.Node {
	if i < 0 || i >= len(rt.fingers) {
		rt.logger.Warn(
			"GetFinger: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.fingers)-1)),
		)
		return nil
	}
	entry := rt.fingers[i]
	entry.mu.RLock()
	node := entry.node
	entry.mu.RUnlock()
	rt.logger.Debug("GetFinger: node retrieved", logger.F("index", i), logger.FNode("node", node))
	return node
}

// UpdateFingerAt sets finger table index i to node.
//
// If i is out of range, the method logs a warning and does nothing.
func (rt *RoutingTable) UpdateFingerAt(i int, node *domain.Node) {
	if i < 0 || i >= len(rt.fingers) {
		rt.logger.Warn(
			"UpdateFingerAt: index out of range",
			logger.F("requested", i),
			logger.F("valid_range", fmt.Sprintf("[0..%d]", len(rt.fingers)-1)),
		)
		return
	}
	entry := rt.fingers[i]
	entry.mu.Lock()
	entry.node = node
	entry.mu.Unlock()
	rt.logger.Debug("UpdateFingerAt: entry updated", logger.F("index", i), logger.FNode("node", node))
}

// FingerStart returns the identifier that finger table index i routes
// towards: (self + 2^i) mod 2^Bits.
func (rt *RoutingTable) FingerStart(i int) domain.ID {
	return rt.space.FingerStart(rt.self.ID, i)
}

// FingerTableSize returns the number of finger table entries
// (space.Bits).
func (rt *RoutingTable) FingerTableSize() int {
	return len(rt.fingers)
}

// Fingers returns a slice of all non-nil finger table entries.
// Callers receive a shallow copy and may modify it freely.
func (rt *RoutingTable) Fingers() []*domain.Node {
	out := make([]*domain.Node, 0, len(rt.fingers))
	snapshot := make([]*domain.Node, 0, len(rt.fingers))
	for _, entry := range rt.fingers {
		entry.mu.RLock()
		node := entry.node
		entry.mu.RUnlock()

		snapshot = append(snapshot, node)
		if node != nil {
			out = append(out, node)
		}
	}
	rt.logger.Debug("Fingers snapshot", logger.F("entries", describeNodes(snapshot)))
	return out
}

// ClosestPrecedingNode scans the routing table for the node that most
// closely precedes id, preferring fingers over the successor list.
//
// It walks the finger table from the highest index down to 0, returning
// the first finger that lies strictly between self and id. If no
// finger qualifies, it falls through to the successor list using the
// same rule, and finally returns self if nothing qualifies — meaning
// self is responsible for forwarding to its own immediate successor.
// Per spec.md §4.3, the successor list is always included in the scan
// even when a fix-fingers cycle has not yet populated every finger.
func (rt *RoutingTable) ClosestPrecedingNode(id domain.ID) *domain.Node {
	self := rt.self.ID

	for i := len(rt.fingers) - 1; i >= 0; i-- {
		f := rt.GetFinger(i)
		if f != nil && f.ID.BetweenOpen(self, id) {
			return f
		}
	}
	for i := len(rt.successorList) - 1; i >= 0; i-- {
		s := rt.GetSuccessor(i)
		if s != nil && s.ID.BetweenOpen(self, id) {
			return s
		}
	}
	return rt.self
}

// ClosestPrecedingCandidates scans the routing table the same way
// ClosestPrecedingNode does, but instead of returning only the first
// match it returns every qualifying node ordered from closest to id
// down to furthest (highest finger index first, then the successor
// list, each scanned high-to-low), deduplicated by address and with
// self excluded. FindSuccessor walks this list in order so that, per
// spec.md §4.4 step 3, a failed hop can be evicted and the lookup
// retried against the next-closest candidate without repeating a scan
// that would just return the same dead node again.
func (rt *RoutingTable) ClosestPrecedingCandidates(id domain.ID) []*domain.Node {
	self := rt.self.ID
	seen := make(map[string]struct{})
	var out []*domain.Node

	add := func(n *domain.Node) {
		if n == nil || n.ID.Equal(self) {
			return
		}
		if _, ok := seen[n.Addr]; ok {
			return
		}
		seen[n.Addr] = struct{}{}
		out = append(out, n)
	}

	for i := len(rt.fingers) - 1; i >= 0; i-- {
		f := rt.GetFinger(i)
		if f != nil && f.ID.BetweenOpen(self, id) {
			add(f)
		}
	}
	for i := len(rt.successorList) - 1; i >= 0; i-- {
		s := rt.GetSuccessor(i)
		if s != nil && s.ID.BetweenOpen(self, id) {
			add(s)
		}
	}
	return out
}

// EvictNode clears every finger table and successor list entry
// pointing at id, per spec.md §4.4 step 3's "remove n' from
// finger/successor state" eviction rule for a hop that failed to
// answer a forwarded FindSuccessor call. It does not touch the
// predecessor pointer; checkPredecessor owns that failure path.
//
// It returns one address per finger/successor slot it cleared (so a
// node occupying several slots yields repeated entries), so the
// caller can release exactly as many pooled-connection references as
// AddRef calls were made for it — the routing table owns no reference
// to the connection pool itself, and each slot that held the node
// holds its own reference.
func (rt *RoutingTable) EvictNode(id domain.ID) []string {
	var addrs []string
	for i := range rt.successorList {
		if s := rt.GetSuccessor(i); s != nil && s.ID.Equal(id) {
			addrs = append(addrs, s.Addr)
			rt.SetSuccessor(i, nil)
		}
	}
	for i := range rt.fingers {
		if f := rt.GetFinger(i); f != nil && f.ID.Equal(id) {
			addrs = append(addrs, f.Addr)
			rt.UpdateFingerAt(i, nil)
		}
	}
	if len(addrs) > 0 {
		rt.logger.Warn("EvictNode: removed unreachable node from routing state", logger.F("id", id.ToHexString(true)))
	}
	return addrs
}

// DebugLog emits a single structured DEBUG-level log entry containing
// a snapshot of the entire routing table (self, predecessor, successor
// list, finger table). It reads entries directly under their locks to
// avoid triggering the per-getter debug logs, so it produces one
// compact entry reflecting current state without side effects.
func (rt *RoutingTable) DebugLog() {
	self := rt.self

	rt.predecessor.mu.RLock()
	pred := rt.predecessor.node
	rt.predecessor.mu.RUnlock()

	successors := make([]*domain.Node, 0, len(rt.successorList))
	for _, entry := range rt.successorList {
		entry.mu.RLock()
		successors = append(successors, entry.node)
		entry.mu.RUnlock()
	}

	fingers := make([]*domain.Node, 0, len(rt.fingers))
	for _, entry := range rt.fingers {
		entry.mu.RLock()
		fingers = append(fingers, entry.node)
		entry.mu.RUnlock()
	}

	rt.logger.Debug("RoutingTable snapshot",
		logger.FNode("self", self),
		logger.FNode("predecessor", pred),
		logger.F("successors", describeNodes(successors)),
		logger.F("fingers", describeNodes(fingers)),
	)
}

func describeNodes(nodes []*domain.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for i, n := range nodes {
		if n == nil {
			out = append(out, map[string]any{"index": i, "node": nil})
		} else {
			out = append(out, map[string]any{"index": i, "id": n.ID.String(), "addr": n.Addr})
		}
	}
	return out
}
