package node

import (
	"chorddht/internal/client"
	"chorddht/internal/logger"
	"chorddht/internal/routingtable"
	"chorddht/internal/storage"
	"sync"
)

// Node is the local Chord peer: routing table, connection pool, and
// resource stores, wired together by the operations in operation.go,
// the replication logic in replication.go, and kept healthy by the
// stabilizers in worker.go.
//
// Per spec.md §4.5, a node carries two kinds of store: s, the primary
// store for keys this node owns, and replicas, an r-deep sequence of
// replica stores where replicas[j] holds the keys of the node's j-th
// predecessor on the ring.
type Node struct {
	rt         *routingtable.RoutingTable
	cp         *client.Pool
	s          storage.Store
	replicas   []storage.Store
	replicasMu sync.RWMutex
	lgr        logger.Logger

	// fingerCursor is the next finger table index fixFingers will
	// refresh. Touched only by the single fix-fingers stabilizer
	// goroutine, so it needs no lock of its own.
	fingerCursor int
}

// New builds a Node from its routing table, connection pool, and
// local primary store. All three are required; opts configure the
// rest. The replica chain is sized from rt's successor list (r
// successors, r replica slots, per spec.md §4.5) and built internally
// using the same in-memory storage implementation as the primary.
func New(rt *routingtable.RoutingTable, cp *client.Pool, s storage.Store, opts ...Option) *Node {
	n := &Node{
		rt:  rt,
		cp:  cp,
		s:   s,
		lgr: &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.replicas = make([]storage.Store, rt.SuccListSize())
	for i := range n.replicas {
		n.replicas[i] = storage.NewMemoryStorage(n.lgr.Named("replica").With(logger.F("slot", i)))
	}
	return n
}

// RoutingTable exposes the node's routing table, e.g. for the admin
// server's GetRoutingTable RPC.
func (n *Node) RoutingTable() *routingtable.RoutingTable {
	return n.rt
}

// Pool exposes the node's connection pool.
func (n *Node) Pool() *client.Pool {
	return n.cp
}

// Store exposes the node's local resource store.
func (n *Node) Store() storage.Store {
	return n.s
}
