// Package client provides a reference-counted pool of gRPC
// connections to peer Chord nodes, plus typed wrappers over every
// DHTService RPC. Connections are reused across the many RPCs a
// stabilization cycle or a lookup hop makes to the same peer, instead
// of dialing once per call.
package client

import (
	"fmt"
	"sync"
	"time"

	"chorddht/internal/logger"
	"chorddht/internal/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// poolEntry tracks one pooled connection and how many routing table
// slots currently reference it (successor list entries, fingers, the
// predecessor). The connection is closed only once refCount drops to
// zero.
type poolEntry struct {
	conn     *grpc.ClientConn
	client   rpc.DHTClient
	refCount int
}

// Pool manages reusable gRPC connections to peer nodes, keyed by
// address. Routing table mutators call AddRef/Release as nodes enter
// and leave the table (successor list, fingers, predecessor), so a
// peer referenced by multiple slots keeps exactly one connection open.
type Pool struct {
	lgr            logger.Logger
	mu             sync.Mutex
	conns          map[string]*poolEntry
	dialOpts       []grpc.DialOption
	failureTimeout time.Duration
}

// New creates an empty connection pool. The pool does not apply
// failureTimeout to RPCs itself; it stores it and returns it from
// FailureTimeout() for callers building their own contexts (e.g. the
// stabilization loops in internal/node).
func New(failureTimeout time.Duration, opts ...Option) *Pool {
	p := &Pool{
		conns:          make(map[string]*poolEntry),
		failureTimeout: failureTimeout,
		lgr:            &logger.NopLogger{},
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailureTimeout returns the timeout callers should apply to RPCs
// issued through this pool.
func (p *Pool) FailureTimeout() time.Duration {
	return p.failureTimeout
}

func (p *Pool) dial(addr string) (*poolEntry, error) {
	conn, err := grpc.NewClient(addr, p.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &poolEntry{conn: conn, client: rpc.NewDHTClient(conn)}, nil
}

// AddRef registers interest in addr, dialing a new connection if none
// is pooled yet and otherwise bumping its reference count. Call this
// whenever a node is installed into a routing table slot.
func (p *Pool) AddRef(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.conns[addr]; ok {
		e.refCount++
		return nil
	}
	e, err := p.dial(addr)
	if err != nil {
		return err
	}
	e.refCount = 1
	p.conns[addr] = e
	p.lgr.Debug("AddRef: connection established", logger.F("addr", addr))
	return nil
}

// Release drops one reference to addr. Once the reference count
// reaches zero the underlying connection is closed and removed from
// the pool. Releasing an address not currently pooled is a no-op.
func (p *Pool) Release(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[addr]
	if !ok {
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(p.conns, addr)
	p.lgr.Debug("Release: connection closed", logger.F("addr", addr))
	return e.conn.Close()
}

// GetFromPool returns the typed DHT client for an already-pooled
// connection to addr. It does not dial: callers that may be contacting
// a node outside the routing table should fall back to DialEphemeral.
func (p *Pool) GetFromPool(addr string) (rpc.DHTClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[addr]
	if !ok {
		return rpc.DHTClient{}, fmt.Errorf("client: no pooled connection to %s", addr)
	}
	return e.client, nil
}

// DialEphemeral opens a one-off connection to addr outside the pool's
// reference counting, for contacting a node that is not (yet) part of
// the routing table — e.g. a first lookup hop during Join, or a
// fix-fingers probe. The caller owns the returned *grpc.ClientConn and
// must Close it.
func (p *Pool) DialEphemeral(addr string) (rpc.DHTClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, p.dialOpts...)
	if err != nil {
		return rpc.DHTClient{}, nil, fmt.Errorf("client: ephemeral dial %s: %w", addr, err)
	}
	return rpc.NewDHTClient(conn), conn, nil
}

// Close closes every pooled connection and empties the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, e := range p.conns {
		_ = e.conn.Close()
		delete(p.conns, addr)
	}
	return nil
}

// DebugLog emits a structured DEBUG-level snapshot of the pool: one
// entry per pooled address with its current reference count.
func (p *Pool) DebugLog() {
	p.mu.Lock()
	entries := make([]map[string]any, 0, len(p.conns))
	for addr, e := range p.conns {
		entries = append(entries, map[string]any{"addr": addr, "refs": e.refCount})
	}
	p.mu.Unlock()
	p.lgr.Debug("Pool snapshot", logger.F("count", len(entries)), logger.F("entries", entries))
}
