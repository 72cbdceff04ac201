package client

import (
	"chorddht/internal/logger"

	"google.golang.org/grpc"
)

type Option func(pool *Pool)

// WithLogger sets the logger used by the connection pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.lgr = l
	}
}

// WithDialOptions appends extra grpc.DialOption values (e.g. a tracing
// interceptor) to every connection the pool dials, on top of the
// transport credentials and codec it always sets.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(p *Pool) {
		p.dialOpts = append(p.dialOpts, opts...)
	}
}
