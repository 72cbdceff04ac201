package lookuptrace

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	lookupMetaKey = "x-chorddht-lookup"
	hopMetaKey    = "x-chorddht-hop"
	tracerName    = "chorddht/lookuptrace"
)

var tracer = otel.Tracer(tracerName)

// WithLookup adds the lookup flag to the outgoing metadata.
func WithLookup(ctx context.Context) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(lookupMetaKey, "true")
	return metadata.NewOutgoingContext(ctx, md)
}

// IsLookup reports whether the incoming context carries the lookup flag.
func IsLookup(ctx context.Context) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	values := md.Get(lookupMetaKey)
	return len(values) > 0 && values[0] == "true"
}

// ServerInterceptor creates spans only for Lookup and the recursive
// FindSuccessor hops a lookup generates, and publishes each hop's
// count as a span attribute so a trace backend can show how many
// RPC hops a given lookup took to resolve.
func ServerInterceptor() grpc.UnaryServerInterceptor {
	propagator := otel.GetTextMapPropagator()

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := info.FullMethod

		// FindSuccessor is traced only when it's part of a lookup chain.
		if strings.Contains(method, "Lookup") || (strings.Contains(method, "FindSuccessor") && IsLookup(ctx)) {
			ctx = WithLookup(ctx)

			var hopCount int
			if md, ok := metadata.FromIncomingContext(ctx); ok {
				if vals := md.Get(hopMetaKey); len(vals) > 0 {
					hopCount, _ = strconv.Atoi(vals[0])
				}
				ctx = propagator.Extract(ctx, metadataCarrier(md))
			}

			ctx, span := tracer.Start(ctx, method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("rpc.method", method),
				attribute.Int("chord.hop", hopCount),
			)

			return handler(ctx, req)
		}

		return handler(ctx, req)
	}
}

// ClientInterceptor mirrors ServerInterceptor on the dialing side: it
// only wraps a call in a span when the outgoing context is already
// marked as part of a lookup, and increments the hop counter carried
// in the metadata.
func ClientInterceptor() grpc.UnaryClientInterceptor {
	propagator := otel.GetTextMapPropagator()

	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get(lookupMetaKey)) > 0 && md.Get(lookupMetaKey)[0] == "true" {
			ctx = WithLookup(ctx)

			var hopCount int
			if md, ok := metadata.FromOutgoingContext(ctx); ok {
				if vals := md.Get(hopMetaKey); len(vals) > 0 {
					hopCount, _ = strconv.Atoi(vals[0])
				}
			}
			hopCount++

			md, _ := metadata.FromOutgoingContext(ctx)
			md = md.Copy()
			md.Set(hopMetaKey, strconv.Itoa(hopCount))
			ctx = metadata.NewOutgoingContext(ctx, md)

			ctx, span := tracer.Start(ctx, method, trace.WithSpanKind(trace.SpanKindClient))
			defer span.End()
			span.SetAttributes(attribute.Int("chord.hop", hopCount))

			propagator.Inject(ctx, metadataCarrier(md))
			ctx = metadata.NewOutgoingContext(ctx, md)

			return invoker(ctx, method, req, reply, cc, opts...)
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (mc metadataCarrier) Set(key, value string) {
	metadata.MD(mc).Set(key, value)
}

func (mc metadataCarrier) Keys() []string {
	out := make([]string, 0, len(mc))
	for k := range mc {
		out = append(out, k)
	}
	return out
}
