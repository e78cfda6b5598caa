package kit

import "context"

// Transports recorded on a request context.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
	TransportCLI  = "cli"
)

// Meta is the per-call metadata carried through the extraction pipeline
// and into logs and business events.
type Meta struct {
	Transport  string
	RequestID  string
	TraceID    string
	RemoteAddr string
}

type metaKey struct{}

// MetaFrom returns the metadata stored in ctx. Transport defaults to
// TransportHTTP.
func MetaFrom(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	if m.Transport == "" {
		m.Transport = TransportHTTP
	}
	return m
}

// WithMeta replaces the metadata stored in ctx.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func update(ctx context.Context, fn func(*Meta)) context.Context {
	m, _ := ctx.Value(metaKey{}).(Meta)
	fn(&m)
	return WithMeta(ctx, m)
}

func WithTransport(ctx context.Context, t string) context.Context {
	return update(ctx, func(m *Meta) { m.Transport = t })
}

func GetTransport(ctx context.Context) string { return MetaFrom(ctx).Transport }

func WithRequestID(ctx context.Context, id string) context.Context {
	return update(ctx, func(m *Meta) { m.RequestID = id })
}

func GetRequestID(ctx context.Context) string { return MetaFrom(ctx).RequestID }

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(m *Meta) { m.TraceID = id })
}

func GetTraceID(ctx context.Context) string { return MetaFrom(ctx).TraceID }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return update(ctx, func(m *Meta) { m.RemoteAddr = addr })
}

func GetRemoteAddr(ctx context.Context) string { return MetaFrom(ctx).RemoteAddr }
