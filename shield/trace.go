package shield

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/kit"
)

const maxRequestIDLen = 64

// NewRequestID generates request IDs for requests that arrive without a
// usable X-Request-ID header.
var NewRequestID idgen.Generator = idgen.Prefixed("req_", idgen.Default)

// newTraceID is used when no OpenTelemetry span is active.
var newTraceID = idgen.Hex(8)

// TraceID tags each request with a request ID and a trace ID and injects
// them into the context, the response headers and a per-request structured
// logger stored under LoggerKey.
//
// A caller-supplied X-Request-ID is kept when it is short and made of
// [A-Za-z0-9_-]. The trace ID comes from the active OpenTelemetry span when
// one exists, otherwise it is random.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if !safeRequestID(requestID) {
			requestID = NewRequestID()
		}

		var traceID string
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		} else {
			traceID = newTraceID()
		}

		ctx := kit.WithRequestID(r.Context(), requestID)
		ctx = kit.WithTraceID(ctx, traceID)
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(
			"request_id", requestID,
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func safeRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
