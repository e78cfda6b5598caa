// Package kit holds the transport-neutral plumbing shared by the HTTP and
// MCP surfaces: request-scoped context values and the Endpoint abstraction.
package kit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Endpoint is a transport-neutral unit of business logic.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is the outermost.
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}

// Logging logs each call of the endpoint named name with its transport,
// request ID, duration and error.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.Debug("kit: endpoint done", attrs...)
			return resp, nil
		}
	}
}

// ErrPanic is returned by Recover when the endpoint panicked.
var ErrPanic = errors.New("internal error")

// Recover turns a panic in the endpoint into ErrPanic and logs it.
func Recover(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("kit: endpoint panic", "panic", r, "request_id", GetRequestID(ctx))
					resp, err = nil, ErrPanic
				}
			}()
			return next(ctx, req)
		}
	}
}
