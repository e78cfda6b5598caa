// Package shield provides the HTTP security middleware of the docparse
// service: request tracing, security headers, per-IP rate limiting and
// request body limits.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.TraceID)
//	r.Use(shield.HeadToGet)
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(cors.Handler(...))
//	r.Use(shield.NewRateLimiter(db).Middleware)
//	r.With(shield.MaxBody(51<<20, tooLarge)).Post("/api/upload", upload)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the ordered middleware the service applies before
// CORS: tracing, HEAD handling and security headers.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		TraceID,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
	}
}

// HeadToGet serves HEAD requests with the GET route so that health checks
// sending HEAD get 200 instead of 405. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
