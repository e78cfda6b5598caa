// Package server exposes the docparse pipeline over HTTP: multipart
// upload, URL processing, health and format discovery, plus the MCP tools
// on a streamable HTTP endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hazyhaar/docparse/docparse"
	"github.com/hazyhaar/docparse/horosafe"
	"github.com/hazyhaar/docparse/shield"
)

// Version is reported by the health endpoints and the MCP handshake.
const Version = "1.0.0"

// multipartOverhead is added to the file ceiling to size the body limit.
const multipartOverhead = 1 << 20

// Rate-limited endpoints, keyed the way shield.RateLimiter matches them.
const (
	EndpointUpload     = "POST /api/upload"
	EndpointProcessURL = "POST /api/process-url"
)

// Server holds the HTTP surface of the service.
type Server struct {
	cfg       *Config
	pipe      *docparse.Pipeline
	limiter   *shield.RateLimiter
	fetch     *http.Client
	urlPolicy horosafe.URLPolicy
	mcp       *mcp.Server
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a Server. db stores the rate-limit rules; the defaults from
// cfg.RateLimit are seeded for endpoints that have no rule yet.
func New(ctx context.Context, cfg *Config, pipe *docparse.Pipeline, db *sql.DB, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := shield.Init(db); err != nil {
		return nil, fmt.Errorf("server: init rate limits: %w", err)
	}
	rule := shield.RateLimitConfig{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		WindowSeconds: cfg.RateLimit.WindowSeconds,
		Enabled:       cfg.RateLimit.Enabled,
	}
	if err := shield.SeedRules(ctx, db, map[string]shield.RateLimitConfig{
		EndpointUpload:     rule,
		EndpointProcessURL: rule,
	}); err != nil {
		return nil, fmt.Errorf("server: seed rate limits: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		pipe:      pipe,
		limiter:   shield.NewRateLimiter(db, shield.WithTrustForwarded(cfg.TrustProxy)),
		fetch:     horosafe.NewHTTPClient(cfg.URLFetch.Timeout, cfg.URLFetch.AllowPrivate),
		urlPolicy: horosafe.URLPolicy{AllowPrivate: cfg.URLFetch.AllowPrivate},
		logger:    logger,
		now:       time.Now,
	}
	if cfg.MCP.Enabled {
		s.mcp = NewMCPServer(pipe)
	}
	return s, nil
}

// NewMCPServer returns an MCP server carrying the docparse tools.
func NewMCPServer(pipe *docparse.Pipeline) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docparse", Version: Version}, nil)
	pipe.RegisterMCP(srv)
	return srv
}

// StartReloader refreshes rate-limit rules until done is closed.
func (s *Server) StartReloader(done <-chan struct{}) {
	s.limiter.StartReloader(done)
}

// Handler returns the full HTTP handler, instrumented with OpenTelemetry.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Processing-Time", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.limiter.Middleware)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/api/formats", s.handleFormats)

	tooLarge := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { writeTooLarge(w) })
	uploadLimit := shield.MaxBody(s.cfg.MaxFileBytes()+multipartOverhead, tooLarge)
	r.With(uploadLimit).Post("/api/upload", s.handleUpload)
	r.With(uploadLimit).Post("/api/process-url", s.handleProcessURL)

	if s.mcp != nil {
		// Base64 inflates documents by a third.
		mcpLimit := shield.MaxBody(s.cfg.MaxFileBytes()*4/3+multipartOverhead, tooLarge)
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, &mcp.StreamableHTTPOptions{
			Stateless: true,
		})
		r.With(mcpLimit).Handle("/mcp", h)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed.")
	})

	return otelhttp.NewHandler(r, "docparse")
}
