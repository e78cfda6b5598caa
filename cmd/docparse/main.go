// Command docparse turns PDF, TXT and DOCX documents into canonical JSON.
//
//	docparse [serve] [config.yaml]          HTTP service (default)
//	docparse extract [-max-pages N] <file>  print one extraction to stdout
//	docparse mcp [-root DIR]                MCP tools on stdio
//	docparse stats [-since 24h] [config.yaml]  summarize recorded extractions
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docparse/dbopen"
	"github.com/hazyhaar/docparse/docparse"
	"github.com/hazyhaar/docparse/kit"
	"github.com/hazyhaar/docparse/observability"
	"github.com/hazyhaar/docparse/server"
	"github.com/hazyhaar/docparse/telemetry"
)

const serviceName = "docparse"

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "extract", "mcp", "stats":
			cmd, args = args[0], args[1:]
		}
	}

	// stdout carries JSON output (extract, stats) or the protocol (mcp).
	logOut := os.Stderr
	if cmd == "serve" {
		logOut = os.Stdout
	}
	logger := newLogger(logOut, env("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "extract":
		err = runExtract(ctx, args, os.Stdout, logger)
	case "mcp":
		err = runMCP(ctx, args, logger)
	case "stats":
		err = runStats(ctx, args, os.Stdout)
	default:
		err = runServe(ctx, args, logOut)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "docparse:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string, logOut io.Writer) error {
	var cfgPath string
	if len(args) > 0 {
		cfgPath = args[0]
	}
	cfg, err := server.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(logOut, cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, server.Version, cfg.Telemetry || telemetry.Enabled())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	recorder := observability.NewRecorder(db, serviceName)
	defer recorder.Close()

	pipe := docparse.New(docparse.Config{
		MaxFileSize:  cfg.MaxFileBytes(),
		DocumentRoot: cfg.DocumentRoot,
		Logger:       logger,
		Observer:     observe(recorder),
	})
	srv, err := server.New(ctx, cfg, pipe, db, logger)
	if err != nil {
		return err
	}
	srv.StartReloader(ctx.Done())

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.URLFetch.Timeout + cfg.ProcessTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docparse starting",
			"addr", ln.Addr().String(),
			"environment", cfg.Environment,
			"max_file_mb", cfg.MaxFileMB,
			"mcp", cfg.MCP.Enabled,
		)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		retentionLoop(gctx, db, cfg.Retention, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("docparse stopped")
	return nil
}

func runExtract(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	maxPages := fs.Int("max-pages", 0, "extract at most N pages (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: docparse extract [-max-pages N] <file>")
	}
	if *maxPages < 0 {
		return errors.New("max-pages must be >= 0")
	}

	ctx = kit.WithRequestID(kit.WithTransport(ctx, kit.TransportCLI), kit.NewRequestID())
	pipe := docparse.New(docparse.Config{Logger: logger})
	ext, err := pipe.ExtractFile(ctx, fs.Arg(0), docparse.Options{MaxPages: *maxPages})
	if err != nil {
		return errors.New(docparse.PublicMessage(err))
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(ext)
}

func runMCP(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	root := fs.String("root", env("DOCPARSE_ROOT", ""), "document root for path-based extraction")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pipe := docparse.New(docparse.Config{DocumentRoot: *root, Logger: logger})
	logger.Info("docparse MCP on stdio", "document_root", *root)
	err := server.NewMCPServer(pipe).Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	since := fs.Duration("since", 24*time.Hour, "summarize extractions recorded within this window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := server.LoadConfig(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithReadOnly())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	from := time.Now().Add(-*since)
	stats, err := observability.Summarize(ctx, db, from)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"since": from.UTC().Format(time.RFC3339),
		"stats": stats,
	})
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
