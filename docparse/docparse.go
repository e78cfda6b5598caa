// Package docparse converts PDF, plain text and DOCX documents into one
// canonical JSON-ready structure.
//
// Extraction is a single pass: the declared MIME type and filename select a
// format, the matching extractor reads the bytes into a format-native
// provisional result, and a pure normalizer maps it onto Extraction.
//
// Usage:
//
//	pipe := docparse.New(docparse.Config{})
//	ext, err := pipe.Extract(ctx, docparse.Source{
//		Name:        "report.pdf",
//		ContentType: "application/pdf",
//		Data:        data,
//	}, docparse.Options{MaxPages: 10})
//	if err != nil {
//		http.Error(w, docparse.PublicMessage(err), http.StatusUnprocessableEntity)
//	}
//
// Errors returned by Extract are *Error values (or context errors) and never
// carry parser text; the underlying cause is logged instead.
package docparse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hazyhaar/docparse/horosafe"
	"github.com/hazyhaar/docparse/kit"
)

const instrumentationName = "github.com/hazyhaar/docparse/docparse"

// Pipeline is the extraction orchestrator. It holds no per-request state
// and is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// MaxFileSize returns the effective size ceiling in bytes.
func (p *Pipeline) MaxFileSize() int64 { return p.cfg.MaxFileSize }

// Extract runs detection, extraction and normalization on src.
func (p *Pipeline) Extract(ctx context.Context, src Source, opts Options) (ext *Extraction, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "docparse.extract")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("docparse.size", src.Size()),
		attribute.Int("docparse.max_pages", opts.MaxPages),
	)

	log := p.log(ctx).With("filename", baseName(src.Name), "size", src.Size())
	var format Format

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("docparse: panic during extraction", "panic", rec, "stack", string(debug.Stack()))
			ext, err = nil, &Error{Kind: KindInternal}
		}
		if err != nil {
			span.SetStatus(codes.Error, string(KindOf(err)))
			if r := ReasonOf(err); r != "" {
				span.SetAttributes(attribute.String("docparse.reason", string(r)))
			}
		}
		if p.cfg.Observer != nil {
			o := Outcome{
				Format:   format,
				Filename: baseName(src.Name),
				Size:     src.Size(),
				Duration: time.Since(start),
				Err:      err,
			}
			if ext != nil {
				o.Pages, o.Tables = len(ext.Pages), len(ext.Tables)
			}
			p.cfg.Observer(ctx, o)
		}
	}()

	if src.Size() > p.cfg.MaxFileSize {
		log.Info("docparse: rejected", "kind", KindTooLarge, "max", p.cfg.MaxFileSize)
		return nil, &Error{Kind: KindTooLarge}
	}

	format, err = detectSource(src)
	if err != nil {
		format = ""
		log.Info("docparse: rejected", "kind", KindUnsupportedFormat, "content_type", src.ContentType)
		return nil, err
	}
	span.SetAttributes(attribute.String("docparse.format", string(format)))
	log = log.With("format", format)

	if src.Size() == 0 {
		log.Info("docparse: rejected", "kind", KindExtractionFailed, "reason", ReasonEmpty)
		return nil, &Error{Kind: KindExtractionFailed, Reason: ReasonEmpty}
	}

	res, err := p.run(ctx, format, src.Data, opts)
	if err != nil {
		return nil, p.sanitize(log, err)
	}

	ext = normalize(res, src)
	span.SetAttributes(
		attribute.Int("docparse.pages", len(ext.Pages)),
		attribute.Int("docparse.tables", len(ext.Tables)),
	)
	log.Info("docparse: extracted",
		"pages", len(ext.Pages),
		"tables", len(ext.Tables),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ext, nil
}

// run dispatches to the extractor of format.
func (p *Pipeline) run(ctx context.Context, format Format, data []byte, opts Options) (provisional, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "docparse.extract."+string(format))
	defer span.End()

	switch format {
	case FormatPDF:
		r, err := extractPDF(ctx, data, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatDOCX:
		r, err := extractDocx(ctx, data, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	case FormatTXT:
		r, err := extractText(data)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, &Error{Kind: KindUnsupportedFormat}
}

// sanitize translates extractor errors into the public taxonomy and logs
// the original cause.
func (p *Pipeline) sanitize(log *slog.Logger, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("docparse: extraction aborted", "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return context.Canceled
	}
	var f *failure
	if errors.As(err, &f) {
		log.Warn("docparse: extraction failed", "reason", f.reason, "error", f.cause)
		return &Error{Kind: KindExtractionFailed, Reason: f.reason}
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Reason: e.Reason}
	}
	log.Error("docparse: internal error", "error", err)
	return &Error{Kind: KindInternal}
}

// ExtractReader reads at most the configured size from r and extracts it.
func (p *Pipeline) ExtractReader(ctx context.Context, r io.Reader, name, contentType string, opts Options) (*Extraction, error) {
	data, err := horosafe.LimitedReadAll(r, p.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			p.log(ctx).Info("docparse: rejected", "kind", KindTooLarge, "filename", baseName(name))
			return nil, &Error{Kind: KindTooLarge}
		}
		p.log(ctx).Error("docparse: read source", "error", err, "filename", baseName(name))
		return nil, &Error{Kind: KindInternal}
	}
	return p.Extract(ctx, Source{Name: name, ContentType: contentType, Data: data}, opts)
}

// ExtractFile extracts a document from disk. The format comes from the
// file extension. A path that does not exist, is not a regular file or
// cannot be opened fails with KindNotFound.
func (p *Pipeline) ExtractFile(ctx context.Context, path string, opts Options) (*Extraction, error) {
	info, err := os.Stat(path)
	if err != nil {
		p.log(ctx).Warn("docparse: stat source", "error", err)
		return nil, &Error{Kind: KindNotFound}
	}
	if !info.Mode().IsRegular() {
		p.log(ctx).Warn("docparse: source is not a regular file", "path", path)
		return nil, &Error{Kind: KindNotFound}
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, &Error{Kind: KindTooLarge}
	}
	f, err := os.Open(path)
	if err != nil {
		p.log(ctx).Warn("docparse: open source", "error", err)
		return nil, &Error{Kind: KindNotFound}
	}
	defer f.Close()
	return p.ExtractReader(ctx, f, path, "", opts)
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	l := p.logger
	if id := kit.GetRequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}
