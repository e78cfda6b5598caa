package docparse

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docparse/horosafe"
	"github.com/hazyhaar/docparse/kit"
)

// RegisterMCP registers the docparse tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
	p.registerDetectTool(srv)
	p.registerFormatsTool(srv)
}

// register wraps endpoint with panic recovery and call logging.
func (p *Pipeline) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Recover(p.logger), kit.Logging(p.logger, tool.Name))
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode, kit.WithPublicErrors(toolMessage))
}

// argError marks an error caused by the tool arguments. Its text is safe to
// return to the client.
type argError struct{ error }

func (e argError) Unwrap() error { return e.error }

// toolMessage returns the text an MCP client sees for err.
func toolMessage(err error) string {
	var ae argError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return PublicMessage(err)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- extract ---

type extractReq struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	ContentBase64 string `json:"content_base64"`
	Path          string `json:"path"`
	MaxPages      int    `json:"max_pages"`
}

var (
	errNoContent      = errors.New("one of content_base64 or path is required")
	errBothContent    = errors.New("content_base64 and path are mutually exclusive")
	errPathDisabled   = errors.New("path-based extraction is disabled")
	errPathOutside    = errors.New("path is outside the document root")
	errDocumentAbsent = errors.New("document not found")
)

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docparse_extract",
		Description: "Extract text, pages, tables and metadata from a PDF, TXT or DOCX document. Pass the bytes as content_base64, or a path relative to the server's document root.",
		InputSchema: inputSchema(map[string]any{
			"filename":       map[string]any{"type": "string", "description": "Original filename, used for format detection"},
			"content_type":   map[string]any{"type": "string", "description": "Declared MIME type"},
			"content_base64": map[string]any{"type": "string", "description": "Document bytes, base64-encoded"},
			"path":           map[string]any{"type": "string", "description": "Path under the document root"},
			"max_pages":      map[string]any{"type": "integer", "minimum": 1, "description": "Maximum pages (PDF) or sections (DOCX) to read"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		opts := Options{MaxPages: r.MaxPages}

		var (
			ext *Extraction
			err error
		)
		if r.Path != "" {
			if p.cfg.DocumentRoot == "" {
				return nil, argError{errPathDisabled}
			}
			full, perr := horosafe.SafePath(p.cfg.DocumentRoot, r.Path)
			if perr != nil {
				return nil, argError{errPathOutside}
			}
			if _, serr := os.Stat(full); serr != nil {
				return nil, argError{errDocumentAbsent}
			}
			ext, err = p.ExtractFile(ctx, full, opts)
		} else {
			data, derr := base64.StdEncoding.DecodeString(r.ContentBase64)
			if derr != nil {
				return nil, argError{fmt.Errorf("content_base64: %w", derr)}
			}
			ext, err = p.Extract(ctx, Source{Name: r.Filename, ContentType: r.ContentType, Data: data}, opts)
		}
		if err != nil {
			return nil, err
		}
		return ext, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[extractReq](req)
		if err != nil {
			return nil, err
		}
		switch {
		case r.ContentBase64 == "" && r.Path == "":
			return nil, errNoContent
		case r.ContentBase64 != "" && r.Path != "":
			return nil, errBothContent
		case r.MaxPages < 0:
			return nil, errors.New("max_pages must be a positive integer")
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}

	p.register(srv, tool, endpoint, decode)
}

// --- detect ---

type detectReq struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (p *Pipeline) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docparse_detect",
		Description: "Detect the document format from a declared MIME type and filename.",
		InputSchema: inputSchema(map[string]any{
			"filename":     map[string]any{"type": "string", "description": "Filename to detect"},
			"content_type": map[string]any{"type": "string", "description": "Declared MIME type"},
		}, []string{"filename"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*detectReq)
		format, err := Detect(r.Filename, r.ContentType)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": string(format)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[detectReq](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}

	p.register(srv, tool, endpoint, decode)
}

// --- formats ---

func (p *Pipeline) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docparse_formats",
		Description: "List the supported document formats and their MIME types.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{
			"formats":    SupportedFormats(),
			"mime_types": SupportedMIMETypes(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	p.register(srv, tool, endpoint, decode)
}
