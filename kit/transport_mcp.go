package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docparse/idgen"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// NewRequestID produces request identifiers for MCP and CLI calls.
var NewRequestID idgen.Generator = idgen.Prefixed("req_", idgen.Default)

// MCPOption customises a tool registered with RegisterMCPTool.
type MCPOption func(*mcpTool)

type mcpTool struct {
	public func(error) string
}

// WithPublicErrors sets the function that turns an endpoint error into the
// text of the tool error. Without it the client sees err.Error().
func WithPublicErrors(fn func(error) string) MCPOption {
	return func(t *mcpTool) { t.public = fn }
}

// RegisterMCPTool registers an Endpoint as an MCP tool on srv. Every call
// runs with TransportMCP and a request ID in its context. Decode failures
// are reported as "invalid arguments"; results are returned as one JSON
// text block.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error), opts ...MCPOption) {
	t := mcpTool{public: func(err error) string { return err.Error() }}
	for _, o := range opts {
		o(&t)
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, TransportMCP)
		if GetRequestID(ctx) == "" {
			ctx = WithRequestID(ctx, NewRequestID())
		}

		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(errors.New(t.public(err))), nil
		}

		text, err := encodeJSON(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// encodeJSON marshals v without HTML escaping, matching the HTTP responses.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// DecodeArgs unmarshals the raw tool arguments into a new T.
func DecodeArgs[T any](req *mcp.CallToolRequest) (*T, error) {
	var v T
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
