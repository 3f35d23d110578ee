package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/markdown"
)

//go:embed instructions.md
var instructions string

const resourcePrefix = "quarry://struct/"

type Server struct {
	mcpServer *server.MCPServer
	svc       analysis.Service
}

// NewServer exposes svc over MCP. svc is either the in-process analyzer or a
// daemon client.
func NewServer(svc analysis.Service, version string) *Server {
	s := &Server{svc: svc}

	mcpServer := server.NewMCPServer(
		"quarry",
		version,
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("get_struct_info",
			mcp.WithDescription("Return the fields, generics and kind of a Rust struct from the local toolchain's standard library. The path must be a full module path such as alloc::string::String; re-exported paths like std::string::String also work."),
			mcp.WithString("path",
				mcp.Description("Full module path of the struct"),
				mcp.Required(),
			),
			mcp.WithString("format",
				mcp.Description("Output format (default json)"),
				mcp.Enum("json", "markdown"),
			),
		),
		s.handleGetStructInfo,
	)

	mcpServer.AddTool(
		mcp.NewTool("struct_exists",
			mcp.WithDescription("Check whether a full module path names a struct."),
			mcp.WithString("path",
				mcp.Description("Full module path"),
				mcp.Required(),
			),
		),
		s.handleStructExists,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_structs",
			mcp.WithDescription("List struct paths, optionally filtered by a path prefix such as std::collections."),
			mcp.WithString("prefix",
				mcp.Description("Only return paths starting with this prefix"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of paths (default 200)"),
			),
		),
		s.handleListStructs,
	)

	mcpServer.AddTool(
		mcp.NewTool("cache_stats",
			mcp.WithDescription("Report how many struct paths are cached and whether the cache is initialized. Never triggers analysis."),
		),
		s.handleCacheStats,
	)

	mcpServer.AddTool(
		mcp.NewTool("clear_cache",
			mcp.WithDescription("Drop the in-memory struct table so the next request rebuilds it."),
			mcp.WithBoolean("purge",
				mcp.Description("Also delete stored snapshots and generated artifacts"),
			),
		),
		s.handleClearCache,
	)
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourcePrefix+"{path}",
			"Rust struct",
			mcp.WithTemplateDescription("Read the layout of a Rust struct by its full module path."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

// toolError reports err to the model with its category so it can tell a bad
// path from a broken toolchain.
func toolError(err error) *mcp.CallToolResult {
	code := errdefs.Code(err)
	msg := err.Error()
	if errors.Is(err, errdefs.ErrComponentMissing) {
		msg += "\nInstall it with: rustup component add rust-src --toolchain nightly"
	}
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", code, msg))
}

func (s *Server) handleGetStructInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(req.GetString("path", ""))
	if path == "" {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	info, err := s.svc.Lookup(ctx, path)
	if err != nil {
		slogctx.FromCtx(ctx).DebugContext(ctx, "get_struct_info failed", "path", path, "error", err)
		return toolError(err), nil
	}

	if req.GetString("format", "json") == "markdown" {
		return mcp.NewToolResultText(markdown.Struct(info)), nil
	}
	resultJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleStructExists(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(req.GetString("path", ""))
	if path == "" {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(s.svc.Exists(ctx, path))), nil
}

func (s *Server) handleListStructs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := req.GetString("prefix", "")
	limit := req.GetInt("limit", 200)

	paths, err := s.svc.List(ctx)
	if err != nil {
		return toolError(err), nil
	}

	var matched []string
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			matched = append(matched, p)
		}
	}
	total := len(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	text := markdown.List(matched)
	if total > len(matched) {
		text += fmt.Sprintf("\n%d of %d paths shown; narrow the prefix to see more.\n", len(matched), total)
	}
	if total == 0 {
		text = "no struct paths match " + prefix + "\n"
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleCacheStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return toolError(err), nil
	}
	resultJSON, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleClearCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	purge := req.GetBool("purge", false)
	if err := s.svc.Clear(ctx, purge); err != nil {
		return toolError(err), nil
	}
	if purge {
		return mcp.NewToolResultText("cache cleared and purged"), nil
	}
	return mcp.NewToolResultText("cache cleared"), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	path := strings.TrimPrefix(uri, resourcePrefix)
	if path == uri || path == "" {
		return nil, errors.Errorf("invalid resource URI: %s", uri)
	}

	info, err := s.svc.Lookup(ctx, path)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", path, err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     markdown.Struct(info),
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}
