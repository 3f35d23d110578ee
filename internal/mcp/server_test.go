package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

type stubService struct {
	table   *analysis.Table
	err     error
	cleared bool
	purged  bool
}

func newStub() *stubService {
	vec := rustdoc.NewStructInfo("alloc::vec::Vec")
	vec.Generics = []string{"T", "A"}
	vec.Fields = []rustdoc.FieldInfo{{Name: "len", Type: "usize", Visibility: "default", StructName: "Vec"}}

	table := analysis.NewTable()
	table.AddStruct("alloc::vec::Vec", vec)
	table.AddStruct("std::vec::Vec", vec)
	table.AddStruct("std::collections::HashMap", rustdoc.NewStructInfo("std::collections::hash::map::HashMap"))
	table.AddKind("alloc::string::ParseError", "enum")
	return &stubService{table: table}
}

func (s *stubService) Lookup(ctx context.Context, path string) (*rustdoc.StructInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.table.Lookup(path)
}

func (s *stubService) Exists(ctx context.Context, path string) bool {
	return s.err == nil && s.table.Exists(path)
}

func (s *stubService) List(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.table.Paths(), nil
}

func (s *stubService) Stats(ctx context.Context) (analysis.Stats, error) {
	return analysis.Stats{Entries: s.table.Len(), Initialized: !s.cleared}, nil
}

func (s *stubService) EnsureInitialized(ctx context.Context) error { return s.err }

func (s *stubService) Clear(ctx context.Context, purge bool) error {
	s.cleared, s.purged = true, purge
	return nil
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestGetStructInfo(t *testing.T) {
	t.Parallel()
	s := NewServer(newStub(), "test")
	ctx := context.Background()

	res, err := s.handleGetStructInfo(ctx, call(map[string]any{"path": "std::vec::Vec"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	var info rustdoc.StructInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &info))
	assert.Equal(t, "alloc::vec::Vec", info.Name)
	assert.Equal(t, []string{"T", "A"}, info.Generics)

	res, err = s.handleGetStructInfo(ctx, call(map[string]any{"path": "alloc::vec::Vec", "format": "markdown"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "# struct `Vec<T, A>`")
}

func TestGetStructInfo_Errors(t *testing.T) {
	t.Parallel()
	s := NewServer(newStub(), "test")
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing path", map[string]any{}, "missing required parameter: path"},
		{"bare name", map[string]any{"path": "Vec"}, "[type_not_found]"},
		{"enum", map[string]any{"path": "alloc::string::ParseError"}, "[not_a_struct]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleGetStructInfo(ctx, call(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}
}

func TestGetStructInfo_ComponentMissingHint(t *testing.T) {
	t.Parallel()
	stub := newStub()
	stub.err = &errdefs.ToolError{Command: "rustc", Err: errdefs.ErrComponentMissing}
	s := NewServer(stub, "test")

	res, err := s.handleGetStructInfo(context.Background(), call(map[string]any{"path": "alloc::vec::Vec"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "[component_missing]")
	assert.Contains(t, text(t, res), "rustup component add rust-src")
}

func TestStructExists(t *testing.T) {
	t.Parallel()
	s := NewServer(newStub(), "test")

	res, err := s.handleStructExists(context.Background(), call(map[string]any{"path": "std::vec::Vec"}))
	require.NoError(t, err)
	assert.Equal(t, "true", text(t, res))

	res, err = s.handleStructExists(context.Background(), call(map[string]any{"path": "alloc::string::ParseError"}))
	require.NoError(t, err)
	assert.Equal(t, "false", text(t, res))
}

func TestListStructs(t *testing.T) {
	t.Parallel()
	s := NewServer(newStub(), "test")
	ctx := context.Background()

	res, err := s.handleListStructs(ctx, call(map[string]any{"prefix": "std::"}))
	require.NoError(t, err)
	assert.Equal(t, "- `std::collections::HashMap`\n- `std::vec::Vec`\n", text(t, res))

	res, err = s.handleListStructs(ctx, call(map[string]any{"limit": float64(1)}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "1 of 3 paths shown")

	res, err = s.handleListStructs(ctx, call(map[string]any{"prefix": "core::"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "no struct paths match core::")
}

func TestCacheStatsAndClear(t *testing.T) {
	t.Parallel()
	stub := newStub()
	s := NewServer(stub, "test")
	ctx := context.Background()

	res, err := s.handleCacheStats(ctx, call(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries": 3, "initialized": true}`, text(t, res))

	res, err = s.handleClearCache(ctx, call(map[string]any{"purge": true}))
	require.NoError(t, err)
	assert.Equal(t, "cache cleared and purged", text(t, res))
	assert.True(t, stub.cleared)
	assert.True(t, stub.purged)
}

func TestReadResource(t *testing.T) {
	t.Parallel()
	s := NewServer(newStub(), "test")

	var req mcp.ReadResourceRequest
	req.Params.URI = "quarry://struct/std::vec::Vec"
	contents, err := s.handleReadResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "text/markdown", tc.MIMEType)
	assert.Contains(t, tc.Text, "name: alloc::vec::Vec")

	req.Params.URI = "file:///tmp/other"
	_, err = s.handleReadResource(context.Background(), req)
	assert.Error(t, err)
}
