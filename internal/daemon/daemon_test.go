package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

type fakeService struct {
	mu          sync.Mutex
	table       *analysis.Table
	initialized bool
	purged      bool
	initErr     error
}

func newFakeService() *fakeService {
	str := rustdoc.NewStructInfo("alloc::string::String")
	str.Fields = []rustdoc.FieldInfo{{Name: "vec", Type: "Vec<u8>", Visibility: "default", StructName: "String"}}
	global := rustdoc.NewStructInfo("alloc::alloc::Global")
	global.Kind = rustdoc.KindUnit
	global.Fields = []rustdoc.FieldInfo{}

	table := analysis.NewTable()
	table.AddStruct("alloc::string::String", str)
	table.AddStruct("std::string::String", str)
	table.AddStruct("alloc::alloc::Global", global)
	table.AddKind("alloc::string::ParseError", "enum")
	table.AddFailure("demo::Both", &errdefs.TypeNotFoundError{Path: "demo::Both", Ambiguous: []string{"struct a::Both", "struct b::Both"}})
	return &fakeService{table: table}
}

func (f *fakeService) ensure() (*analysis.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return nil, f.initErr
	}
	f.initialized = true
	return f.table, nil
}

func (f *fakeService) Lookup(ctx context.Context, path string) (*rustdoc.StructInfo, error) {
	table, err := f.ensure()
	if err != nil {
		return nil, err
	}
	return table.Lookup(path)
}

func (f *fakeService) Exists(ctx context.Context, path string) bool {
	table, err := f.ensure()
	return err == nil && table.Exists(path)
}

func (f *fakeService) List(ctx context.Context) ([]string, error) {
	table, err := f.ensure()
	if err != nil {
		return nil, err
	}
	return table.Paths(), nil
}

func (f *fakeService) Stats(ctx context.Context) (analysis.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return analysis.Stats{}, nil
	}
	return analysis.Stats{Entries: f.table.Len(), Initialized: true}, nil
}

func (f *fakeService) EnsureInitialized(ctx context.Context) error {
	_, err := f.ensure()
	return err
}

func (f *fakeService) Clear(ctx context.Context, purge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	f.purged = purge
	return nil
}

// startServer runs a daemon on a short socket path and returns a client.
func startServer(t *testing.T, svc analysis.Service, opts Options) (*Server, *Client, chan error) {
	t.Helper()
	dir, err := os.MkdirTemp("", "quarry")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts.SocketPath = filepath.Join(dir, "d.sock")
	srv := NewServer(svc, opts)
	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client := NewClient(opts.SocketPath)
	require.Eventually(t, client.IsAvailable, 5*time.Second, 10*time.Millisecond)
	return srv, client, done
}

func TestClient_Lookup(t *testing.T) {
	t.Parallel()
	_, client, _ := startServer(t, newFakeService(), Options{})
	ctx := context.Background()

	info, err := client.Lookup(ctx, "std::string::String")
	require.NoError(t, err)
	assert.Equal(t, "alloc::string::String", info.Name)
	assert.Equal(t, []rustdoc.FieldInfo{{Name: "vec", Type: "Vec<u8>", Visibility: "default", StructName: "String"}}, info.Fields)

	unit, err := client.Lookup(ctx, "alloc::alloc::Global")
	require.NoError(t, err)
	assert.True(t, unit.IsUnit())
	assert.NotNil(t, unit.Fields)
}

func TestClient_TypedErrors(t *testing.T) {
	t.Parallel()
	_, client, _ := startServer(t, newFakeService(), Options{})
	ctx := context.Background()

	_, err := client.Lookup(ctx, "String")
	var notFound *errdefs.TypeNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "String", notFound.Path)

	_, err = client.Lookup(ctx, "demo::Both")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, []string{"struct a::Both", "struct b::Both"}, notFound.Ambiguous)

	_, err = client.Lookup(ctx, "alloc::string::ParseError")
	var notStruct *errdefs.NotAStructError
	require.True(t, errors.As(err, &notStruct))
	assert.Equal(t, "enum", notStruct.Kind)
	assert.Equal(t, "alloc::string::ParseError", notStruct.Path)
}

func TestClient_InitializationFailure(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	svc.initErr = &errdefs.ToolError{Command: "cargo doc", ExitCode: 101}
	_, client, _ := startServer(t, svc, Options{})
	ctx := context.Background()

	_, err := client.Lookup(ctx, "alloc::string::String")
	assert.True(t, errors.Is(err, errdefs.ErrToolInvocation))
	assert.True(t, errors.Is(err, errdefs.ErrAnalysisFailure))
	assert.False(t, client.Exists(ctx, "alloc::string::String"))
	assert.Error(t, client.EnsureInitialized(ctx))
}

func TestClient_InstallationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cause    error
		sentinel error
		other    error
	}{
		{"toolchain missing", errdefs.ErrToolchainMissing, errdefs.ErrToolchainMissing, errdefs.ErrComponentMissing},
		{"component missing", errdefs.ErrComponentMissing, errdefs.ErrComponentMissing, errdefs.ErrToolchainMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeService()
			svc.initErr = &errdefs.ToolError{
				Command:  "rustc +nightly --version",
				ExitCode: 1,
				Err:      errors.Errorf("%w: run rustup", tt.cause),
			}
			_, client, _ := startServer(t, svc, Options{})

			_, err := client.Lookup(context.Background(), "alloc::string::String")
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.True(t, errors.Is(err, errdefs.ErrToolInvocation))
			assert.False(t, errors.Is(err, tt.other))
		})
	}
}

func TestClient_ExistsListStatsClear(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	_, client, _ := startServer(t, svc, Options{})
	ctx := context.Background()

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, analysis.Stats{}, stats)

	assert.True(t, client.Exists(ctx, "std::string::String"))
	assert.False(t, client.Exists(ctx, "alloc::string::ParseError"))

	paths, err := client.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alloc::alloc::Global", "alloc::string::String", "std::string::String"}, paths)

	stats, err = client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, analysis.Stats{Entries: 3, Initialized: true}, stats)

	require.NoError(t, client.Clear(ctx, true))
	stats, err = client.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Initialized)
	svc.mu.Lock()
	assert.True(t, svc.purged)
	svc.mu.Unlock()
}

func TestServer_Shutdown(t *testing.T) {
	t.Parallel()
	_, client, done := startServer(t, newFakeService(), Options{})

	require.NoError(t, client.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.False(t, client.IsAvailable())
}

func TestServer_Expiration(t *testing.T) {
	t.Parallel()
	_, _, done := startServer(t, newFakeService(), Options{Expiration: 100 * time.Millisecond})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not expire")
	}
}

func TestServer_Warm(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	_, client, _ := startServer(t, svc, Options{Warm: true})

	require.Eventually(t, func() bool {
		stats, err := client.Stats(context.Background())
		return err == nil && stats.Initialized
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_Status(t *testing.T) {
	t.Parallel()
	handler := NewServer(newFakeService(), Options{}).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/struct", "{", http.StatusBadRequest},
		{"found", http.MethodPost, "/struct", `{"path":"alloc::string::String"}`, http.StatusOK},
		{"not found", http.MethodPost, "/struct", `{"path":"String"}`, http.StatusNotFound},
		{"not a struct", http.MethodPost, "/struct", `{"path":"alloc::string::ParseError"}`, http.StatusUnprocessableEntity},
		{"wrong method", http.MethodGet, "/struct", "", http.StatusMethodNotAllowed},
		{"clear without body", http.MethodPost, "/clear-cache", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
