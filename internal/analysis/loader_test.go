package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
	"github.com/jcdickinson/quarry/internal/rustdoc/rustdoctest"
	"github.com/jcdickinson/quarry/internal/toolchain"
)

// docRunner plays rustc and cargo, writing fixture artifacts for each
// documented package.
type docRunner struct {
	mu     sync.Mutex
	target string
	docs   int
	fail   bool
}

func (r *docRunner) Run(ctx context.Context, cmd toolchain.Command) (toolchain.Result, error) {
	switch cmd.Name {
	case "rustc":
		return toolchain.Result{Stdout: []byte("rustc 1.90.0-nightly (abcdef 2025-07-01)\n")}, nil
	case "cargo":
		r.mu.Lock()
		r.docs++
		r.mu.Unlock()
		if r.fail {
			return toolchain.Result{ExitCode: 101, Stderr: []byte("error: could not compile `alloc`")}, nil
		}
		for i, a := range cmd.Args {
			if a != "--package" {
				continue
			}
			name := cmd.Args[i+1]
			path := filepath.Join(r.target, "doc", strings.ReplaceAll(name, "-", "_")+".json")
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return toolchain.Result{}, err
			}
			if err := os.WriteFile(path, []byte(rustdoctest.Crates[name]), 0644); err != nil {
				return toolchain.Result{}, err
			}
		}
		return toolchain.Result{}, nil
	}
	return toolchain.Result{}, errors.Errorf("unexpected command %s", cmd)
}

func (r *docRunner) docCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs
}

func newToolchainLoader(t *testing.T, runner *docRunner) *ToolchainLoader {
	t.Helper()
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "Cargo.toml"), []byte("[workspace]\n"), 0644))
	runner.target = t.TempDir()

	driver := toolchain.NewDriver(toolchain.Options{
		Toolchain: "nightly",
		Crates:    rustdoctest.CrateNames,
		Workspace: workspace,
		TargetDir: runner.target,
	}, runner)
	artifacts := toolchain.NewArtifactCache(filepath.Join(t.TempDir(), "json"))
	return NewToolchainLoader(driver, artifacts, rustdoc.DecodeOptions{
		MinFormatVersion: rustdoc.MinFormatVersion,
		MaxFormatVersion: rustdoc.MaxFormatVersion,
	})
}

func TestToolchainLoader_Load(t *testing.T) {
	t.Parallel()
	runner := &docRunner{}
	loader := newToolchainLoader(t, runner)
	ctx := context.Background()

	table, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.True(t, table.Exists("std::string::String"))
	assert.True(t, table.Exists("alloc::vec::Vec"))
	assert.Equal(t, 1, runner.docCount())

	// A second load reads the compressed artifacts instead of running cargo.
	again, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, table.Paths(), again.Paths())
	assert.Equal(t, 1, runner.docCount())
}

func TestToolchainLoader_CorruptArtifactRegenerates(t *testing.T) {
	t.Parallel()
	runner := &docRunner{}
	loader := newToolchainLoader(t, runner)
	ctx := context.Background()

	_, err := loader.Load(ctx)
	require.NoError(t, err)

	cached, err := filepath.Glob(filepath.Join(loader.artifacts.Dir(), "*.json.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, cached)
	for _, path := range cached {
		require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0644))
	}

	table, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.True(t, table.Exists("alloc::vec::Vec"))
	assert.Equal(t, 2, runner.docCount())
}

func TestToolchainLoader_Key(t *testing.T) {
	t.Parallel()
	loader := newToolchainLoader(t, &docRunner{})

	key, err := loader.Key(context.Background())
	require.NoError(t, err)
	assert.Contains(t, key, "rustc 1.90.0-nightly")
	assert.Contains(t, key, "std,alloc")
}

func TestToolchainLoader_GenerateFailure(t *testing.T) {
	t.Parallel()
	loader := newToolchainLoader(t, &docRunner{fail: true})

	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrToolInvocation))
	var tool *errdefs.ToolError
	require.True(t, errors.As(err, &tool))
	assert.Equal(t, 101, tool.ExitCode)
}

type memoryStore struct {
	mu      sync.Mutex
	tables  map[string]*Table
	loadErr error
	saves   int
}

func (s *memoryStore) LoadSnapshot(ctx context.Context, key string) (*Table, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	table, ok := s.tables[key]
	return table, ok, nil
}

func (s *memoryStore) SaveSnapshot(ctx context.Context, key string, table *Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables == nil {
		s.tables = make(map[string]*Table)
	}
	s.tables[key] = table
	s.saves++
	return nil
}

func TestSnapshotLoader(t *testing.T) {
	t.Parallel()
	runner := &docRunner{}
	source := newToolchainLoader(t, runner)
	store := &memoryStore{}
	loader := NewSnapshotLoader(store, source)
	ctx := context.Background()

	first, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	second, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second, "the stored snapshot is served")
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 1, runner.docCount())
}

func TestSnapshotLoader_StoreErrorFallsBack(t *testing.T) {
	t.Parallel()
	store := &memoryStore{loadErr: errors.New("database is locked")}
	loader := NewSnapshotLoader(store, newToolchainLoader(t, &docRunner{}))

	table, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, table.Exists("alloc::string::String"))
}
