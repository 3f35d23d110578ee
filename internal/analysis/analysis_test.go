package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
	"github.com/jcdickinson/quarry/internal/rustdoc/rustdoctest"
)

func fixtureSet(t *testing.T) *rustdoc.Set {
	t.Helper()
	var indexes []*rustdoc.PathIndex
	for _, name := range rustdoctest.CrateNames {
		decoded, err := rustdoc.Decode([]byte(rustdoctest.Crates[name]))
		require.NoError(t, err)
		indexes = append(indexes, rustdoc.BuildPathIndex(name, decoded.Crate))
	}
	return rustdoc.NewSet(indexes...)
}

func fixtureTable(t *testing.T) *Table {
	t.Helper()
	table, err := BuildTable(context.Background(), fixtureSet(t))
	require.NoError(t, err)
	return table
}

// countingLoader returns the fixture table. When gate is set, each Load
// signals started and then waits for gate to close.
type countingLoader struct {
	table   *Table
	calls   atomic.Int32
	failN   int32
	gate    chan struct{}
	started chan struct{}
}

func (l *countingLoader) Load(ctx context.Context) (*Table, error) {
	n := l.calls.Add(1)
	if l.started != nil {
		l.started <- struct{}{}
	}
	if l.gate != nil {
		<-l.gate
	}
	if n <= l.failN {
		return nil, &errdefs.ToolError{Command: "cargo doc", ExitCode: 101, Stderr: "boom"}
	}
	return l.table, nil
}

func TestBuildTable(t *testing.T) {
	t.Parallel()
	table := fixtureTable(t)

	paths := table.Paths()
	assert.IsIncreasing(t, paths)
	assert.Subset(t, paths, []string{
		"alloc::alloc::Global",
		"alloc::num::Wrapping",
		"alloc::string::String",
		"alloc::vec::Vec",
		"std::collections::HashMap",
		"std::collections::hash::map::HashMap",
		"std::prelude::HashMap",
		"std::string::String",
		"std::vec::Vec",
	})
	assert.NotContains(t, paths, "alloc::string::ParseError")
	assert.NotContains(t, paths, "std::collections::Hidden")
	assert.Equal(t, len(paths), table.Len())
	assert.Zero(t, table.Failures())
}

func TestBuildTable_ReexportsShareInfo(t *testing.T) {
	t.Parallel()
	table := fixtureTable(t)

	canonical, err := table.Lookup("alloc::string::String")
	require.NoError(t, err)
	reexport, err := table.Lookup("std::string::String")
	require.NoError(t, err)
	assert.Equal(t, canonical, reexport)
	assert.Equal(t, "alloc::string::String", reexport.Name)

	viaModule, err := table.Lookup("std::vec::Vec")
	require.NoError(t, err)
	assert.Equal(t, "alloc::vec::Vec", viaModule.Name)

	hashMap, err := table.Lookup("std::collections::HashMap")
	require.NoError(t, err)
	assert.Equal(t, "std::collections::hash::map::HashMap", hashMap.Name)
	assert.Equal(t, []string{"K", "V", "S"}, hashMap.Generics)
	require.Len(t, hashMap.Fields, 1)
	assert.Equal(t, "base::HashMap<K, V, S>", hashMap.Fields[0].Type)
}

func TestBuildTable_StructuralFailureIsIsolated(t *testing.T) {
	t.Parallel()

	data := `{
	  "root": 0,
	  "format_version": 39,
	  "index": {
	    "0": {"id": 0, "crate_id": 0, "name": "demo", "visibility": "public", "inner": {"module": {"items": [1, 2, 5]}}},
	    "1": {"id": 1, "crate_id": 0, "name": "Good", "visibility": "public",
	          "inner": {"struct": {"generics": {"params": []}, "kind": {"plain": {"fields": [3]}}}}},
	    "2": {"id": 2, "crate_id": 0, "name": "Bad", "visibility": "public",
	          "inner": {"struct": {"generics": {"params": []}, "kind": {"plain": {"fields": [404]}}}}},
	    "3": {"id": 3, "crate_id": 0, "name": "x", "visibility": "public", "inner": {"struct_field": {"primitive": "i32"}}},
	    "5": {"id": 5, "crate_id": 0, "name": null, "visibility": "public", "inner": {"use": {"name": "Alias", "id": 2, "is_glob": false}}}
	  }
	}`
	decoded, err := rustdoc.Decode([]byte(data))
	require.NoError(t, err)
	table, err := BuildTable(context.Background(), rustdoc.NewSet(rustdoc.BuildPathIndex("", decoded.Crate)))
	require.NoError(t, err)

	_, err = table.Lookup("demo::Good")
	require.NoError(t, err)

	for _, path := range []string{"demo::Bad", "demo::Alias"} {
		_, err = table.Lookup(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errdefs.ErrStructural))
		var structural *errdefs.StructuralError
		require.True(t, errors.As(err, &structural))
		assert.Equal(t, path, structural.Path)
	}
	assert.Equal(t, 2, table.Failures())
}

func TestCache_Lookup(t *testing.T) {
	t.Parallel()
	cache := NewCache(&countingLoader{table: fixtureTable(t)})
	ctx := context.Background()

	info, err := cache.Lookup(ctx, "alloc::string::String")
	require.NoError(t, err)
	assert.Equal(t, "String", info.SimpleName)
	assert.Equal(t, "alloc::string", info.ModulePath)
	require.Len(t, info.Fields, 1)
	assert.Equal(t, rustdoc.FieldInfo{Name: "vec", Type: "Vec<u8>", Public: false, Visibility: "default", StructName: "String"}, info.Fields[0])

	tuple, err := cache.Lookup(ctx, "alloc::num::Wrapping")
	require.NoError(t, err)
	assert.True(t, tuple.IsTuple())
	assert.Equal(t, "0", tuple.Fields[0].Name)

	unit, err := cache.Lookup(ctx, "alloc::alloc::Global")
	require.NoError(t, err)
	assert.True(t, unit.IsUnit())
	assert.Empty(t, unit.Fields)
}

func TestCache_ExactPathRequired(t *testing.T) {
	t.Parallel()
	cache := NewCache(&countingLoader{table: fixtureTable(t)})

	for _, path := range []string{"String", "string::String", "alloc::String", "std::collections::Hidden"} {
		_, err := cache.Lookup(context.Background(), path)
		assert.True(t, errors.Is(err, errdefs.ErrTypeNotFound), path)
		assert.False(t, cache.Exists(context.Background(), path), path)
	}
}

func TestCache_NotAStruct(t *testing.T) {
	t.Parallel()
	cache := NewCache(&countingLoader{table: fixtureTable(t)})

	tests := map[string]string{
		"alloc::string::ParseError": "enum",
		"std::vec":                  "module",
		"std::collections":          "module",
	}
	for path, kind := range tests {
		_, err := cache.Lookup(context.Background(), path)
		require.Error(t, err)
		var notStruct *errdefs.NotAStructError
		require.True(t, errors.As(err, &notStruct), path)
		assert.Equal(t, kind, notStruct.Kind)
		assert.False(t, cache.Exists(context.Background(), path))
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	t.Parallel()
	cache := NewCache(&countingLoader{table: fixtureTable(t)})
	ctx := context.Background()

	first, err := cache.Lookup(ctx, "alloc::vec::Vec")
	require.NoError(t, err)
	first.Fields[0].Name = "mutated"
	first.Generics[0] = "X"

	second, err := cache.Lookup(ctx, "alloc::vec::Vec")
	require.NoError(t, err)
	assert.Equal(t, "buf", second.Fields[0].Name)
	assert.Equal(t, "T", second.Generics[0])
}

func TestCache_ConcurrentInitializationRunsOnce(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t), gate: make(chan struct{}), started: make(chan struct{}, 64)}
	cache := NewCache(loader)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Lookup(context.Background(), "std::string::String")
			errs <- err
		}()
	}
	<-loader.started
	close(loader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_LateFlightReusesInstalledTable(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t)}
	cache := NewCache(loader)
	ctx := context.Background()

	// A caller saw no table for generation 0, then another caller's flight
	// installed it before this caller's flight began.
	_, gen := cache.snapshot()
	require.NoError(t, cache.EnsureInitialized(ctx))

	table, err := cache.build(ctx, gen)
	require.NoError(t, err)
	assert.Same(t, loader.table, table)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_ConcurrentInitializationStress(t *testing.T) {
	t.Parallel()
	table := fixtureTable(t)

	for round := 0; round < 2000; round++ {
		loader := &countingLoader{table: table}
		cache := NewCache(loader)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				assert.NoError(t, cache.EnsureInitialized(context.Background()))
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), loader.calls.Load(), "round %d", round)
	}
}

func TestCache_Idempotent(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t)}
	cache := NewCache(loader)
	ctx := context.Background()

	require.NoError(t, cache.EnsureInitialized(ctx))
	first, err := cache.List(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.EnsureInitialized(ctx))
	second, err := cache.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_StatsAndClear(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t)}
	cache := NewCache(loader)
	ctx := context.Background()

	assert.Equal(t, Stats{}, cache.Stats())
	assert.Zero(t, loader.calls.Load(), "stats never initializes")

	require.NoError(t, cache.EnsureInitialized(ctx))
	assert.Equal(t, Stats{Entries: loader.table.Len(), Initialized: true}, cache.Stats())

	cache.Clear()
	assert.Equal(t, Stats{Entries: 0, Initialized: false}, cache.Stats())

	_, err := cache.Lookup(ctx, "alloc::vec::Vec")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
	assert.True(t, cache.Stats().Initialized)
}

func TestCache_FailureLeavesUninitialized(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t), failN: 1}
	cache := NewCache(loader)
	ctx := context.Background()

	_, err := cache.Lookup(ctx, "alloc::vec::Vec")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrToolInvocation))
	assert.True(t, errors.Is(err, errdefs.ErrAnalysisFailure))
	assert.False(t, cache.Stats().Initialized)

	_, err = cache.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_ClearDuringInitialization(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t), gate: make(chan struct{}), started: make(chan struct{}, 4)}
	cache := NewCache(loader)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Lookup(context.Background(), "alloc::vec::Vec")
		done <- err
	}()
	<-loader.started
	cache.Clear()
	close(loader.gate)

	require.NoError(t, <-done)
	assert.False(t, cache.Stats().Initialized, "a stale build is not installed")

	require.NoError(t, cache.EnsureInitialized(context.Background()))
	assert.True(t, cache.Stats().Initialized)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_CallerContextBoundsWait(t *testing.T) {
	t.Parallel()
	loader := &countingLoader{table: fixtureTable(t), gate: make(chan struct{}), started: make(chan struct{}, 4)}
	cache := NewCache(loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Lookup(ctx, "alloc::vec::Vec")
		done <- err
	}()
	<-loader.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(loader.gate)
	require.Eventually(t, func() bool { return cache.Stats().Initialized }, 5*time.Second, 10*time.Millisecond,
		"the shared build completes after the waiter leaves")
}
