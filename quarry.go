// Package quarry reports the layout of Rust structs in the standard library
// crates of the local toolchain.
//
// The first query runs `cargo doc` with rustdoc JSON output for the
// configured crates, decodes the artifacts and extracts every struct into an
// in-memory table. Later queries are map lookups. Paths must be full module
// paths; re-exported paths resolve to the same struct as the defining path.
//
//	info, err := quarry.MineStructInfo(ctx, "alloc::vec::Vec")
//	if errors.Is(err, quarry.ErrTypeNotFound) { ... }
package quarry

import (
	"context"
	"sync"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/config"
	"github.com/jcdickinson/quarry/internal/db"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
	"github.com/jcdickinson/quarry/internal/toolchain"
)

type (
	StructInfo = rustdoc.StructInfo
	FieldInfo  = rustdoc.FieldInfo
	StructKind = rustdoc.StructKind
	Stats      = analysis.Stats
	Config     = config.Config

	TypeNotFoundError = errdefs.TypeNotFoundError
	NotAStructError   = errdefs.NotAStructError
	StructuralError   = errdefs.StructuralError
	SchemaError       = errdefs.SchemaError
	ToolError         = errdefs.ToolError
	IOError           = errdefs.IOError
)

const (
	KindNamed = rustdoc.KindNamed
	KindTuple = rustdoc.KindTuple
	KindUnit  = rustdoc.KindUnit
)

var (
	ErrTypeNotFound     = errdefs.ErrTypeNotFound
	ErrNotAStruct       = errdefs.ErrNotAStruct
	ErrAnalysisFailure  = errdefs.ErrAnalysisFailure
	ErrToolInvocation   = errdefs.ErrToolInvocation
	ErrSchemaDecode     = errdefs.ErrSchemaDecode
	ErrStructural       = errdefs.ErrStructural
	ErrIO               = errdefs.ErrIO
	ErrToolchainMissing = errdefs.ErrToolchainMissing
	ErrComponentMissing = errdefs.ErrComponentMissing
)

// snapshotsKept bounds the stored snapshots; older toolchain versions are
// pruned when an Analyzer opens the store.
const snapshotsKept = 3

// Analyzer owns one struct cache and the toolchain, artifact cache and
// snapshot store behind it. It is safe for concurrent use.
type Analyzer struct {
	cache     *analysis.Cache
	driver    *toolchain.Driver
	artifacts *toolchain.ArtifactCache
	store     *db.DB
}

var _ analysis.Service = (*Analyzer)(nil)

type options struct {
	runner toolchain.Runner
	loader analysis.Loader
}

type Option func(*options)

// WithRunner runs toolchain commands through r instead of real processes.
func WithRunner(r toolchain.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithLoader replaces the toolchain pipeline with l. The snapshot store is
// not used.
func WithLoader(l analysis.Loader) Option {
	return func(o *options) { o.loader = l }
}

// NewAnalyzer wires an Analyzer from cfg. Nothing runs until the first query.
// A snapshot store that cannot be opened is logged and skipped.
func NewAnalyzer(ctx context.Context, cfg *config.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := slogctx.FromCtx(ctx)

	a := &Analyzer{
		driver:    toolchain.NewDriver(toolchain.OptionsFromConfig(cfg), o.runner),
		artifacts: toolchain.NewArtifactCache(config.ArtifactDir()),
	}

	if o.loader != nil {
		a.cache = analysis.NewCache(o.loader)
		return a, nil
	}

	source := analysis.NewToolchainLoader(a.driver, a.artifacts, rustdoc.DecodeOptions{
		MinFormatVersion: cfg.Rustdoc.MinFormatVersion,
		MaxFormatVersion: cfg.Rustdoc.MaxFormatVersion,
	})
	var loader analysis.Loader = source
	if cfg.Store.Enabled {
		store, err := db.New(config.DBPath())
		if err != nil {
			log.WarnContext(ctx, "snapshot store unavailable", "path", config.DBPath(), "error", err)
		} else {
			if n, err := store.PruneSnapshots(ctx, snapshotsKept); err != nil {
				log.WarnContext(ctx, "pruning snapshots failed", "error", err)
			} else if n > 0 {
				log.DebugContext(ctx, "pruned snapshots", "deleted", n)
			}
			a.store = store
			loader = analysis.NewSnapshotLoader(store, source)
		}
	}
	a.cache = analysis.NewCache(loader)
	return a, nil
}

func (a *Analyzer) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Lookup returns a copy of the struct at the exact full path.
func (a *Analyzer) Lookup(ctx context.Context, path string) (*StructInfo, error) {
	return a.cache.Lookup(ctx, path)
}

// Exists reports whether path names a struct. It never fails; analysis
// errors report false.
func (a *Analyzer) Exists(ctx context.Context, path string) bool {
	return a.cache.Exists(ctx, path)
}

func (a *Analyzer) List(ctx context.Context) ([]string, error) {
	return a.cache.List(ctx)
}

// Stats never triggers analysis.
func (a *Analyzer) Stats(ctx context.Context) (Stats, error) {
	return a.cache.Stats(), nil
}

func (a *Analyzer) EnsureInitialized(ctx context.Context) error {
	return a.cache.EnsureInitialized(ctx)
}

// Clear empties the in-memory table. With purge it also deletes stored
// snapshots and compressed artifacts so the next query regenerates them.
func (a *Analyzer) Clear(ctx context.Context, purge bool) error {
	a.cache.Clear()
	if !purge {
		return nil
	}
	var errs []error
	if a.store != nil {
		if err := a.store.DeleteSnapshots(ctx); err != nil {
			errs = append(errs, errors.Errorf("deleting snapshots: %w", err))
		}
	}
	if err := a.artifacts.Purge(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GenerateArtifact documents one crate and returns the path of its rustdoc
// JSON artifact.
func (a *Analyzer) GenerateArtifact(ctx context.Context, crate string) (string, error) {
	return a.driver.GenerateOne(ctx, crate)
}

var (
	defaultMu       sync.Mutex
	defaultAnalyzer *Analyzer
)

// Default returns the process-wide Analyzer, creating it from the loaded
// configuration on first use. A failed creation is retried on the next call.
func Default(ctx context.Context) (*Analyzer, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAnalyzer != nil {
		return defaultAnalyzer, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := NewAnalyzer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defaultAnalyzer = a
	return a, nil
}

// SetDefault replaces the process-wide Analyzer and returns the previous one.
func SetDefault(a *Analyzer) *Analyzer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultAnalyzer
	defaultAnalyzer = a
	return prev
}

func currentDefault() *Analyzer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultAnalyzer
}

// Init builds the default table now instead of on the first query.
func Init(ctx context.Context) error {
	a, err := Default(ctx)
	if err != nil {
		return err
	}
	return a.EnsureInitialized(ctx)
}

// MineStructInfo returns the struct at the exact full path using the default
// Analyzer.
func MineStructInfo(ctx context.Context, path string) (*StructInfo, error) {
	a, err := Default(ctx)
	if err != nil {
		return nil, err
	}
	return a.Lookup(ctx, path)
}

// IsStruct reports whether path names a struct using the default Analyzer.
func IsStruct(ctx context.Context, path string) bool {
	a, err := Default(ctx)
	if err != nil {
		slogctx.FromCtx(ctx).DebugContext(ctx, "default analyzer unavailable", "error", err)
		return false
	}
	return a.Exists(ctx, path)
}

// ListStructs returns every struct path known to the default Analyzer.
func ListStructs(ctx context.Context) ([]string, error) {
	a, err := Default(ctx)
	if err != nil {
		return nil, err
	}
	return a.List(ctx)
}

// CacheStats describes the default Analyzer without creating or initializing
// it.
func CacheStats() Stats {
	a := currentDefault()
	if a == nil {
		return Stats{}
	}
	return a.cache.Stats()
}

// ClearCache empties the default Analyzer's table.
func ClearCache() {
	if a := currentDefault(); a != nil {
		a.cache.Clear()
	}
}

// GenerateArtifact documents one crate with the default Analyzer's toolchain
// and returns the artifact path.
func GenerateArtifact(ctx context.Context, crate string) (string, error) {
	a, err := Default(ctx)
	if err != nil {
		return "", err
	}
	return a.GenerateArtifact(ctx, crate)
}
