package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
	"github.com/jcdickinson/quarry/internal/toolchain"
)

// Loader produces a complete Table.
type Loader interface {
	Load(ctx context.Context) (*Table, error)
}

// KeyedLoader is a Loader whose output is determined by a key, so it can be
// stored and reused.
type KeyedLoader interface {
	Loader
	Key(ctx context.Context) (string, error)
}

// ToolchainLoader documents the configured crates with the toolchain, reusing
// compressed artifacts from earlier runs of the same toolchain version.
type ToolchainLoader struct {
	driver    *toolchain.Driver
	artifacts *toolchain.ArtifactCache
	decode    rustdoc.DecodeOptions
}

// NewToolchainLoader returns a loader. artifacts may be nil.
func NewToolchainLoader(driver *toolchain.Driver, artifacts *toolchain.ArtifactCache, decode rustdoc.DecodeOptions) *ToolchainLoader {
	return &ToolchainLoader{driver: driver, artifacts: artifacts, decode: decode}
}

// Key identifies the toolchain version, crate set and accepted formats.
func (l *ToolchainLoader) Key(ctx context.Context) (string, error) {
	version, err := l.driver.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%d-%d", version, strings.Join(l.driver.Crates(), ","),
		l.decode.MinFormatVersion, l.decode.MaxFormatVersion), nil
}

func (l *ToolchainLoader) Load(ctx context.Context) (*Table, error) {
	set, err := l.LoadSet(ctx)
	if err != nil {
		return nil, err
	}
	return BuildTable(ctx, set)
}

// LoadSet reads or generates each crate's artifact and decodes them in
// parallel.
func (l *ToolchainLoader) LoadSet(ctx context.Context) (*rustdoc.Set, error) {
	log := slogctx.FromCtx(ctx)

	version, err := l.driver.Version(ctx)
	if err != nil {
		return nil, err
	}
	crates := l.driver.Crates()

	raw := make(map[string][]byte, len(crates))
	var missing []string
	for _, c := range crates {
		if l.artifacts != nil && l.artifacts.Has(c, version) {
			data, err := l.artifacts.Load(c, version)
			if err == nil {
				log.DebugContext(ctx, "using cached artifact", "crate", c)
				raw[c] = data
				continue
			}
			log.WarnContext(ctx, "cached artifact unreadable, regenerating", "crate", c, "error", err)
		}
		missing = append(missing, c)
	}

	if len(missing) > 0 {
		paths, err := l.driver.Generate(ctx, missing...)
		if err != nil {
			return nil, err
		}
		for _, c := range missing {
			data, err := os.ReadFile(paths[c])
			if err != nil {
				return nil, &errdefs.IOError{Op: "read artifact", Path: paths[c], Err: err}
			}
			raw[c] = data
			if l.artifacts != nil {
				if err := l.artifacts.Save(c, version, data); err != nil {
					log.WarnContext(ctx, "failed to cache artifact", "crate", c, "error", err)
				}
			}
		}
	}

	indexes := make([]*rustdoc.PathIndex, len(crates))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range crates {
		g.Go(func() error {
			idx, err := l.decodeCrate(gctx, c, raw[c])
			if err != nil {
				return err
			}
			indexes[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rustdoc.NewSet(indexes...), nil
}

func (l *ToolchainLoader) decodeCrate(ctx context.Context, crate string, data []byte) (*rustdoc.PathIndex, error) {
	ctx = slogctx.With(ctx, "crate", crate)
	log := slogctx.FromCtx(ctx)

	decoded, err := rustdoc.DecodeWith(data, l.decode)
	if err != nil {
		return nil, errors.Errorf("decoding %s: %w", crate, err)
	}
	for _, m := range decoded.Malformed {
		log.DebugContext(ctx, "skipping malformed item", "id", m.ID, "error", m.Err)
	}

	name := decoded.RootName()
	if name == "" {
		name = strings.ReplaceAll(crate, "-", "_")
	}
	idx := rustdoc.BuildPathIndex(name, decoded.Crate)
	log.DebugContext(ctx, "indexed crate", "items", len(decoded.Index), "paths", idx.Len(),
		"malformed", len(decoded.Malformed), "format_version", decoded.FormatVersion)
	return idx, nil
}

// SnapshotStore persists tables by key.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, key string) (*Table, bool, error)
	SaveSnapshot(ctx context.Context, key string, table *Table) error
}

// SnapshotLoader serves tables from a SnapshotStore, loading from source and
// storing the result on a miss. Store failures are logged, never returned.
type SnapshotLoader struct {
	store  SnapshotStore
	source KeyedLoader
}

func NewSnapshotLoader(store SnapshotStore, source KeyedLoader) *SnapshotLoader {
	return &SnapshotLoader{store: store, source: source}
}

func (l *SnapshotLoader) Load(ctx context.Context) (*Table, error) {
	log := slogctx.FromCtx(ctx)

	key, err := l.source.Key(ctx)
	if err != nil {
		return nil, err
	}

	table, ok, err := l.store.LoadSnapshot(ctx, key)
	switch {
	case err != nil:
		log.WarnContext(ctx, "failed to load snapshot", "key", key, "error", err)
	case ok:
		log.InfoContext(ctx, "loaded snapshot", "key", key, "structs", table.Len())
		return table, nil
	}

	table, err = l.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.SaveSnapshot(ctx, key, table); err != nil {
		log.WarnContext(ctx, "failed to save snapshot", "key", key, "error", err)
	}
	return table, nil
}

// Key delegates to the source, so snapshot loaders can be stacked.
func (l *SnapshotLoader) Key(ctx context.Context) (string, error) {
	return l.source.Key(ctx)
}
