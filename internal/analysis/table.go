package analysis

import (
	"context"
	"sort"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

// Table is the full result of one analysis pass: every resolvable struct
// path, the kind of every other resolvable path, and per-path failures.
// A Table is not modified after it is installed in a Cache.
type Table struct {
	structs  map[string]*rustdoc.StructInfo
	kinds    map[string]string
	failures map[string]error
}

func NewTable() *Table {
	return &Table{
		structs:  make(map[string]*rustdoc.StructInfo),
		kinds:    make(map[string]string),
		failures: make(map[string]error),
	}
}

func (t *Table) AddStruct(path string, info *rustdoc.StructInfo) { t.structs[path] = info }

func (t *Table) AddKind(path, kind string) { t.kinds[path] = kind }

func (t *Table) AddFailure(path string, err error) { t.failures[path] = err }

// Lookup returns a copy of the struct at path.
func (t *Table) Lookup(path string) (*rustdoc.StructInfo, error) {
	if info, ok := t.structs[path]; ok {
		return info.Clone(), nil
	}
	if kind, ok := t.kinds[path]; ok {
		return nil, &errdefs.NotAStructError{Path: path, Kind: kind}
	}
	if err, ok := t.failures[path]; ok {
		return nil, err
	}
	return nil, &errdefs.TypeNotFoundError{Path: path}
}

// Exists reports whether path names a struct.
func (t *Table) Exists(path string) bool {
	_, ok := t.structs[path]
	return ok
}

// Len returns the number of struct paths.
func (t *Table) Len() int { return len(t.structs) }

// Paths returns the struct paths in sorted order.
func (t *Table) Paths() []string {
	paths := make([]string, 0, len(t.structs))
	for p := range t.structs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RangeStructs calls fn for each struct path until fn returns false.
func (t *Table) RangeStructs(fn func(path string, info *rustdoc.StructInfo) bool) {
	for p, info := range t.structs {
		if !fn(p, info) {
			return
		}
	}
}

// RangeKinds calls fn for each non-struct path until fn returns false.
func (t *Table) RangeKinds(fn func(path, kind string) bool) {
	for p, kind := range t.kinds {
		if !fn(p, kind) {
			return
		}
	}
}

// RangeFailures calls fn for each failed path until fn returns false.
func (t *Table) RangeFailures(fn func(path string, err error) bool) {
	for p, err := range t.failures {
		if !fn(p, err) {
			return
		}
	}
}

// Failures returns the number of failed paths.
func (t *Table) Failures() int { return len(t.failures) }

type extraction struct {
	info *rustdoc.StructInfo
	err  error
}

// BuildTable resolves every path the set knows and extracts each struct once.
// Re-export paths share the StructInfo of the item they resolve to.
func BuildTable(ctx context.Context, set *rustdoc.Set) (*Table, error) {
	log := slogctx.FromCtx(ctx)
	table := NewTable()
	memo := make(map[string]extraction)

	for i, path := range set.Paths() {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		target, err := set.Resolve(path)
		if err != nil {
			var notFound *errdefs.TypeNotFoundError
			if errors.As(err, &notFound) && len(notFound.Ambiguous) > 0 {
				log.DebugContext(ctx, "ambiguous path", "path", path, "candidates", notFound.Ambiguous)
				table.AddFailure(path, err)
			}
			continue
		}
		if target.Kind != "struct" {
			table.AddKind(path, target.Kind)
			continue
		}

		key := target.Crate + "#" + string(target.ID)
		ex, ok := memo[key]
		if !ok {
			ex = extract(set, target)
			memo[key] = ex
			if ex.err != nil {
				log.WarnContext(ctx, "skipping malformed struct", "path", target.Path, "error", ex.err)
			}
		}
		if ex.err != nil {
			reason := ex.err.Error()
			var structural *errdefs.StructuralError
			if errors.As(ex.err, &structural) {
				reason = structural.Reason
			}
			table.AddFailure(path, &errdefs.StructuralError{Path: path, Reason: reason})
			continue
		}
		table.AddStruct(path, ex.info)
	}

	log.DebugContext(ctx, "built struct table", "structs", table.Len(), "other", len(table.kinds), "failures", len(table.failures))
	return table, nil
}

func extract(set *rustdoc.Set, target rustdoc.Target) extraction {
	idx, ok := set.Index(target.Crate)
	if !ok {
		return extraction{err: &errdefs.StructuralError{Path: target.Path, Reason: "crate " + target.Crate + " not loaded"}}
	}
	item, ok := idx.Crate().Item(target.ID)
	if !ok {
		return extraction{err: &errdefs.StructuralError{Path: target.Path, Reason: "item " + string(target.ID) + " not in index"}}
	}
	info, err := rustdoc.ExtractStruct(idx.Crate(), item, target.Path)
	return extraction{info: info, err: err}
}
