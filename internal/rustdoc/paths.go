package rustdoc

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/jcdickinson/quarry/internal/errdefs"
)

// Target is the item a path resolves to.
type Target struct {
	Crate string // crate that defines the item
	ID    ID
	Kind  string
	Path  string // defining path in Crate
}

// Reexport represents a pub use that re-exports a module (or a glob of one)
// under a different prefix.
type Reexport struct {
	LocalPrefix  string // Path as seen from the re-exporting crate
	SourceCrate  string // Crate that defines the module
	SourcePrefix string // Path in the source crate
	Glob         bool   // only direct children of SourcePrefix are reachable
}

// PathIndex maps full paths within one crate to the items they name. Paths
// come from the module tree (definitions and named pub uses of local items),
// from pub uses of items in other crates (aliases), and from module and glob
// re-exports (prefixes resolved at lookup time).
type PathIndex struct {
	name  string
	crate *Crate

	entries   map[string][]Target
	aliases   map[string]string
	reexports []Reexport
	canonical map[ID]string
}

// BuildPathIndex walks the module tree of crate. An empty name uses the
// root module's name.
func BuildPathIndex(name string, crate *Crate) *PathIndex {
	if name == "" {
		name = crate.RootName()
	}
	idx := &PathIndex{
		name:      name,
		crate:     crate,
		entries:   make(map[string][]Target),
		aliases:   make(map[string]string),
		canonical: make(map[ID]string),
	}
	idx.canonical[crate.Root] = name
	idx.walkModule(crate.Root, name, map[ID]bool{})
	idx.addSummaryFallbacks()
	return idx
}

func (p *PathIndex) Name() string { return p.name }

func (p *PathIndex) Crate() *Crate { return p.crate }

// Len returns the number of direct entries.
func (p *PathIndex) Len() int { return len(p.entries) }

func (p *PathIndex) Reexports() []Reexport { return p.reexports }

// CanonicalPath returns the defining path of a local item.
func (p *PathIndex) CanonicalPath(id ID) (string, bool) {
	path, ok := p.canonical[id]
	return path, ok
}

func (p *PathIndex) walkModule(moduleID ID, modulePath string, visited map[ID]bool) {
	if visited[moduleID] {
		return
	}
	visited[moduleID] = true

	moduleItem, ok := p.crate.Item(moduleID)
	if !ok {
		return
	}
	modData := moduleItem.Payload("module")
	if modData == nil {
		return
	}
	var mod struct {
		Items []ID `json:"items"`
	}
	if err := json.Unmarshal(modData, &mod); err != nil {
		return
	}

	for _, childID := range mod.Items {
		child, ok := p.crate.Item(childID)
		if !ok {
			continue
		}
		kind := child.Kind()

		if kind == "use" {
			p.addUse(child, modulePath)
			continue
		}

		name := child.ItemName()
		if name == "" {
			continue
		}
		path := modulePath + "::" + name
		p.addEntry(path, Target{Crate: p.name, ID: childID, Kind: kind})
		if _, seen := p.canonical[childID]; !seen {
			p.canonical[childID] = path
		}
		if kind == "module" {
			p.walkModule(childID, path, visited)
		}
	}
}

func (p *PathIndex) addUse(item *Item, modulePath string) {
	if !item.Visibility.IsPublic() {
		return
	}
	useData := item.Payload("use")
	if useData == nil {
		return
	}
	var use struct {
		Name   string `json:"name"`
		ID     *ID    `json:"id"`
		IsGlob bool   `json:"is_glob"`
		Glob   bool   `json:"glob"`
	}
	if err := json.Unmarshal(useData, &use); err != nil || use.ID == nil || *use.ID == "" {
		return
	}
	isGlob := use.IsGlob || use.Glob
	localPath := modulePath + "::" + use.Name

	target, local := p.crate.Item(*use.ID)
	if local && target.CrateID != 0 {
		local = false
	}

	if local {
		targetKind := target.Kind()
		sourcePath := p.localPath(*use.ID)
		switch {
		case isGlob:
			if sourcePath == "" || sourcePath == modulePath {
				return // glob from self, nothing to remap
			}
			p.reexports = append(p.reexports, Reexport{LocalPrefix: modulePath, SourceCrate: p.name, SourcePrefix: sourcePath, Glob: true})
		case targetKind == "module":
			if sourcePath != "" && sourcePath != localPath {
				p.reexports = append(p.reexports, Reexport{LocalPrefix: localPath, SourceCrate: p.name, SourcePrefix: sourcePath})
			}
			p.addEntry(localPath, Target{Crate: p.name, ID: *use.ID, Kind: targetKind})
		default:
			p.addEntry(localPath, Target{Crate: p.name, ID: *use.ID, Kind: targetKind})
		}
		return
	}

	summary, sourcePath, ok := p.crate.SummaryPath(*use.ID)
	if !ok {
		return
	}
	sourceCrate := p.crate.ExternalCrateName(summary.CrateID)
	if sourceCrate == "" {
		sourceCrate = summary.Path[0]
	}
	switch {
	case isGlob:
		p.reexports = append(p.reexports, Reexport{LocalPrefix: modulePath, SourceCrate: sourceCrate, SourcePrefix: sourcePath, Glob: true})
	case summary.Kind == "module":
		p.reexports = append(p.reexports, Reexport{LocalPrefix: localPath, SourceCrate: sourceCrate, SourcePrefix: sourcePath})
	default:
		p.aliases[localPath] = sourcePath
	}
}

// localPath returns the path of a local item: where the walk found it, or
// failing that its summary path.
func (p *PathIndex) localPath(id ID) string {
	if path, ok := p.canonical[id]; ok {
		return path
	}
	if _, path, ok := p.crate.SummaryPath(id); ok {
		return path
	}
	return ""
}

// addSummaryFallbacks indexes local items the module walk did not reach
// under their summary path.
func (p *PathIndex) addSummaryFallbacks() {
	for key, summary := range p.crate.Paths {
		if summary.CrateID != 0 || len(summary.Path) == 0 {
			continue
		}
		id := ID(key)
		if _, seen := p.canonical[id]; seen {
			continue
		}
		item, ok := p.crate.Item(id)
		if !ok {
			continue
		}
		path := strings.Join(summary.Path, "::")
		p.canonical[id] = path
		p.addEntry(path, Target{Crate: p.name, ID: id, Kind: item.Kind()})
	}
}

func (p *PathIndex) addEntry(path string, t Target) {
	for _, existing := range p.entries[path] {
		if existing.ID == t.ID {
			return
		}
	}
	p.entries[path] = append(p.entries[path], t)
}

// direct returns the targets found at path by the module walk, with their
// defining paths filled in.
func (p *PathIndex) direct(path string) []Target {
	targets := p.entries[path]
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Path = p.localPath(t.ID)
		if t.Path == "" {
			t.Path = path
		}
		out = append(out, t)
	}
	return out
}

// resolveReexport checks if path falls under a module or glob re-export.
// Returns every source path under the longest matching prefix.
func (p *PathIndex) resolveReexport(path string) []Reexport {
	best := -1
	var matches []Reexport
	for _, r := range p.reexports {
		suffix, ok := r.suffix(path)
		if !ok {
			continue
		}
		m := Reexport{LocalPrefix: r.LocalPrefix, SourceCrate: r.SourceCrate, SourcePrefix: r.SourcePrefix + suffix, Glob: r.Glob}
		switch n := len(r.LocalPrefix); {
		case n > best:
			best = n
			matches = []Reexport{m}
		case n == best:
			matches = append(matches, m)
		}
	}
	return matches
}

// suffix returns the part of path below LocalPrefix, including the leading
// "::". A glob only covers direct children; a module re-export also covers
// LocalPrefix itself, with an empty suffix.
func (r Reexport) suffix(path string) (string, bool) {
	if !r.Glob && path == r.LocalPrefix {
		return "", true
	}
	if !strings.HasPrefix(path, r.LocalPrefix+"::") {
		return "", false
	}
	suffix := path[len(r.LocalPrefix):]
	if r.Glob && strings.Contains(suffix[2:], "::") {
		return "", false
	}
	return suffix, true
}

// Set resolves full paths across several crates. The first path segment
// selects the crate.
type Set struct {
	crates map[string]*PathIndex
	order  []string
}

func NewSet(indexes ...*PathIndex) *Set {
	s := &Set{crates: make(map[string]*PathIndex, len(indexes))}
	for _, idx := range indexes {
		if _, dup := s.crates[idx.name]; !dup {
			s.order = append(s.order, idx.name)
		}
		s.crates[idx.name] = idx
	}
	return s
}

// Crates returns the crate names in the order they were added.
func (s *Set) Crates() []string { return append([]string(nil), s.order...) }

func (s *Set) Index(crate string) (*PathIndex, bool) {
	idx, ok := s.crates[crate]
	return idx, ok
}

// Resolve maps an exact full path to one item. Definitions, named re-exports
// and module re-exports are all candidates, and choose settles between them
// by namespace. Glob re-exports only add candidates when no explicit item in
// the type namespace has the name. Indirection is followed one level: the
// re-exported path must be a direct entry of the source crate.
func (s *Set) Resolve(path string) (Target, error) {
	crateName, ok := firstSegment(path)
	if !ok {
		return Target{}, &errdefs.TypeNotFoundError{Path: path}
	}
	idx, ok := s.crates[crateName]
	if !ok {
		return Target{}, &errdefs.TypeNotFoundError{Path: path}
	}

	explicit := idx.direct(path)
	if aliased, ok := idx.aliases[path]; ok {
		explicit = append(explicit, s.directIn(aliased)...)
	}
	var globbed []Target
	for _, r := range idx.resolveReexport(path) {
		src, ok := s.crates[r.SourceCrate]
		if !ok {
			continue
		}
		if r.Glob {
			globbed = append(globbed, src.direct(r.SourcePrefix)...)
		} else {
			explicit = append(explicit, src.direct(r.SourcePrefix)...)
		}
	}

	targets := explicit
	if !hasTypeNamespace(explicit) {
		targets = append(targets, globbed...)
	}
	if len(targets) == 0 {
		return Target{}, &errdefs.TypeNotFoundError{Path: path}
	}
	return choose(path, targets)
}

func hasTypeNamespace(targets []Target) bool {
	for _, t := range targets {
		if namespaceOf(t.Kind) == typeNamespace {
			return true
		}
	}
	return false
}

func (s *Set) directIn(path string) []Target {
	crateName, ok := firstSegment(path)
	if !ok {
		return nil
	}
	idx, ok := s.crates[crateName]
	if !ok {
		return nil
	}
	return idx.direct(path)
}

// Paths enumerates every path Resolve may accept: direct entries, aliases
// and the expansion of prefix re-exports against the source crate's direct
// entries. Sorted, without duplicates.
func (s *Set) Paths() []string {
	seen := make(map[string]struct{})
	for _, name := range s.order {
		idx := s.crates[name]
		for path := range idx.entries {
			seen[path] = struct{}{}
		}
		for path := range idx.aliases {
			seen[path] = struct{}{}
		}
		for _, r := range idx.reexports {
			src, ok := s.crates[r.SourceCrate]
			if !ok {
				continue
			}
			source := Reexport{LocalPrefix: r.SourcePrefix, Glob: r.Glob}
			for path := range src.entries {
				if suffix, ok := source.suffix(path); ok {
					seen[r.LocalPrefix+suffix] = struct{}{}
				}
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// choose picks the single target for path. Type-namespace items shadow
// values and macros of the same name; more than one distinct item left is
// an ambiguity.
func choose(path string, targets []Target) (Target, error) {
	var typed []Target
	for _, t := range targets {
		if namespaceOf(t.Kind) == typeNamespace {
			typed = append(typed, t)
		}
	}
	if len(typed) > 0 {
		targets = typed
	}

	distinct := targets[:0:0]
	seen := make(map[string]bool)
	for _, t := range targets {
		key := t.Crate + "#" + string(t.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		distinct = append(distinct, t)
	}
	if len(distinct) == 1 {
		return distinct[0], nil
	}

	ambiguous := make([]string, 0, len(distinct))
	for _, t := range distinct {
		ambiguous = append(ambiguous, t.Kind+" "+t.Path)
	}
	sort.Strings(ambiguous)
	return Target{}, &errdefs.TypeNotFoundError{Path: path, Ambiguous: ambiguous}
}

const (
	typeNamespace = iota
	valueNamespace
	macroNamespace
)

func namespaceOf(kind string) int {
	switch kind {
	case "function", "constant", "static", "assoc_const":
		return valueNamespace
	case "macro", "proc_macro", "proc_attribute", "proc_derive":
		return macroNamespace
	default:
		return typeNamespace
	}
}

// firstSegment returns the crate segment of a full path. Relative forms and
// single-segment names are rejected.
func firstSegment(path string) (string, bool) {
	crateName, rest, ok := strings.Cut(path, "::")
	if !ok || crateName == "" || rest == "" {
		return "", false
	}
	switch crateName {
	case "crate", "self", "super":
		return "", false
	}
	return crateName, true
}
