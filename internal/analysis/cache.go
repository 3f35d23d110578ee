// Package analysis builds and caches the table of struct information for the
// configured crates.
package analysis

import (
	"context"
	"strconv"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/singleflight"

	"github.com/jcdickinson/quarry/internal/rustdoc"
)

// Stats describes the cache without initializing it.
type Stats struct {
	Entries     int  `json:"entries" yaml:"entries"`
	Initialized bool `json:"initialized" yaml:"initialized"`
}

// Cache holds the table produced by a Loader. The table is built on first
// use; concurrent callers share one build. Clear starts a new generation,
// and a build started in an earlier generation is never installed.
type Cache struct {
	loader Loader
	group  singleflight.Group

	mu    sync.RWMutex
	table *Table
	gen   uint64
}

func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader}
}

func (c *Cache) snapshot() (*Table, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table, c.gen
}

// EnsureInitialized builds the table if it is not already present.
func (c *Cache) EnsureInitialized(ctx context.Context) error {
	_, err := c.ensure(ctx)
	return err
}

// ensure returns the current table, building it if needed. A caller whose
// context ends stops waiting; the build continues for the other callers.
func (c *Cache) ensure(ctx context.Context) (*Table, error) {
	table, gen := c.snapshot()
	if table != nil {
		return table, nil
	}

	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		return c.build(context.WithoutCancel(ctx), gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	}
}

// build runs inside the singleflight call for gen. A flight that starts after
// an earlier one for the same generation already installed its table returns
// that table without loading again.
func (c *Cache) build(ctx context.Context, gen uint64) (*Table, error) {
	c.mu.RLock()
	table, current := c.table, c.gen
	c.mu.RUnlock()
	if current == gen && table != nil {
		return table, nil
	}
	return c.initialize(ctx, gen)
}

func (c *Cache) initialize(ctx context.Context, gen uint64) (*Table, error) {
	log := slogctx.FromCtx(ctx)
	log.InfoContext(ctx, "initializing struct cache", "generation", gen)
	start := time.Now()

	table, err := c.loader.Load(ctx)
	if err != nil {
		log.ErrorContext(ctx, "struct cache initialization failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.InfoContext(ctx, "discarding table from a cleared generation", "generation", gen)
		return table, nil
	}
	if c.table == nil {
		c.table = table
	}
	log.InfoContext(ctx, "struct cache initialized", "structs", c.table.Len(), "elapsed", time.Since(start))
	return c.table, nil
}

// Lookup returns a copy of the struct at the exact path.
func (c *Cache) Lookup(ctx context.Context, path string) (*rustdoc.StructInfo, error) {
	table, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return table.Lookup(path)
}

// Exists reports whether path names a struct. Initialization failures
// report false.
func (c *Cache) Exists(ctx context.Context, path string) bool {
	table, err := c.ensure(ctx)
	if err != nil {
		slogctx.FromCtx(ctx).DebugContext(ctx, "exists check failed", "path", path, "error", err)
		return false
	}
	return table.Exists(path)
}

// List returns every struct path in sorted order.
func (c *Cache) List(ctx context.Context) ([]string, error) {
	table, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return table.Paths(), nil
}

// Table returns the installed table, building it if needed.
func (c *Cache) Table(ctx context.Context) (*Table, error) {
	return c.ensure(ctx)
}

func (c *Cache) Stats() Stats {
	table, _ := c.snapshot()
	if table == nil {
		return Stats{}
	}
	return Stats{Entries: table.Len(), Initialized: true}
}

// Clear drops the table and starts a new generation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.table = nil
}
