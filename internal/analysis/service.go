package analysis

import (
	"context"

	"github.com/jcdickinson/quarry/internal/rustdoc"
)

// Service is the query surface shared by the in-process analyzer and the
// daemon client.
type Service interface {
	Lookup(ctx context.Context, path string) (*rustdoc.StructInfo, error)
	Exists(ctx context.Context, path string) bool
	List(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	EnsureInitialized(ctx context.Context) error
	// Clear empties the in-memory table. With purge it also deletes
	// persisted snapshots and artifacts.
	Clear(ctx context.Context, purge bool) error
}
