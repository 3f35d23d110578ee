package toolchain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
)

// ArtifactCache keeps zstd-compressed rustdoc JSON keyed by crate and
// toolchain version, so a new process can skip cargo doc.
type ArtifactCache struct {
	dir string
}

func NewArtifactCache(dir string) *ArtifactCache {
	return &ArtifactCache{dir: dir}
}

func (c *ArtifactCache) Dir() string { return c.dir }

func (c *ArtifactCache) path(crate, version string) string {
	sum := sha256.Sum256([]byte(version))
	return filepath.Join(c.dir, crate+"_"+hex.EncodeToString(sum[:8])+".json.zst")
}

// Save compresses and stores rustdoc JSON bytes.
func (c *ArtifactCache) Save(crate, version string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errors.Errorf("creating artifact cache dir: %w", err)
	}

	path := c.path(crate, version)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp)

	w, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return errors.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		f.Close()
		return errors.Errorf("writing compressed data: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return errors.Errorf("closing zstd writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return errors.Errorf("closing cache file: %w", err)
	}
	// Readers never see a partially written artifact.
	if err := os.Rename(tmp, path); err != nil {
		return errors.Errorf("installing cache file: %w", err)
	}
	return nil
}

// Load returns the decompressed rustdoc JSON for crate at version.
func (c *ArtifactCache) Load(crate, version string) ([]byte, error) {
	path := c.path(crate, version)
	f, err := os.Open(path)
	if err != nil {
		return nil, &errdefs.IOError{Op: "open cached artifact", Path: path, Err: err}
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &errdefs.IOError{Op: "decompress cached artifact", Path: path, Err: err}
	}
	return data, nil
}

// Has reports whether an artifact for crate at version is cached.
func (c *ArtifactCache) Has(crate, version string) bool {
	_, err := os.Stat(c.path(crate, version))
	return err == nil
}

// Purge deletes every cached artifact.
func (c *ArtifactCache) Purge() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return errors.Errorf("removing artifact cache: %w", err)
	}
	return nil
}
