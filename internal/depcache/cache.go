package depcache

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Media type recorded on stored dependency-state blobs.
	blobMediaType = "application/vnd.crossforge.depstate.v1.tar"

	// Filename of the fingerprint-to-descriptor index.
	indexFilename = "index.json"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Subdirectory of the user cache dir used when no root is given.
const defaultCacheName = "crossforge"

// A keyed store of dependency-state blobs on the local filesystem.
type Cache struct {
	root string // Cache root; blobs live under root/blobs/sha256.

	mu sync.Mutex // Serializes index read-modify-write cycles across jobs.
}

// Opens (creating if necessary) a cache rooted at the given directory.
//
// An empty root places the cache under the user cache directory following
// XDG conventions (e.g., ~/.cache/crossforge on Linux).
func Open(root string) (*Cache, error) {
	if root == "" {
		root = filepath.Join(xdg.CacheHome, defaultCacheName)
	}

	if err := os.MkdirAll(filepath.Join(root, "blobs", "sha256"), DefaultDirMode); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}

	return &Cache{root: root}, nil
}

// Looks up the blob stored under a fingerprint.
//
// Returns the path of the stored blob and true on a hit. A missing index,
// missing entry, or missing blob file all count as a miss; misses are never
// fatal to the caller.
func (c *Cache) Lookup(key digest.Digest) (string, bool) {
	index, err := c.readIndex()
	if err != nil {
		slog.Debug("cache index unreadable, treating as miss", "error", err)
		return "", false
	}

	desc, ok := index[key.String()]
	if !ok {
		return "", false
	}

	path := c.blobPath(desc.Digest)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}

	return path, true
}

// Stores a blob file under a fingerprint.
//
// The blob is copied into the content-addressed store and the index entry
// for the key is replaced. Concurrent stores for different keys both land;
// concurrent stores for the same key resolve to last-write-wins.
func (c *Cache) Store(key digest.Digest, blobPath string) error {
	desc, err := c.writeBlob(blobPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	// The index is one shared file, so the read-modify-write cycle must not
	// interleave between jobs.
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.readIndex()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	index[key.String()] = desc

	if err := c.writeIndex(index); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Debug("cache entry stored", "key", key, "digest", desc.Digest, "size", desc.Size)
	return nil
}

// Copies a file into the blob store, returning its descriptor.
//
// The file is first staged under a temporary name and renamed into its
// content-addressed location once the digest is known, so readers never see
// a partially written blob.
func (c *Cache) writeBlob(path string) (ocispec.Descriptor, error) {
	src, err := os.Open(path)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(c.root, "blob-*")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer os.Remove(tmp.Name())

	digester := digest.Canonical.Digester()
	size, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), src)
	if err != nil {
		tmp.Close()
		return ocispec.Descriptor{}, err
	}
	if err := tmp.Close(); err != nil {
		return ocispec.Descriptor{}, err
	}

	dgst := digester.Digest()
	if err := os.Rename(tmp.Name(), c.blobPath(dgst)); err != nil {
		return ocispec.Descriptor{}, err
	}

	return ocispec.Descriptor{
		MediaType: blobMediaType,
		Digest:    dgst,
		Size:      size,
	}, nil
}

// Reads the index, returning an empty index when none exists yet.
func (c *Cache) readIndex() (map[string]ocispec.Descriptor, error) {
	raw, err := os.ReadFile(filepath.Join(c.root, indexFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]ocispec.Descriptor), nil
		}
		return nil, err
	}

	index := make(map[string]ocispec.Descriptor)
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, err
	}

	return index, nil
}

// Writes the index atomically via a uniquely named temporary file and rename.
func (c *Cache) writeIndex(index map[string]ocispec.Descriptor) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.root, indexFilename+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), DefaultFileMode); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(c.root, indexFilename))
}

// Returns the content-addressed path for a blob digest.
func (c *Cache) blobPath(dgst digest.Digest) string {
	return filepath.Join(c.root, "blobs", dgst.Algorithm().String(), dgst.Encoded())
}
