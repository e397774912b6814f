// Package blobstore implements a flat, content-addressed disk store:
// one file per blob, named by its git-sha256 hash, written atomically
// via write-temp-then-rename.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/socketdev/socket-patch/githash"
	"github.com/socketdev/socket-patch/internal/dcontext"
)

// DefaultExistenceCacheSize bounds the in-memory Exists cache.
const DefaultExistenceCacheSize = 10000

// Store is a single flat blob directory. All paths passed to its methods
// are hashes, never caller-controlled path segments, so there is no
// traversal surface to defend against.
type Store struct {
	dir   string
	cache *lru.ARCCache[githash.Hash, bool]
}

// New returns a Store rooted at dir (typically <project>/.socket/blobs),
// creating it if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}
	cache, err := lru.NewARC[githash.Hash, bool](DefaultExistenceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("blobstore: new cache: %w", err)
	}
	return &Store{dir: dir, cache: cache}, nil
}

func (s *Store) path(h githash.Hash) string {
	return filepath.Join(s.dir, string(h))
}

// Put writes content under hash if absent. If a blob with this name
// already exists and its size matches content's, Put leaves it untouched;
// if the sizes differ, it overwrites the blob. It does not re-verify hash
// equality (callers are expected to have pre-verified hash = Hasher(content)).
func (s *Store) Put(ctx context.Context, h githash.Hash, content []byte) error {
	log := dcontext.GetLogger(ctx)

	if fi, err := os.Stat(s.path(h)); err == nil {
		if fi.Size() != int64(len(content)) {
			log.WithField("hash", h).Warn("blobstore: existing blob size differs from incoming content, overwriting")
		} else {
			s.cache.Add(h, true)
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: stat %s: %w", h, err)
	}

	tmp := filepath.Join(s.dir, "."+string(h)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("blobstore: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path(h)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	s.cache.Add(h, true)
	return nil
}

// PutReader streams r (of known size) into the store without buffering
// the whole content at once beyond the OS write buffer.
func (s *Store) PutReader(ctx context.Context, h githash.Hash, r io.Reader) error {
	tmp := filepath.Join(s.dir, "."+string(h)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("blobstore: open temp: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("blobstore: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("blobstore: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: close: %w", err)
	}
	if err := os.Rename(tmp, s.path(h)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	s.cache.Add(h, true)
	return nil
}

// Get reads the full blob for h, returning (nil, nil) if absent.
func (s *Store) Get(h githash.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", h, err)
	}
	return data, nil
}

// Exists reports whether a blob named h is present, consulting (and
// populating) the in-memory existence cache before touching disk.
func (s *Store) Exists(h githash.Hash) (bool, error) {
	if v, ok := s.cache.Get(h); ok {
		return v, nil
	}
	_, err := os.Stat(s.path(h))
	switch {
	case err == nil:
		s.cache.Add(h, true)
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("blobstore: stat %s: %w", h, err)
	}
}

// List returns every hash currently in the store, excluding dotfiles
// (which are reserved for in-progress temp writes).
func (s *Store) List() ([]githash.Hash, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blobstore: readdir %s: %w", s.dir, err)
	}

	var hashes []githash.Hash
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) == 0 || name[0] == '.' {
			continue
		}
		h, err := githash.ParseHash(name)
		if err != nil {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// Delete best-effort removes the blob named h. A missing blob is not an
// error.
func (s *Store) Delete(h githash.Hash) error {
	s.cache.Remove(h)
	err := os.Remove(s.path(h))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete %s: %w", h, err)
	}
	return nil
}

// Size returns the on-disk size of the blob named h.
func (s *Store) Size(h githash.Hash) (int64, error) {
	fi, err := os.Stat(s.path(h))
	if err != nil {
		return 0, fmt.Errorf("blobstore: stat %s: %w", h, err)
	}
	return fi.Size(), nil
}

// VerifyContent re-hashes content and reports whether it equals h —
// exercised by callers who want to pre-verify before Put, and by the
// post-write re-verification step of apply/rollback.
func VerifyContent(h githash.Hash, content []byte) bool {
	return githash.SumBytes(content) == h
}
