// Package contentstore locates staged object content by its digest.
//
// Content lives under a two-level fan-out derived from the digest so that no
// single directory holds more than a bounded number of entries:
//
//	<root>/<hash[0:2]>/<hash[2:8]>/<hash>
package contentstore

import (
	_ "crypto/sha256" // registers the canonical digest algorithm
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ErrNotFound is returned when no content is staged for a hash.
var ErrNotFound = errors.New("content not found")

// Shard returns the slash-separated relative path fragment for hash. The
// caller must pass a hash of at least 8 characters.
func Shard(hash string) string {
	return path.Join(hash[0:2], hash[2:8], hash)
}

// Store is a content store rooted at a directory.
type Store struct {
	Root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{Root: root}
}

// Encoded returns the part of hash that names the content on disk. Hashes of
// the form "algorithm:hex" are validated and reduced to their hex part; bare
// hex hashes are returned unchanged.
func Encoded(hash string) (string, error) {
	if !strings.Contains(hash, ":") {
		if len(hash) < 8 {
			return "", fmt.Errorf("hash %q is too short", hash)
		}
		if strings.TrimLeft(hash, "0123456789abcdefABCDEF") != "" {
			return "", fmt.Errorf("hash %q is not hexadecimal", hash)
		}
		return hash, nil
	}
	d, err := digest.Parse(hash)
	if err != nil {
		return "", fmt.Errorf("parse digest %q: %w", hash, err)
	}
	return d.Encoded(), nil
}

// Path returns the absolute location of the content for hash.
func (s *Store) Path(hash string) (string, error) {
	enc, err := Encoded(hash)
	if err != nil {
		return "", err
	}
	return s.shardPath(enc), nil
}

func (s *Store) shardPath(enc string) string {
	return filepath.Join(s.Root, filepath.FromSlash(Shard(enc)))
}

// Has reports whether content for hash is staged.
func (s *Store) Has(hash string) bool {
	p, err := s.Path(hash)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Open returns a reader for the content staged under hash.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	p, err := s.Path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Put stages the content of r under its canonical digest and returns it.
// Staging the same content twice is a no-op.
func (s *Store) Put(r io.Reader) (digest.Digest, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("create store root: %w", err)
	}
	tmp, err := os.CreateTemp(s.Root, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("stage content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	d := digester.Digest()
	dst := s.shardPath(d.Encoded())
	if s.Has(d.String()) {
		return d, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create shard directory: %w", err)
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("commit content %s: %w", d, err)
	}
	return d, nil
}

// PutFile stages the file at path.
func (s *Store) PutFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.Put(f)
}
