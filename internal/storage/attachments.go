// Package storage abstracts the staged-attachment blob store. Clients upload
// attachments to a staging location before the message send request; the
// messaging service validates the metadata and, on rejection or failure,
// removes the staged artifact so nothing partially-validated survives.
//
// The actual blob persistence is an external concern; this package only
// covers the compensating-cleanup hook the message flow needs, plus a
// local-disk implementation for single-node and test deployments.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a staged URL resolves outside the staging
// directory (path traversal or an absolute path from another store).
var ErrOutsideRoot = errors.New("staged path outside upload root")

// Store removes staged attachment artifacts. Implementations must treat an
// already-missing artifact as success: cleanup is compensating and may race
// with other cleanup attempts.
type Store interface {
	// Remove deletes the staged artifact referenced by url.
	Remove(ctx context.Context, url string) error
}

// LocalStore is a Store over a local staging directory. Staged URLs are of
// the form "/files/<name>"; Remove maps them back under Root and refuses
// anything that escapes it.
type LocalStore struct {
	// Root is the absolute or working-directory-relative staging directory.
	Root string
}

// NewLocalStore constructs a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore { return &LocalStore{Root: dir} }

// Remove deletes the staged file for url. A missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, url string) error {
	name := filepath.Base(strings.TrimPrefix(url, "/files/"))
	if name == "" || name == "." || name == ".." {
		return ErrOutsideRoot
	}

	path := filepath.Join(s.Root, name)

	absRoot, err := filepath.Abs(s.Root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return ErrOutsideRoot
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NopStore ignores removals. Useful when the blob store is fully external
// and cleanup happens through its own lifecycle rules.
type NopStore struct{}

// Remove implements Store.
func (NopStore) Remove(context.Context, string) error { return nil }
