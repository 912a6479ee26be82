package fileindex

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const snapshotVersion = 1

var ErrCorrupt = errors.New("fileindex: corrupt index file")

type snapshot struct {
	Version int
	Names   map[string][]string
}

// Save writes the whole index to path. The file is replaced atomically and
// concurrent writers from other processes are serialised by a lock file.
func (x *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock index file: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	snap := snapshot{Version: snapshotVersion, Names: x.snapshot()}
	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

// Load reads an index written by Save. A missing file yields an empty index
// and no error. An unreadable or corrupt file also yields an empty, usable
// index, along with an error wrapping ErrCorrupt that callers may log.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return New(), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if snap.Version != snapshotVersion {
		return New(), fmt.Errorf("%w: unsupported version %d", ErrCorrupt, snap.Version)
	}

	return fromSnapshot(snap.Names), nil
}
