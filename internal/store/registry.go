package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aceteam-ai/opencorp/internal/logging"
)

type entry struct {
	coll *Collection
	lock *sync.Mutex
}

// Registry is the process-wide map of open collections.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Acquire returns the collection and lock for path, opening the file and
// creating its parent directory on first use. Repeated calls with the same
// path return the same pair.
//
// A damaged file yields a *CorruptionError; see Open for the recovering
// variant.
func (r *Registry) Acquire(path string) (*Collection, *sync.Mutex, error) {
	key, err := normalize(path)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.coll, e.lock, nil
	}
	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return nil, nil, fmt.Errorf("store: ensure dir for %s: %w", key, err)
	}
	coll, err := openCollection(key)
	if err != nil {
		return nil, nil, err
	}
	e := &entry{coll: coll, lock: &sync.Mutex{}}
	r.entries[key] = e
	return e.coll, e.lock, nil
}

// Handle is what Open returns.
type Handle struct {
	Collection *Collection
	Lock       *sync.Mutex

	// Backup is set when a corrupt file was moved aside and replaced by an
	// empty collection.
	Backup string
}

// Open is Acquire plus corruption recovery: a corrupt file is preserved
// under a backup name, a warning is logged and an empty collection is used
// from then on.
func (r *Registry) Open(ctx context.Context, path string) (Handle, error) {
	coll, lock, err := r.Acquire(path)
	if err == nil {
		return Handle{Collection: coll, Lock: lock}, nil
	}
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		return Handle{}, err
	}

	backup, rerr := r.Recover(path)
	if rerr != nil {
		return Handle{}, fmt.Errorf("%w (recovery failed: %v)", err, rerr)
	}
	logging.FromContext(ctx).Warn("store: corrupt collection backed up, starting empty",
		"path", corrupt.Path, "backup", backup, "error", corrupt.Err)

	coll, lock, err = r.Acquire(path)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Collection: coll, Lock: lock, Backup: backup}, nil
}

// Recover moves a corrupt collection file (and its WAL side files) to a
// backup name and returns that name. It refuses to touch a path that is
// currently open.
func (r *Registry) Recover(path string) (string, error) {
	key, err := normalize(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, open := r.entries[key]; open {
		return "", fmt.Errorf("store: %s is open, refusing to move it", key)
	}

	backup := key + ".corrupt"
	if _, err := os.Stat(backup); err == nil {
		backup = fmt.Sprintf("%s.corrupt.%d", key, time.Now().UnixNano())
	}
	if err := os.Rename(key, backup); err != nil {
		return "", fmt.Errorf("store: back up %s: %w", key, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(key + suffix); err == nil {
			_ = os.Rename(key+suffix, backup+suffix)
		}
	}
	return backup, nil
}

// CloseAll closes every known collection and empties the registry. Safe to
// call more than once.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, e := range r.entries {
		if err := e.coll.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	r.entries = make(map[string]*entry)
	return errors.Join(errs...)
}

// Len reports how many collections are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New("store: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("store: resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
