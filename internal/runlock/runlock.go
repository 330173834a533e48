// Package runlock serializes sync runs for a binding across goroutines and
// processes. Each key maps to an in-process mutex plus an advisory lock file
// under a shared directory.
package runlock

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/errors"
)

// Registry hands out run locks by key.
type Registry struct {
	dir string

	mu   sync.Mutex
	held map[string]bool
}

// New returns a Registry that places lock files in dir. An empty dir keeps
// locks in-process only.
func New(dir string) (*Registry, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
			return nil, errors.WrapIO("create", dir, err)
		}
	}
	return &Registry{dir: dir, held: make(map[string]bool)}, nil
}

// Dir returns the lock directory.
func (r *Registry) Dir() string {
	return r.dir
}

// TryLock acquires the lock for key without blocking. It returns
// errors.ErrRunInProgress when another run holds it.
func (r *Registry) TryLock(key string) (func(), error) {
	r.mu.Lock()
	if r.held[key] {
		r.mu.Unlock()
		return nil, errors.ErrRunInProgress
	}
	r.held[key] = true
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.held, key)
		r.mu.Unlock()
	}

	if r.dir == "" {
		return release, nil
	}

	path := r.Path(key)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		release()
		return nil, errors.WrapIO("lock", path, err)
	}
	if !locked {
		release()
		return nil, errors.ErrRunInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			release()
		})
	}, nil
}

// Path returns the lock file used for key.
func (r *Registry) Path(key string) string {
	return filepath.Join(r.dir, sanitize(key)+".lock")
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
}
