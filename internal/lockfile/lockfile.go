// Package lockfile provides named, non-blocking exclusive locks keyed by
// job identity. Locks are OS advisory file locks, so they serialize runs
// across independent orchestrator invocations on one host, and the kernel
// releases them if the holder dies.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrBusy is returned by TryAcquire when another process holds the lock.
// Callers treat it as a skip, not a failure.
var ErrBusy = errors.New("lock busy")

type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// TryAcquire attempts the lock for key without blocking.
// Returns ErrBusy when it is held elsewhere.
func (m *Manager) TryAcquire(key string) (*Handle, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("lockfile: empty key")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create dir %s: %w", m.dir, err)
	}
	path := m.Path(key)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: %s: %w", path, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Handle{fl: fl}, nil
}

// Path returns the lock file path derived from key. The mapping is
// deterministic so unrelated programs using the same convention
// interoperate.
func (m *Manager) Path(key string) string {
	return filepath.Join(m.dir, sanitize(key)+".lock")
}

// sanitize keeps lock file names shell- and filesystem-safe.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

// Handle is a held lock. Release is idempotent; the OS additionally
// releases the lock on process exit, so a crashed holder never wedges
// the schedule.
type Handle struct {
	mu       sync.Mutex
	fl       *flock.Flock
	released bool
}

func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	return h.fl.Unlock()
}

// Path returns the underlying lock file path.
func (h *Handle) Path() string { return h.fl.Path() }
