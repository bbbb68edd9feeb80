package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cronhost/pkg/logx"
)

// Manager loads the config file and, in daemon mode, watches it for
// changes. A snapshot is published only after it validates; a broken
// edit keeps the previous config live.
type Manager struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cfg *Config
}

func NewManager(path string, log logx.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// Load parses and commits the current file content.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Get returns the last committed config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch emits validated config snapshots on file changes until ctx ends.
// Editors produce bursts of write/rename events, so changes are debounced.
func (m *Manager) Watch(ctx context.Context) (<-chan *Config, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors that replace the file (rename+create)
	// would otherwise drop the watch on the old inode.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	out := make(chan *Config, 1)
	go func() {
		defer close(out)
		defer w.Close()

		var pending *time.Timer
		var pendingC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(300 * time.Millisecond)
					pendingC = pending.C
				} else {
					if !pending.Stop() {
						select {
						case <-pending.C:
						default:
						}
					}
					pending.Reset(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("config watch error", logx.Err(err))
			case <-pendingC:
				pending = nil
				pendingC = nil
				cfg, err := m.Load()
				if err != nil {
					m.log.Error("config reload rejected, keeping previous", logx.Err(err))
					continue
				}
				m.log.Info("config reloaded", logx.String("path", m.path))
				// Deliver the latest; drop a stale undelivered snapshot.
				select {
				case out <- cfg:
				default:
					select {
					case <-out:
					default:
					}
					select {
					case out <- cfg:
					default:
					}
				}
			}
		}
	}()
	return out, nil
}
