// Package retention enforces "keep only the N most recent archives"
// over directories of timestamped files.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cronhost/pkg/logx"
)

type entry struct {
	path string
	mod  int64
}

// Prune deletes every file in dir matching pattern beyond the keep most
// recent ones, ordered by modification time (names embed UTC stamps, so
// name order agrees and breaks ties). keep=0 deletes all matches.
// Individual deletion failures are logged and skipped; they never abort
// pruning of the remaining files. Returns the number of files removed.
func Prune(dir, pattern string, keep int, log logx.Logger) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("retention: keep must be >= 0, got %d", keep)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, fmt.Errorf("retention: bad pattern %q: %w", pattern, err)
	}

	entries := make([]entry, 0, len(matches))
	for _, p := range matches {
		st, err := os.Stat(p)
		if err != nil {
			// Raced with another sweeper; nothing to keep or delete.
			continue
		}
		if st.IsDir() {
			continue
		}
		entries = append(entries, entry{path: p, mod: st.ModTime().UnixNano()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod != entries[j].mod {
			return entries[i].mod > entries[j].mod
		}
		return entries[i].path > entries[j].path
	})

	if len(entries) <= keep {
		return 0, nil
	}

	removed := 0
	for _, e := range entries[keep:] {
		if err := os.Remove(e.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Warn("retention: delete failed", logx.String("path", e.path), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}
