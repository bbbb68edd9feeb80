// Package envfile resolves KEY=VALUE configuration sources into an
// explicit environment map. It never mutates the process environment;
// the runner applies the result to exactly one execution.
package envfile

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// Source is one env file. Optional sources that do not exist are skipped.
type Source struct {
	Path     string
	Optional bool
}

// Load reads the sources in order. A key defined in a later source
// overrides an earlier one. Any malformed source fails the whole load;
// the returned error names the offending file (godotenv includes the
// offending line content).
func Load(sources ...Source) (map[string]string, error) {
	env := make(map[string]string)
	for _, src := range sources {
		m, err := godotenv.Read(src.Path)
		if err != nil {
			if src.Optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("env file %s: %w", src.Path, err)
		}
		for k, v := range m {
			env[k] = v
		}
	}
	return env, nil
}

// Merge overlays extra on top of base, returning base. Used for inline
// per-job env entries, which always win over file sources.
func Merge(base map[string]string, extra map[string]string) map[string]string {
	if base == nil {
		base = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
