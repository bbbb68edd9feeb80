// Package logsink persists job output to per-job log files with bounded
// retention. The active file is append-only between rotations; rotation
// copies then truncates, so a writer still holding the old descriptor
// never loses bytes and never resurrects truncated content.
package logsink

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"cronhost/internal/runner"
)

// archiveStamp orders archives chronologically by name alone, which lets
// retention sort lexicographically.
const archiveStamp = "2006-01-02_15-04-05"

const headerTimeFormat = "2006-01-02 15:04:05"

type Sink struct {
	dir string
}

func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// ActivePath returns the fixed per-job active log path.
func (s *Sink) ActivePath(job string) string {
	return filepath.Join(s.dir, job+".log")
}

// ArchivePattern matches this job's rotated archives but never its
// active file.
func (s *Sink) ArchivePattern(job string) string {
	return job + ".*.log"
}

// Dir returns the log directory.
func (s *Sink) Dir() string { return s.dir }

// Append writes a header line followed by the run's combined output.
// Append mode means interleaved writers sharing one file never truncate
// each other's prior content.
func (s *Sink) Append(job string, res runner.Result) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("logsink: %w", err)
	}
	f, err := os.OpenFile(s.ActivePath(job), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logsink: %w", err)
	}
	defer f.Close()

	header := fmt.Sprintf("=== %s UTC job=%s user=%s status=%s exit=%d ===\n",
		res.StartedAt.UTC().Format(headerTimeFormat), job, currentUser(), res.Status(), res.ExitCode)
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("logsink: %w", err)
	}
	if res.StartErr != nil {
		if _, err := fmt.Fprintf(f, "%v\n", res.StartErr); err != nil {
			return fmt.Errorf("logsink: %w", err)
		}
	}
	if len(res.Output) > 0 {
		if _, err := f.Write(res.Output); err != nil {
			return fmt.Errorf("logsink: %w", err)
		}
		if res.Output[len(res.Output)-1] != '\n' {
			if _, err := f.WriteString("\n"); err != nil {
				return fmt.Errorf("logsink: %w", err)
			}
		}
	}
	return nil
}

// Rotate archives the active log under a UTC timestamp name and
// truncates the active file. A missing or empty active log is a no-op,
// never an error: a never-written job has nothing to archive.
func (s *Sink) Rotate(job string) (string, error) {
	active := s.ActivePath(job)
	st, err := os.Stat(active)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("logsink: rotate %s: %w", job, err)
	}
	if st.Size() == 0 {
		return "", nil
	}

	stamp := time.Now().UTC().Format(archiveStamp)
	archive := filepath.Join(s.dir, fmt.Sprintf("%s.%s.log", job, stamp))
	// Two rotations inside one second must not overwrite each other.
	for n := 2; ; n++ {
		err := copyFile(active, archive)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("logsink: rotate %s: %w", job, err)
		}
		archive = filepath.Join(s.dir, fmt.Sprintf("%s.%s-%d.log", job, stamp, n))
	}
	// Truncate rather than remove: a concurrent appender keeps its open
	// descriptor valid and its next write lands in the fresh file.
	if err := os.Truncate(active, 0); err != nil {
		return "", fmt.Errorf("logsink: rotate %s: %w", job, err)
	}
	return archive, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func currentUser() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "?"
	}
	return u.Username
}
