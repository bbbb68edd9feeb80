// Package history keeps a small sqlite index of attempted runs.
//
// The per-job log file remains the authoritative record; this index
// exists so operators can ask "when did news_refresh last succeed"
// without paging through logs. Its failures are logged and never fail
// a cycle.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cronhost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	Keep        int
	BusyTimeout time.Duration
}

// Run is one attempted execution, success or not.
type Run struct {
	Job         string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	ExitCode    int
	TimedOut    bool
	OutputBytes int
}

type Store struct {
	db   *sql.DB
	keep int
	log  logx.Logger
}

// Open initializes the store. It returns (nil, nil) when no path is
// configured; a nil *Store is safe to use and records nothing.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	keep := cfg.Keep
	if keep <= 0 {
		keep = 200
	}
	st := &Store{db: db, keep: keep, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one run and bounds the per-job row count.
func (s *Store) Record(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(job, started_at, finished_at, status, exit_code, timed_out, output_bytes)
		 VALUES(?,?,?,?,?,?,?)`,
		r.Job, r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Status, r.ExitCode, boolInt(r.TimedOut), r.OutputBytes,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE job = ? AND id NOT IN
		   (SELECT id FROM runs WHERE job = ? ORDER BY id DESC LIMIT ?)`,
		r.Job, r.Job, s.keep,
	)
	return err
}

// Recent returns up to n runs for job, newest first.
func (s *Store) Recent(ctx context.Context, job string, n int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job, started_at, finished_at, status, exit_code, timed_out, output_bytes
		 FROM runs WHERE job = ? ORDER BY id DESC LIMIT ?`, job, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		var timedOut int
		if err := rows.Scan(&r.Job, &started, &finished, &r.Status, &r.ExitCode, &timedOut, &r.OutputBytes); err != nil {
			return nil, err
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, errors.New("history: corrupt started_at: " + started)
		}
		r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished)
		if err != nil {
			return nil, errors.New("history: corrupt finished_at: " + finished)
		}
		r.TimedOut = timedOut != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
