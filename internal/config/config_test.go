package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
lock_dir: /tmp/cronhost-test
log_dir: /var/log/cronhost
env_files:
  - path: /opt/signals/.env
    optional: true
jobs:
  - name: news_refresh
    command: ["python3", "-m", "src.fetchers.news_refresh"]
    dir: /opt/signals
    timeout: 15m
    schedule: "*/30 * * * *"
    env:
      PYTHONPATH: .
  - name: sentiment_refresh
    command: ["python3", "-m", "src.fetchers.sentiment_refresh"]
    timeout: 10m
    keep_logs: 5
retention:
  logs: 14
  backups: 7
backup:
  dir: /var/backups/signals
  command: ["/opt/signals/scripts/backup.sh"]
  timeout: 20m
maintenance:
  schedule: "0 3 * * *"
history:
  path: /var/lib/cronhost/history.db
  busy_timeout: 5s
`

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cronhost.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return Load(path)
}

func TestLoadValid(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, validYAML)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	job, ok := cfg.Job("news_refresh")
	if !ok {
		t.Fatal("job not found")
	}
	if job.TimeoutDuration() != 15*time.Minute {
		t.Fatalf("timeout = %v", job.TimeoutDuration())
	}
	if job.Key() != "news_refresh" {
		t.Fatalf("default lock key = %q", job.Key())
	}
	if !job.InheritsEnv() {
		t.Fatal("inherit_env should default to true")
	}

	sr, _ := cfg.Job("sentiment_refresh")
	if cfg.LogRetention(sr) != 5 {
		t.Fatalf("per-job keep_logs override ignored: %d", cfg.LogRetention(sr))
	}
	if cfg.LogRetention(job) != 14 {
		t.Fatalf("retention.logs = %d", cfg.LogRetention(job))
	}
	if cfg.BackupRetention() != 7 {
		t.Fatalf("retention.backups = %d", cfg.BackupRetention())
	}
	if cfg.Backup.Pattern != DefaultBackupPattern {
		t.Fatalf("backup pattern default not applied: %q", cfg.Backup.Pattern)
	}
	if cfg.History.Keep != DefaultHistoryKeep {
		t.Fatalf("history keep default not applied: %d", cfg.History.Keep)
	}
	if cfg.History.BusyTimeoutDuration() != 5*time.Second {
		t.Fatalf("busy_timeout = %v", cfg.History.BusyTimeoutDuration())
	}
}

func TestLoadRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "log_dir: /l\njbos: []\n",
			want: "jbos",
		},
		{
			name: "missing log_dir",
			yaml: "jobs:\n  - name: a\n    command: [x]\n",
			want: "log_dir",
		},
		{
			name: "no jobs",
			yaml: "log_dir: /l\njobs: []\n",
			want: "at least one job",
		},
		{
			name: "duplicate job",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\n  - name: a\n    command: [y]\n",
			want: "duplicate",
		},
		{
			name: "missing command",
			yaml: "log_dir: /l\njobs:\n  - name: a\n",
			want: "command",
		},
		{
			name: "bad timeout",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\n    timeout: soon\n",
			want: "invalid duration",
		},
		{
			name: "bad schedule",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\n    schedule: whenever\n",
			want: "invalid schedule",
		},
		{
			name: "bad maintenance schedule",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\nmaintenance:\n  schedule: \"61 * * * *\"\n",
			want: "maintenance.schedule",
		},
		{
			name: "backup without dir",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\nbackup:\n  command: [b]\n",
			want: "backup.dir",
		},
		{
			name: "negative keep_logs",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\n    keep_logs: -1\n",
			want: "keep_logs",
		},
		{
			name: "telegram enabled without token",
			yaml: "log_dir: /l\njobs:\n  - name: a\n    command: [x]\nnotify:\n  telegram:\n    enabled: true\n    chat_id: 1\n",
			want: "token",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tt.yaml)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLockDirDefault(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "log_dir: /l\njobs:\n  - name: a\n    command: [x]\n")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockDir == "" {
		t.Fatal("lock_dir default not applied")
	}
}
