package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"cronhost/pkg/logx"
)

// Defaults applied by Validate when the corresponding field is omitted.
const (
	DefaultLogRetention    = 14
	DefaultBackupRetention = 7
	DefaultHistoryKeep     = 200
	DefaultBackupPattern   = "*.tar.gz"
)

// Config is the full cronhost configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "15m").
// Schedules use standard 5-field cron syntax plus descriptors
// ("@hourly", "@every 30m"); they only matter in daemon mode.
type Config struct {
	// LockDir holds the advisory lock files. Shared host-wide so unrelated
	// processes using the same convention interoperate.
	LockDir string `yaml:"lock_dir"`
	// LogDir holds per-job active logs and their rotated archives.
	LogDir string `yaml:"log_dir"`

	Logging LoggingConfig `yaml:"logging"`

	// EnvFiles are applied to every job, before the job's own env_files.
	// Later sources override earlier ones.
	EnvFiles []EnvFile `yaml:"env_files"`

	Jobs []Job `yaml:"jobs"`

	Retention   RetentionConfig   `yaml:"retention"`
	Backup      *BackupConfig     `yaml:"backup,omitempty"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	History     HistoryConfig     `yaml:"history"`
	Notify      NotifyConfig      `yaml:"notify"`
	Daemon      DaemonConfig      `yaml:"daemon"`
}

type LoggingConfig struct {
	Level   string     `yaml:"level"`
	Console *bool      `yaml:"console,omitempty"` // default: true
	File    FileConfig `yaml:"file"`
}

type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Logx translates the logging section for pkg/logx.
func (l LoggingConfig) Logx() logx.Config {
	console := true
	if l.Console != nil {
		console = *l.Console
	}
	return logx.Config{
		Level:   l.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// EnvFile is one KEY=VALUE configuration source.
type EnvFile struct {
	Path     string `yaml:"path"`
	Optional bool   `yaml:"optional"`
}

// Job describes one scheduled task. Immutable once loaded.
type Job struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`

	// Timeout bounds one execution. "0s" or omitted disables the limit.
	Timeout string `yaml:"timeout,omitempty"`

	// Schedule is only used by `cronhost daemon`; external cron callers
	// leave it empty and trigger `cronhost run <name>` themselves.
	Schedule string `yaml:"schedule,omitempty"`

	// LockKey defaults to Name. Distinct jobs sharing a key serialize
	// against each other.
	LockKey string `yaml:"lock_key,omitempty"`

	EnvFiles []EnvFile         `yaml:"env_files,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`

	// KeepLogs overrides retention.logs for this job's archives.
	KeepLogs *int `yaml:"keep_logs,omitempty"`

	// InheritEnv controls whether the parent environment is the base the
	// env files are merged onto. Default: true (matches how cron invokes
	// wrapper scripts).
	InheritEnv *bool `yaml:"inherit_env,omitempty"`

	timeout time.Duration
}

// TimeoutDuration returns the parsed timeout. Valid after Validate.
func (j Job) TimeoutDuration() time.Duration { return j.timeout }

// Key returns the effective lock key.
func (j Job) Key() string {
	if strings.TrimSpace(j.LockKey) != "" {
		return j.LockKey
	}
	return j.Name
}

// InheritsEnv reports whether the parent process environment is merged in.
func (j Job) InheritsEnv() bool {
	if j.InheritEnv == nil {
		return true
	}
	return *j.InheritEnv
}

type RetentionConfig struct {
	// Logs is the number of rotated archives kept per job.
	// 0 keeps none; omitted defaults to DefaultLogRetention.
	Logs *int `yaml:"logs,omitempty"`
	// Backups is the number of backup archives kept.
	Backups *int `yaml:"backups,omitempty"`
}

// BackupConfig describes the repository snapshot job run by `maintain`.
// The command is opaque; it is expected to drop a timestamped archive
// matching Pattern into Dir.
type BackupConfig struct {
	Dir     string   `yaml:"dir"`
	Pattern string   `yaml:"pattern,omitempty"`
	Command []string `yaml:"command,omitempty"`
	Timeout string   `yaml:"timeout,omitempty"`

	timeout time.Duration
}

func (b BackupConfig) TimeoutDuration() time.Duration { return b.timeout }

type MaintenanceConfig struct {
	// Schedule triggers `maintain` in daemon mode. Empty disables it there.
	Schedule string `yaml:"schedule,omitempty"`
}

// HistoryConfig controls the optional sqlite run-history index.
// Empty path disables it; the per-job log file stays authoritative.
type HistoryConfig struct {
	Path        string `yaml:"path,omitempty"`
	Keep        int    `yaml:"keep,omitempty"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`

	busyTimeout time.Duration
}

func (h HistoryConfig) BusyTimeoutDuration() time.Duration { return h.busyTimeout }

type NotifyConfig struct {
	// OnSuccess also notifies on clean completions (default: failures only).
	OnSuccess bool           `yaml:"on_success,omitempty"`
	Telegram  TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token,omitempty"`
	ChatID     int64  `yaml:"chat_id,omitempty"`
	RatePerSec int    `yaml:"rate_per_sec,omitempty"`
}

type DaemonConfig struct {
	// Watchdog enables systemd watchdog pings when running under a unit
	// with WatchdogSec set.
	Watchdog bool `yaml:"watchdog,omitempty"`
}

// scheduleParser accepts standard 5-field specs plus @descriptors,
// the same set the daemon registers entries with.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Load reads, strictly decodes and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the config and resolves defaults and duration fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LogDir) == "" {
		return fmt.Errorf("log_dir is required")
	}
	if strings.TrimSpace(c.LockDir) == "" {
		c.LockDir = filepath.Join(os.TempDir(), "cronhost")
	}

	if len(c.Jobs) == 0 {
		return fmt.Errorf("jobs: at least one job is required")
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if strings.TrimSpace(j.Name) == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, j.Name)
		}
		seen[j.Name] = struct{}{}
		if len(j.Command) == 0 {
			return fmt.Errorf("jobs.%s: command is required", j.Name)
		}
		if j.KeepLogs != nil && *j.KeepLogs < 0 {
			return fmt.Errorf("jobs.%s: keep_logs must be >= 0", j.Name)
		}
		d, err := ParseDurationField("jobs."+j.Name+".timeout", j.Timeout)
		if err != nil {
			return err
		}
		j.timeout = d
		if s := strings.TrimSpace(j.Schedule); s != "" {
			if _, err := scheduleParser.Parse(s); err != nil {
				return fmt.Errorf("jobs.%s: invalid schedule %q: %w", j.Name, j.Schedule, err)
			}
		}
	}

	if c.Retention.Logs != nil && *c.Retention.Logs < 0 {
		return fmt.Errorf("retention.logs must be >= 0")
	}
	if c.Retention.Backups != nil && *c.Retention.Backups < 0 {
		return fmt.Errorf("retention.backups must be >= 0")
	}

	if c.Backup != nil {
		if strings.TrimSpace(c.Backup.Dir) == "" {
			return fmt.Errorf("backup.dir is required when backup is configured")
		}
		if strings.TrimSpace(c.Backup.Pattern) == "" {
			c.Backup.Pattern = DefaultBackupPattern
		}
		d, err := ParseDurationField("backup.timeout", c.Backup.Timeout)
		if err != nil {
			return err
		}
		c.Backup.timeout = d
	}

	if s := strings.TrimSpace(c.Maintenance.Schedule); s != "" {
		if _, err := scheduleParser.Parse(s); err != nil {
			return fmt.Errorf("maintenance.schedule: invalid schedule %q: %w", c.Maintenance.Schedule, err)
		}
	}

	if c.History.Keep < 0 {
		return fmt.Errorf("history.keep must be >= 0")
	}
	if c.History.Keep == 0 {
		c.History.Keep = DefaultHistoryKeep
	}
	d, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout)
	if err != nil {
		return err
	}
	c.History.busyTimeout = d

	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
			return fmt.Errorf("notify.telegram.token is required when enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when enabled")
		}
	}

	return nil
}

// Job returns the named job spec.
func (c *Config) Job(name string) (Job, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// LogRetention resolves the archive keep-count for one job.
func (c *Config) LogRetention(j Job) int {
	if j.KeepLogs != nil {
		return *j.KeepLogs
	}
	if c.Retention.Logs != nil {
		return *c.Retention.Logs
	}
	return DefaultLogRetention
}

// BackupRetention resolves the backup archive keep-count.
func (c *Config) BackupRetention() int {
	if c.Retention.Backups != nil {
		return *c.Retention.Backups
	}
	return DefaultBackupRetention
}
