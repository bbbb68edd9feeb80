package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"cronhost/internal/config"
	"cronhost/internal/envfile"
	"cronhost/internal/lockfile"
	"cronhost/internal/notifier"
	"cronhost/internal/retention"
	"cronhost/internal/runner"
	"cronhost/pkg/logx"
)

// maintenanceKey serializes maintenance cycles against each other so a
// sweep never races another sweep's rotation.
const maintenanceKey = "maintenance"

// backupJobName is the log identity of the backup command's output.
const backupJobName = "backup"

// Maintain runs one maintenance cycle: the optional backup command, log
// rotation for every configured job, and retention pruning of rotated
// logs and backup archives. Kept off the hot path so per-run cycles do
// no O(files) work.
func (o *Orchestrator) Maintain(ctx context.Context) (Status, error) {
	handle, err := o.locks.TryAcquire(maintenanceKey)
	if errors.Is(err, lockfile.ErrBusy) {
		o.log.Info("maintenance lock busy, skipping")
		return StatusSkipped, nil
	}
	if err != nil {
		return StatusFailed, err
	}
	defer handle.Release()

	status := StatusOK

	if o.cfg.Backup != nil && len(o.cfg.Backup.Command) > 0 {
		if s := o.runBackup(ctx); s != StatusOK {
			status = s
		}
	}
	if o.cfg.Backup != nil {
		removed, err := retention.Prune(o.cfg.Backup.Dir, o.cfg.Backup.Pattern, o.cfg.BackupRetention(), o.log)
		if err != nil {
			o.log.Error("backup prune failed", logx.Err(err))
			status = StatusFailed
		} else if removed > 0 {
			o.log.Info("pruned backup archives", logx.Int("removed", removed))
		}
	}

	for _, job := range o.cfg.Jobs {
		if !o.sweepJobLogs(job) {
			status = StatusFailed
		}
	}

	return status, nil
}

// sweepJobLogs rotates and prunes one job's archives under the job's
// own lock: a rotation racing an in-flight run could otherwise lose an
// append landing between the archive copy and the truncate. A held lock
// skips the sweep; the next maintenance pass catches up.
func (o *Orchestrator) sweepJobLogs(job config.Job) bool {
	log := o.log.With(logx.String("job", job.Name))

	handle, err := o.locks.TryAcquire(job.Key())
	if errors.Is(err, lockfile.ErrBusy) {
		log.Info("job lock busy, skipping log sweep", logx.String("lock", job.Key()))
		return true
	}
	if err != nil {
		log.Error("job lock failed", logx.Err(err))
		return false
	}
	defer handle.Release()

	archive, err := o.sink.Rotate(job.Name)
	if err != nil {
		log.Error("log rotation failed", logx.Err(err))
		return false
	}
	if archive != "" {
		log.Debug("rotated log", logx.String("archive", archive))
	}

	removed, err := retention.Prune(o.sink.Dir(), o.sink.ArchivePattern(job.Name), o.cfg.LogRetention(job), o.log)
	if err != nil {
		log.Error("archive prune failed", logx.Err(err))
		return false
	}
	if removed > 0 {
		log.Debug("pruned log archives", logx.Int("removed", removed))
	}
	return true
}

// runBackup executes the snapshot command like any other job: its output
// is appended to the "backup" log and recorded in history. It runs under
// the maintenance lock already held by the caller.
func (o *Orchestrator) runBackup(ctx context.Context) Status {
	log := o.log.With(logx.String("job", backupJobName))

	sources := make([]envfile.Source, 0, len(o.cfg.EnvFiles))
	for _, f := range o.cfg.EnvFiles {
		sources = append(sources, envfile.Source{Path: f.Path, Optional: f.Optional})
	}
	env, err := envfile.Load(sources...)
	if err != nil {
		log.Error("backup env load failed", logx.Err(err))
		return StatusFailed
	}

	res := runner.Run(ctx, runner.Spec{
		Name:       backupJobName,
		Command:    o.cfg.Backup.Command,
		Timeout:    o.cfg.Backup.TimeoutDuration(),
		InheritEnv: true,
		Env:        env,
	})
	o.record(ctx, backupJobName, res, log)

	status := statusOf(res)
	if status != StatusOK {
		log.Error("backup failed", logx.Int("exit", res.ExitCode), logx.Err(res.StartErr))
		o.notif.Notify(ctx, fmt.Sprintf("cronhost@%s: backup %s (exit %d)", hostname(), res.Status(), res.ExitCode), notifier.FormatPlain)
	}
	return status
}
