// Package orchestrator composes the env loader, lock manager, runner,
// log sink and retention sweeper into one job-cycle: lock, run, log,
// unlock. It is the entry point an external scheduler (cron, systemd
// timer, or the built-in daemon) triggers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cronhost/internal/config"
	"cronhost/internal/envfile"
	"cronhost/internal/history"
	"cronhost/internal/lockfile"
	"cronhost/internal/logsink"
	"cronhost/internal/notifier"
	"cronhost/internal/runner"
	"cronhost/pkg/logx"
)

// Status is the terminal state of one cycle.
type Status int

const (
	// StatusOK: the job ran and exited zero.
	StatusOK Status = iota
	// StatusSkipped: another invocation holds the lock. Not a failure;
	// a skipped cycle is cheaper than a queued pile-up.
	StatusSkipped
	// StatusFailed: the job ran and exited non-zero, or could not be
	// started at all.
	StatusFailed
	// StatusTimedOut: the job was killed after exceeding its timeout.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ExitCode maps a status to the orchestrator's process exit code.
// Skips exit 0: lock contention is expected, not an error.
func (s Status) ExitCode() int {
	switch s {
	case StatusOK, StatusSkipped:
		return 0
	default:
		return 1
	}
}

type Orchestrator struct {
	cfg   *config.Config
	locks *lockfile.Manager
	sink  *logsink.Sink
	hist  *history.Store
	notif notifier.Notifier
	log   logx.Logger
}

// New wires an orchestrator from config. hist may be nil (disabled) and
// notif may be notifier.Nop{}.
func New(cfg *config.Config, hist *history.Store, notif notifier.Notifier, log logx.Logger) *Orchestrator {
	if notif == nil {
		notif = notifier.Nop{}
	}
	return &Orchestrator{
		cfg:   cfg,
		locks: lockfile.NewManager(cfg.LockDir),
		sink:  logsink.New(cfg.LogDir),
		hist:  hist,
		notif: notif,
		log:   log,
	}
}

// RunCycle executes one job-cycle end-to-end.
//
// A non-nil error means a configuration/startup problem before the job
// could run (unknown job, malformed env source); nothing was locked or
// executed in that case. Otherwise the Status describes the outcome and
// the job's result has been appended to its log on every path.
func (o *Orchestrator) RunCycle(ctx context.Context, name string) (Status, error) {
	job, ok := o.cfg.Job(name)
	if !ok {
		return StatusFailed, fmt.Errorf("unknown job %q", name)
	}
	log := o.log.With(logx.String("job", job.Name))

	// Build the execution context first: a config error must abort
	// before any lock is touched.
	env, err := o.resolveEnv(job)
	if err != nil {
		return StatusFailed, err
	}

	handle, err := o.locks.TryAcquire(job.Key())
	if errors.Is(err, lockfile.ErrBusy) {
		log.Info("lock busy, skipping cycle", logx.String("lock", job.Key()))
		return StatusSkipped, nil
	}
	if err != nil {
		return StatusFailed, err
	}
	defer handle.Release()

	res := runner.Run(ctx, runner.Spec{
		Name:       job.Name,
		Command:    job.Command,
		Dir:        job.Dir,
		Timeout:    job.TimeoutDuration(),
		InheritEnv: job.InheritsEnv(),
		Env:        env,
	})
	o.record(ctx, job.Name, res, log)

	status := statusOf(res)
	switch status {
	case StatusOK:
		log.Info("job completed",
			logx.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
			logx.Int("output_bytes", len(res.Output)))
		if o.cfg.Notify.OnSuccess {
			o.notif.Notify(ctx, fmt.Sprintf("cronhost@%s: job %s ok", hostname(), job.Name), notifier.FormatPlain)
		}
	case StatusTimedOut:
		log.Error("job timed out",
			logx.Duration("timeout", job.TimeoutDuration()))
		o.notif.Notify(ctx, fmt.Sprintf("cronhost@%s: job %s timed out after %s", hostname(), job.Name, job.TimeoutDuration()), notifier.FormatPlain)
	default:
		log.Error("job failed",
			logx.Int("exit", res.ExitCode),
			logx.Err(res.StartErr))
		o.notif.Notify(ctx, fmt.Sprintf("cronhost@%s: job %s failed (status %s, exit %d)", hostname(), job.Name, res.Status(), res.ExitCode), notifier.FormatPlain)
	}
	return status, nil
}

// resolveEnv loads global sources, then the job's sources, then inline
// overrides. Later always wins.
func (o *Orchestrator) resolveEnv(job config.Job) (map[string]string, error) {
	sources := make([]envfile.Source, 0, len(o.cfg.EnvFiles)+len(job.EnvFiles))
	for _, f := range append(append([]config.EnvFile(nil), o.cfg.EnvFiles...), job.EnvFiles...) {
		sources = append(sources, envfile.Source{Path: f.Path, Optional: f.Optional})
	}
	env, err := envfile.Load(sources...)
	if err != nil {
		return nil, err
	}
	return envfile.Merge(env, job.Env), nil
}

// record persists the result to the job's log and the history index.
// The log append runs on every exit path after the job started; its
// failure is loud but does not change the cycle's status. History is
// best-effort by design.
func (o *Orchestrator) record(ctx context.Context, job string, res runner.Result, log logx.Logger) {
	if err := o.sink.Append(job, res); err != nil {
		log.Error("log append failed", logx.Err(err))
	}
	err := o.hist.Record(ctx, history.Run{
		Job:         job,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Status:      res.Status(),
		ExitCode:    res.ExitCode,
		TimedOut:    res.TimedOut,
		OutputBytes: len(res.Output),
	})
	if err != nil {
		log.Warn("history record failed", logx.Err(err))
	}
}

func statusOf(res runner.Result) Status {
	switch {
	case res.TimedOut:
		return StatusTimedOut
	case res.Failed():
		return StatusFailed
	default:
		return StatusOK
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "?"
	}
	return h
}
