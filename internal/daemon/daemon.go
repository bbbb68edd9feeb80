// Package daemon runs cronhost as a long-lived process: job and
// maintenance cycles fire from embedded cron schedules instead of an
// external crontab. Every cycle still takes its advisory lock, so an
// external crontab and the daemon can coexist without double-running.
package daemon

import (
	"context"
	"strings"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"cronhost/internal/config"
	"cronhost/internal/history"
	"cronhost/internal/notifier"
	"cronhost/internal/orchestrator"
	"cronhost/pkg/logx"
)

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Daemon struct {
	mgr *config.Manager
	log logx.Logger

	cron *cron.Cron
	hist *history.Store

	watchdog  *time.Ticker
	watchdogC <-chan time.Time
}

func New(mgr *config.Manager, log logx.Logger) *Daemon {
	return &Daemon{mgr: mgr, log: log}
}

// Run blocks until ctx is cancelled. The config file is watched; a valid
// edit rebuilds the schedule table, an invalid one keeps the old table.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.mgr.Get()
	if cfg == nil {
		var err error
		cfg, err = d.mgr.Load()
		if err != nil {
			return err
		}
	}
	if err := d.apply(ctx, cfg); err != nil {
		return err
	}

	updates, err := d.mgr.Watch(ctx)
	if err != nil {
		d.log.Warn("config watch disabled", logx.Err(err))
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	d.setWatchdog(cfg.Daemon.Watchdog)
	defer d.setWatchdog(false)

	for {
		select {
		case <-ctx.Done():
			_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
			d.stop()
			return nil
		case cfg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			d.stop()
			if err := d.apply(ctx, cfg); err != nil {
				return err
			}
			d.setWatchdog(cfg.Daemon.Watchdog)
		case <-d.watchdogC:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}

// setWatchdog arms or disarms watchdog pings to match the current
// config, so a reload toggling daemon.watchdog takes effect without a
// restart. The ping interval itself comes from the unit's WatchdogSec.
func (d *Daemon) setWatchdog(enabled bool) {
	if d.watchdog != nil {
		d.watchdog.Stop()
		d.watchdog = nil
		d.watchdogC = nil
	}
	if !enabled {
		return
	}
	if ivl, err := sd.SdWatchdogEnabled(false); err == nil && ivl > 0 {
		d.watchdog = time.NewTicker(ivl / 2)
		d.watchdogC = d.watchdog.C
	}
}

// apply builds a fresh orchestrator and cron table from cfg. Schedules
// were validated at config load, so registration errors here are bugs,
// not user input.
func (d *Daemon) apply(ctx context.Context, cfg *config.Config) error {
	hist, err := history.Open(history.Config{
		Path:        cfg.History.Path,
		Keep:        cfg.History.Keep,
		BusyTimeout: cfg.History.BusyTimeoutDuration(),
	}, d.log)
	if err != nil {
		return err
	}
	d.hist = hist

	orch := orchestrator.New(cfg, hist, notifier.FromConfig(cfg.Notify.Telegram, d.log), d.log)

	c := cron.New(cron.WithParser(scheduleParser))
	registered := 0
	for _, job := range cfg.Jobs {
		spec := strings.TrimSpace(job.Schedule)
		if spec == "" {
			continue
		}
		name := job.Name
		if _, err := c.AddFunc(spec, func() {
			if _, err := orch.RunCycle(ctx, name); err != nil {
				d.log.Error("cycle failed", logx.String("job", name), logx.Err(err))
			}
		}); err != nil {
			return err
		}
		registered++
	}
	if spec := strings.TrimSpace(cfg.Maintenance.Schedule); spec != "" {
		if _, err := c.AddFunc(spec, func() {
			if _, err := orch.Maintain(ctx); err != nil {
				d.log.Error("maintenance failed", logx.Err(err))
			}
		}); err != nil {
			return err
		}
		registered++
	}

	c.Start()
	d.cron = c
	d.log.Info("schedule applied", logx.Int("entries", registered))
	return nil
}

// stop halts the cron table, waits briefly for in-flight cycles, and
// closes the history store.
func (d *Daemon) stop() {
	if d.cron != nil {
		stopCtx := d.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			d.log.Warn("timed out waiting for running cycles")
		}
		d.cron = nil
	}
	if d.hist != nil {
		_ = d.hist.Close()
		d.hist = nil
	}
}
