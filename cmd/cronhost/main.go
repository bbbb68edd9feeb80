package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cronhost/internal/config"
	"cronhost/internal/daemon"
	"cronhost/internal/history"
	"cronhost/internal/notifier"
	"cronhost/internal/orchestrator"
	"cronhost/pkg/logx"
)

// Exit codes: 0 = success or lock-skip; 1 = job failed or timed out;
// 2 = configuration/startup error. Which failure happened is visible in
// the job's log header, not in the exit code alone.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: cronhost [-config path] <command>

commands:
  run <job>   run one job-cycle: lock, execute, log, unlock
  maintain    backup, rotate logs, prune archives
  daemon      run scheduled cycles in-process (systemd friendly)
  jobs        list configured jobs
`)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./cronhost.yaml", "path to config yaml")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cronhost: config:", err)
		return exitConfig
	}

	log, closeLog := logx.New(cfg.Logging.Logx())
	defer closeLog()

	switch args[0] {
	case "run":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: cronhost run <job>")
			return exitConfig
		}
		return cycle(ctx, cfg, log, args[1])

	case "maintain":
		return maintain(ctx, cfg, log)

	case "daemon":
		mgr := config.NewManager(cfgPath, log)
		if _, err := mgr.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "cronhost: config:", err)
			return exitConfig
		}
		if err := daemon.New(mgr, log).Run(ctx); err != nil {
			log.Error("daemon failed", logx.Err(err))
			return exitConfig
		}
		return exitOK

	case "jobs":
		for _, j := range cfg.Jobs {
			schedule := j.Schedule
			if schedule == "" {
				schedule = "-"
			}
			fmt.Printf("%-24s lock=%-24s timeout=%-10s schedule=%s\n",
				j.Name, j.Key(), j.TimeoutDuration(), schedule)
		}
		return exitOK

	default:
		usage()
		return exitConfig
	}
}

func cycle(ctx context.Context, cfg *config.Config, log logx.Logger, job string) int {
	orch, hist, err := build(cfg, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		return exitConfig
	}
	defer hist.Close()

	status, err := orch.RunCycle(ctx, job)
	if err != nil {
		log.Error("cycle aborted", logx.String("job", job), logx.Err(err))
		return exitConfig
	}
	return status.ExitCode()
}

func maintain(ctx context.Context, cfg *config.Config, log logx.Logger) int {
	orch, hist, err := build(cfg, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		return exitConfig
	}
	defer hist.Close()

	status, err := orch.Maintain(ctx)
	if err != nil {
		log.Error("maintenance aborted", logx.Err(err))
		return exitConfig
	}
	return status.ExitCode()
}

func build(cfg *config.Config, log logx.Logger) (*orchestrator.Orchestrator, *history.Store, error) {
	hist, err := history.Open(history.Config{
		Path:        cfg.History.Path,
		Keep:        cfg.History.Keep,
		BusyTimeout: cfg.History.BusyTimeoutDuration(),
	}, log)
	if err != nil {
		return nil, nil, err
	}
	notif := notifier.FromConfig(cfg.Notify.Telegram, log)
	return orchestrator.New(cfg, hist, notif, log), hist, nil
}
