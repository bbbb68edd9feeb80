// Package runner executes one external job under a resolved environment
// and working directory. It captures stdout and stderr interleaved,
// enforces the per-job timeout by terminating the whole process group,
// and returns data for the log sink to persist; it writes no shared
// state itself.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Spec identifies one execution. Immutable.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	// Timeout <= 0 disables the limit.
	Timeout time.Duration
	// InheritEnv merges Env on top of the parent environment instead of
	// replacing it.
	InheritEnv bool
	// Env is the resolved execution environment for this one run.
	Env map[string]string
}

// Result is produced once per run and consumed by the log sink.
type Result struct {
	// ExitCode is the job's exit code, or -1 when the process never ran
	// or was killed by a signal.
	ExitCode   int
	Output     []byte
	StartedAt  time.Time
	FinishedAt time.Time
	TimedOut   bool
	// StartErr distinguishes "could not be started at all" (missing
	// binary, permission denied) from a non-zero exit.
	StartErr error
}

// Status classifies the result for log headers and notifications.
func (r Result) Status() string {
	switch {
	case r.StartErr != nil:
		return "spawn-error"
	case r.TimedOut:
		return "timeout"
	case r.ExitCode == 0:
		return "ok"
	default:
		return "fail"
	}
}

// Failed reports whether the run should count as a failure.
func (r Result) Failed() bool { return r.Status() != "ok" }

// Run executes spec and blocks until the job exits or the timeout fires.
// The context cancels the run early (daemon shutdown); that is recorded
// like a timeout kill but with TimedOut=false.
func Run(ctx context.Context, spec Spec) Result {
	res := Result{ExitCode: -1, StartedAt: time.Now()}

	if len(spec.Command) == 0 {
		res.StartErr = errors.New("empty command")
		res.FinishedAt = time.Now()
		return res
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec)

	// One buffer for both streams: exec serializes writes when Stdout
	// and Stderr are the same writer.
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// Own process group, so a timeout kill also reaps children the job
	// spawned.
	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		res.StartErr = fmt.Errorf("start %s: %w", spec.Command[0], err)
		res.FinishedAt = time.Now()
		return res
	}

	// The wait error itself is redundant with ProcessState and the
	// captured output, so only the completion signal matters here.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		res.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		killProcGroup(cmd)
		<-done
	case <-done:
	}

	res.Output = out.Bytes()
	res.FinishedAt = time.Now()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	return res
}

func buildEnv(spec Spec) []string {
	var env []string
	if spec.InheritEnv {
		env = os.Environ()
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}
