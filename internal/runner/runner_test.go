package runner

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	requireSh(t)
	t.Parallel()

	res := Run(context.Background(), Spec{
		Name:    "combined",
		Command: []string{"/bin/sh", "-c", "echo out; echo err 1>&2; echo again"},
	})
	if res.StartErr != nil {
		t.Fatalf("start error: %v", res.StartErr)
	}
	if res.ExitCode != 0 || res.Status() != "ok" {
		t.Fatalf("exit=%d status=%s", res.ExitCode, res.Status())
	}
	out := string(res.Output)
	for _, want := range []string{"out", "err", "again"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireSh(t)
	t.Parallel()

	res := Run(context.Background(), Spec{
		Name:    "fails",
		Command: []string{"/bin/sh", "-c", "echo boom; exit 3"},
	})
	if res.StartErr != nil {
		t.Fatalf("start error: %v", res.StartErr)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d, want 3", res.ExitCode)
	}
	if res.Status() != "fail" || !res.Failed() {
		t.Fatalf("status = %s", res.Status())
	}
	if !strings.Contains(string(res.Output), "boom") {
		t.Fatalf("output before failure lost: %q", res.Output)
	}
}

func TestRunSpawnErrorIsDistinct(t *testing.T) {
	t.Parallel()

	res := Run(context.Background(), Spec{
		Name:    "missing",
		Command: []string{"/no/such/binary"},
	})
	if res.StartErr == nil {
		t.Fatal("expected start error for missing binary")
	}
	if res.ExitCode != -1 {
		t.Fatalf("exit = %d, want -1 sentinel", res.ExitCode)
	}
	if res.Status() != "spawn-error" {
		t.Fatalf("status = %s", res.Status())
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	requireSh(t)
	t.Parallel()

	start := time.Now()
	// The child spawns its own child; both must die with the group.
	res := Run(context.Background(), Spec{
		Name:    "sleeper",
		Command: []string{"/bin/sh", "-c", "sleep 30 & sleep 30"},
		Timeout: 300 * time.Millisecond,
	})
	took := time.Since(start)

	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if res.Status() != "timeout" {
		t.Fatalf("status = %s", res.Status())
	}
	if res.ExitCode != -1 {
		t.Fatalf("exit = %d, want -1 for signal kill", res.ExitCode)
	}
	// Bounded grace: if group kill failed, Wait would block on the
	// background child holding the output pipe for ~30s.
	if took > 5*time.Second {
		t.Fatalf("run took %v, process group not terminated", took)
	}
}

func TestRunExplicitEnvOnly(t *testing.T) {
	requireSh(t)

	t.Setenv("CRONHOST_TEST_LEAK", "leaked")

	res := Run(context.Background(), Spec{
		Name:       "env",
		Command:    []string{"/bin/sh", "-c", "echo FOO=$FOO LEAK=$CRONHOST_TEST_LEAK"},
		InheritEnv: false,
		Env:        map[string]string{"FOO": "bar"},
	})
	if res.StartErr != nil {
		t.Fatalf("start error: %v", res.StartErr)
	}
	out := string(res.Output)
	if !strings.Contains(out, "FOO=bar") {
		t.Fatalf("explicit env not applied: %q", out)
	}
	if strings.Contains(out, "LEAK=leaked") {
		t.Fatalf("parent env leaked without InheritEnv: %q", out)
	}
}

func TestRunInheritedEnvOverridden(t *testing.T) {
	requireSh(t)

	t.Setenv("CRONHOST_TEST_BASE", "parent")

	res := Run(context.Background(), Spec{
		Name:       "env",
		Command:    []string{"/bin/sh", "-c", "echo BASE=$CRONHOST_TEST_BASE"},
		InheritEnv: true,
		Env:        map[string]string{"CRONHOST_TEST_BASE": "override"},
	})
	if !strings.Contains(string(res.Output), "BASE=override") {
		t.Fatalf("env file value did not override parent: %q", res.Output)
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	requireSh(t)
	t.Parallel()

	dir := t.TempDir()
	res := Run(context.Background(), Spec{
		Name:    "pwd",
		Command: []string{"/bin/sh", "-c", "pwd"},
		Dir:     dir,
	})
	if !strings.Contains(string(res.Output), dir) {
		t.Fatalf("pwd = %q, want %q", res.Output, dir)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	t.Parallel()
	res := Run(context.Background(), Spec{Name: "empty"})
	if res.StartErr == nil || res.ExitCode != -1 {
		t.Fatalf("expected spawn error, got %+v", res)
	}
}
