package runner

import (
	"context"
	"os/exec"
	"testing"

	"alma/internal/appctx"
	"github.com/rs/zerolog"
)

func fakeExecCommandContext(argv *[]string) func(context.Context, string, ...string) *exec.Cmd {
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		*argv = append([]string{name}, arg...)
		return exec.CommandContext(ctx, "true")
	}
}

func TestRun_DryRunSkipsMutatingCommand(t *testing.T) {
	c := appctx.New(true, false, "", zerolog.Nop())
	r := New(c)
	var seen []string
	r.execCommandContext = fakeExecCommandContext(&seen)

	res, err := r.Run(context.Background(), []string{"sgdisk", "--zap-all", "/dev/loop0"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Exit != 0 {
		t.Fatalf("expected exit 0, got %d", res.Exit)
	}
	if seen != nil {
		t.Fatalf("dry-run must not invoke the real command, saw %v", seen)
	}
}

func TestRun_DryRunStillExecutesProbeCommand(t *testing.T) {
	c := appctx.New(true, false, "", zerolog.Nop())
	r := New(c)
	var seen []string
	r.execCommandContext = fakeExecCommandContext(&seen)

	_, err := r.Run(context.Background(), []string{"lsblk", "-J"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) == 0 {
		t.Fatalf("probe command must execute even in dry-run")
	}
}

func TestRunChecked_NonZeroExitReturnsCommandFailed(t *testing.T) {
	c := appctx.New(false, false, "", zerolog.Nop())
	r := New(c)
	r.execCommandContext = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "false")
	}

	_, err := r.RunChecked(context.Background(), []string{"somecmd"}, nil, nil)
	if err == nil {
		t.Fatalf("expected CommandFailed error")
	}
}
