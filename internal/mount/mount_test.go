package mount

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"alma/internal/appctx"
	"alma/internal/resources"
	"alma/internal/runner"
)

func dryRunManager(t *testing.T) (*Manager, *resources.Stack) {
	t.Helper()
	ctx := appctx.New(true, false, "", zerolog.Nop())
	stack := resources.New(ctx)
	return New(ctx, runner.New(ctx), stack), stack
}

func TestMountAPIBinds_OrderAndCleanup(t *testing.T) {
	m, _ := dryRunManager(t)
	root := t.TempDir()

	if err := m.MountAPIBinds(context.Background(), root); err != nil {
		t.Fatalf("api binds: %v", err)
	}

	active := m.Active()
	want := []string{"/proc", "/sys", "/dev", "/dev/pts", "/run"}
	if len(active) != len(want) {
		t.Fatalf("expected %d api binds, got %d", len(want), len(active))
	}
	for i, w := range want {
		if active[i].Target != filepath.Join(root, w) {
			t.Fatalf("bind %d targets %q, want suffix %q", i, active[i].Target, w)
		}
		if active[i].Kind != KindAPI {
			t.Fatalf("bind %d has kind %d, want KindAPI", i, active[i].Kind)
		}
	}
}

func TestMountRootThenBoot_NestedOrder(t *testing.T) {
	m, _ := dryRunManager(t)
	root := t.TempDir()

	if err := m.MountRoot(context.Background(), root, "/dev/mapper/alma_root", "ext4", nil); err != nil {
		t.Fatalf("mount root: %v", err)
	}
	if err := m.MountBoot(context.Background(), root, "/dev/loop0p2"); err != nil {
		t.Fatalf("mount boot: %v", err)
	}

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(active))
	}
	if active[0].Target != root {
		t.Fatalf("root must mount first, got %q", active[0].Target)
	}
	if active[1].Target != filepath.Join(root, "boot") {
		t.Fatalf("boot must nest under root, got %q", active[1].Target)
	}
}

func TestMountSubvolume_OptionsFixed(t *testing.T) {
	m, _ := dryRunManager(t)
	root := t.TempDir()

	if err := m.MountSubvolume(context.Background(), root, "/dev/loop0p3", "@home", "/home"); err != nil {
		t.Fatalf("mount subvolume: %v", err)
	}

	active := m.Active()
	opts := active[0].Options
	want := []string{"subvol=@home", "compress=zstd", "noatime"}
	if len(opts) != len(want) {
		t.Fatalf("options = %v, want %v", opts, want)
	}
	for i := range want {
		if opts[i] != want[i] {
			t.Fatalf("options = %v, want %v", opts, want)
		}
	}
}
