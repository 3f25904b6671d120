// Package mount builds and tears down the nested mount stack (root, btrfs subvolumes, boot, API binds) and generating
// fstab/crypttab. Mounts install in nested dependency order and every
// mount pushes its own unmount, so teardown is always the exact
// reverse.
package mount

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/resources"
	"alma/internal/runner"
)

// Kind discriminates plain filesystem mounts, bind mounts, and API
// filesystem mounts.
type Kind int

const (
	KindFS Kind = iota
	KindBind
	KindAPI
)

// Mount describes one active mount.
type Mount struct {
	Source          string
	Target          string
	Kind            Kind
	FSType          string
	Options         []string
	UnmountOrderKey int
}

// apiBinds is the fixed list of API filesystems bound into the chroot
// immediately before entering it, and torn down immediately after.
var apiBinds = []struct {
	path string
	fs   string
}{
	{"/proc", "proc"},
	{"/sys", "sysfs"},
	{"/dev", ""},
	{"/dev/pts", "devpts"},
	{"/run", ""},
}

// Manager builds and tears down the mount stack under root.
type Manager struct {
	ctx   *appctx.Context
	run   *runner.Runner
	stack *resources.Stack

	active []Mount
}

// New builds a mount Manager rooted at root.
func New(ctx *appctx.Context, run *runner.Runner, stack *resources.Stack) *Manager {
	return &Manager{ctx: ctx, run: run, stack: stack}
}

// MountRoot mounts the root device at root, pushing its unmount.
func (m *Manager) MountRoot(ctx context.Context, root, device, fsType string, options []string) error {
	return m.mountAt(ctx, device, root, fsType, options, KindFS)
}

// MountSubvolume mounts a single btrfs subvolume at its target mount
// point under root, with the fixed
// "compress=zstd,noatime" options.
func (m *Manager) MountSubvolume(ctx context.Context, root, device, subvol, relMount string) error {
	target := filepath.Join(root, relMount)
	opts := []string{"subvol=" + subvol, "compress=zstd", "noatime"}
	return m.mountAt(ctx, device, target, "btrfs", opts, KindFS)
}

// MountBoot mounts the ESP at /boot under root.
func (m *Manager) MountBoot(ctx context.Context, root, device string) error {
	return m.mountAt(ctx, device, filepath.Join(root, "boot"), "vfat", nil, KindFS)
}

// MountAPIBinds installs /proc, /sys, /dev, /dev/pts, /run bind mounts
// immediately before entering a chroot.
func (m *Manager) MountAPIBinds(ctx context.Context, root string) error {
	for _, b := range apiBinds {
		target := filepath.Join(root, b.path)
		if err := os.MkdirAll(target, 0755); err != nil {
			return &almaerr.Internal{Err: err}
		}
		argv := []string{"mount"}
		if b.fs != "" {
			argv = append(argv, "-t", b.fs, b.fs, target)
		} else {
			argv = append(argv, "--bind", b.path, target)
		}
		if _, err := m.run.RunChecked(ctx, argv, nil, nil); err != nil {
			return &almaerr.MountFailed{Source: b.path, Target: target, Err: err}
		}
		localTarget := target
		m.stack.Push("api bind "+localTarget, func() error {
			return m.unmount(ctx, localTarget)
		})
		m.active = append(m.active, Mount{Source: b.path, Target: target, Kind: KindAPI})
	}
	return nil
}

// BindSharedDirectory bind-mounts a preset's shared_directories entry
// read-only into the chroot at /shared/<name>.
func (m *Manager) BindSharedDirectory(ctx context.Context, root, hostDir, name string) error {
	target := filepath.Join(root, "shared", name)
	if err := os.MkdirAll(target, 0755); err != nil {
		return &almaerr.Internal{Err: err}
	}
	if _, err := m.run.RunChecked(ctx, []string{"mount", "--bind", "-o", "ro", hostDir, target}, nil, nil); err != nil {
		return &almaerr.MountFailed{Source: hostDir, Target: target, Err: err}
	}
	m.stack.Push("shared dir "+target, func() error {
		return m.unmount(ctx, target)
	})
	return nil
}

func (m *Manager) mountAt(ctx context.Context, source, target, fsType string, options []string, kind Kind) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return &almaerr.Internal{Err: err}
	}

	argv := []string{"mount"}
	if fsType != "" {
		argv = append(argv, "-t", fsType)
	}
	if len(options) > 0 {
		argv = append(argv, "-o", strings.Join(options, ","))
	}
	argv = append(argv, source, target)

	if _, err := m.run.RunChecked(ctx, argv, nil, nil); err != nil {
		return &almaerr.MountFailed{Source: source, Target: target, Err: err}
	}

	localTarget := target
	m.stack.Push("mount "+localTarget, func() error {
		return m.unmount(ctx, localTarget)
	})
	m.active = append(m.active, Mount{Source: source, Target: target, FSType: fsType, Options: options, Kind: kind})
	return nil
}

// unmount makes the mount private then recursively unmounts it, so a
// bind that picked up nested mounts comes out in one pass.
func (m *Manager) unmount(ctx context.Context, target string) error {
	_, _ = m.run.Run(ctx, []string{"mount", "--make-rprivate", target}, nil, nil)
	_, err := m.run.Run(ctx, []string{"umount", "--recursive", target}, nil, nil)
	return err
}

// UnmountAPIBinds tears down the API binds immediately after leaving a
// chroot, in reverse order, without waiting for the full resource-stack
// unwind.
func (m *Manager) UnmountAPIBinds(ctx context.Context, root string) {
	for i := len(apiBinds) - 1; i >= 0; i-- {
		target := filepath.Join(root, apiBinds[i].path)
		_ = m.unmount(ctx, target)
	}
}

// Active returns the currently-tracked mount stack, ordered by
// installation order (root before boot before API binds).
func (m *Manager) Active() []Mount {
	out := make([]Mount, len(m.active))
	copy(out, m.active)
	return out
}
