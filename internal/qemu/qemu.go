// Package qemu boots a provisioned device or image in
// qemu-system-x86_64 with OVMF firmware, as a smoke test for the
// created medium.
package qemu

import (
	"context"
	"fmt"
	"os"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/runner"
)

// ovmfCandidates are the well-known OVMF firmware locations across
// distributions, probed in order.
var ovmfCandidates = []string{
	"/usr/share/ovmf/x64/OVMF.fd",
	"/usr/share/edk2/x64/OVMF.4m.fd",
	"/usr/share/edk2-ovmf/x64/OVMF_CODE.fd",
	"/usr/share/OVMF/OVMF_CODE.fd",
	"/usr/share/qemu/OVMF.fd",
}

// Options configures the launched VM.
type Options struct {
	MemoryMiB int
	UEFI      bool
}

// Launcher starts qemu against a disk path.
type Launcher struct {
	ctx *appctx.Context
	run *runner.Runner
}

// New builds a qemu Launcher.
func New(ctx *appctx.Context, run *runner.Runner) *Launcher {
	return &Launcher{ctx: ctx, run: run}
}

// findOVMF returns the first OVMF firmware image present on the host.
func findOVMF() (string, error) {
	for _, path := range ovmfCandidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &almaerr.MissingHostTool{Name: "OVMF firmware"}
}

// Launch boots diskPath as a virtio-blk disk, inheriting the terminal so
// the user interacts with the guest console directly.
func (l *Launcher) Launch(ctx context.Context, diskPath string, opts Options) error {
	if opts.MemoryMiB == 0 {
		opts.MemoryMiB = 4096
	}

	argv := []string{
		"qemu-system-x86_64",
		"-enable-kvm",
		"-cpu", "host",
		"-m", fmt.Sprintf("%d", opts.MemoryMiB),
		"-drive", fmt.Sprintf("file=%s,if=virtio,format=raw", diskPath),
	}

	if opts.UEFI {
		ovmf, err := findOVMF()
		if err != nil {
			if !l.ctx.DryRun {
				return err
			}
			ovmf = ovmfCandidates[0]
		}
		argv = append(argv, "-drive", fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s", ovmf))
	}

	return l.run.RunInteractive(ctx, argv, nil)
}
