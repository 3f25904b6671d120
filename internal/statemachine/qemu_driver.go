package statemachine

import (
	"context"

	"alma/internal/appctx"
	"alma/internal/qemu"
	"alma/internal/resources"
	"alma/internal/runner"
)

// QemuOptions points the qemu driver at a provisioned medium.
type QemuOptions struct {
	Path      string
	MemoryMiB int
	BIOS      bool // legacy-boot the VM instead of OVMF
}

// QemuDriver boots the medium in a VM; it touches no storage state
// beyond handing qemu the path.
type QemuDriver struct {
	ctx   *appctx.Context
	opts  QemuOptions
	stack *resources.Stack
}

// NewQemu builds the qemu driver.
func NewQemu(ctx *appctx.Context, opts QemuOptions, stack *resources.Stack) *QemuDriver {
	return &QemuDriver{ctx: ctx, opts: opts, stack: stack}
}

// Run launches the VM and blocks until it exits.
func (d *QemuDriver) Run(ctx context.Context) error {
	p := NewPipeline(d.ctx, d.stack)

	run := runner.New(d.ctx)
	d.stack.SetTerminator(run.TerminateCurrent)
	launcher := qemu.New(d.ctx, run)

	p.AddState("checking host tools", func(context.Context) error {
		return checkHostTools(qemuHostTools)
	})
	p.AddState("launching qemu", func(ctx context.Context) error {
		return launcher.Launch(ctx, d.opts.Path, qemu.Options{
			MemoryMiB: d.opts.MemoryMiB,
			UEFI:      !d.opts.BIOS,
		})
	})

	if err := p.Run(ctx); err != nil {
		return err
	}
	d.stack.Unwind()
	return nil
}
