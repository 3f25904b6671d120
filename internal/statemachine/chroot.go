package statemachine

import (
	"context"
	"fmt"
	"os"
	"strings"

	mountutils "k8s.io/mount-utils"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/device"
	"alma/internal/mount"
	"alma/internal/resources"
	"alma/internal/runner"
	"alma/internal/storage"
)

// ChrootOptions points the chroot driver at an existing medium.
type ChrootOptions struct {
	// Path names a block device, an image file, or a root partition.
	Path string

	// Command, when non-empty, runs instead of an interactive shell.
	Command []string

	PromptPassphrase func() (string, error)
}

// ChrootDriver reconstructs only the storage and mount state of an
// existing ALMA medium, hands the user a shell, and unwinds.
type ChrootDriver struct {
	ctx   *appctx.Context
	opts  ChrootOptions
	stack *resources.Stack
	run   *runner.Runner
	probe *device.Probe
	mnt   *mount.Manager

	rootDevice string
	bootDevice string
	fs         storage.Filesystem
	root       string
}

// NewChroot wires the chroot driver.
func NewChroot(ctx *appctx.Context, opts ChrootOptions, stack *resources.Stack) *ChrootDriver {
	run := runner.New(ctx)
	stack.SetTerminator(run.TerminateCurrent)
	return &ChrootDriver{
		ctx:   ctx,
		opts:  opts,
		stack: stack,
		run:   run,
		probe: device.New(ctx, run),
		mnt:   mount.New(ctx, run, stack),
	}
}

// Run probes, mounts, shells, and unwinds.
func (d *ChrootDriver) Run(ctx context.Context) error {
	p := NewPipeline(d.ctx, d.stack)

	p.AddState("checking host tools", func(context.Context) error {
		return checkHostTools(chrootHostTools)
	})
	p.AddState("probing target", d.probeTarget)
	p.AddState("mounting filesystems", d.mountFilesystems)
	p.AddState("entering chroot", d.enterChroot)

	if err := p.Run(ctx); err != nil {
		return err
	}

	d.stack.Unwind()
	return nil
}

// probeTarget resolves Path to a root (and optional boot) device,
// loop-attaching image files and opening LUKS containers as needed.
func (d *ChrootDriver) probeTarget(ctx context.Context) error {
	path := d.opts.Path

	info, err := os.Stat(path)
	if err != nil {
		return &almaerr.BadTarget{Path: path, Reason: "does not exist"}
	}

	if info.Mode().IsRegular() {
		loopDev, err := d.attachLoop(ctx, path)
		if err != nil {
			return err
		}
		path = loopDev
	}

	rootDev, bootDev, err := d.locatePartitions(ctx, path)
	if err != nil {
		return err
	}

	// auto-detect LUKS via blkid TYPE
	res, err := d.run.Run(ctx, []string{"blkid", "-s", "TYPE", "-o", "value", rootDev}, nil, nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Stdout) == "crypto_LUKS" {
		rootDev, err = d.openLuks(ctx, rootDev)
		if err != nil {
			return err
		}
	}

	fs, err := storage.DetectFilesystem(ctx, d.run, rootDev)
	if err != nil {
		return err
	}

	d.rootDevice = rootDev
	d.bootDevice = bootDev
	d.fs = fs
	return nil
}

func (d *ChrootDriver) attachLoop(ctx context.Context, imagePath string) (string, error) {
	res, err := d.run.RunChecked(ctx, []string{"losetup", "-fP", "--show", imagePath}, nil, nil)
	if err != nil {
		return "", err
	}
	loopDev := strings.TrimSpace(res.Stdout)
	if loopDev == "" && d.ctx.DryRun {
		loopDev = "/dev/loop0"
	}
	d.stack.Push("loop device "+loopDev, func() error {
		_, err := d.run.Run(ctx, []string{"losetup", "-d", loopDev}, nil, nil)
		return err
	})
	return loopDev, nil
}

// locatePartitions distinguishes "whole disk" from "single partition"
// targets: a disk with children uses the fixed ESP/root numbering, a
// bare partition is the root itself.
func (d *ChrootDriver) locatePartitions(ctx context.Context, path string) (rootDev, bootDev string, err error) {
	devices, err := d.probe.EnumerateRemovable(ctx)
	if err != nil {
		return "", "", err
	}
	for _, dev := range devices {
		if dev.Path != path {
			continue
		}
		if len(dev.Children) == 0 {
			return path, "", nil
		}
		boot, root, err := d.probe.ResolvePartitions(ctx, path, storage.PartNumESP, storage.PartNumRoot)
		if err != nil {
			return "", "", err
		}
		return root, boot, nil
	}
	// not in the removable/loop set: treat the path as the root
	// partition directly
	return path, "", nil
}

func (d *ChrootDriver) openLuks(ctx context.Context, partition string) (string, error) {
	if d.opts.PromptPassphrase == nil {
		return "", &almaerr.LuksFailed{Op: "open", Err: fmt.Errorf("no passphrase source configured")}
	}
	pass, err := d.opts.PromptPassphrase()
	if err != nil {
		return "", err
	}
	if _, err := d.run.RunChecked(ctx, []string{"cryptsetup", "open", partition, storage.LuksMapperName}, nil, []byte(pass+"\n")); err != nil {
		return "", &almaerr.LuksFailed{Op: "open", Err: err}
	}
	d.stack.Push("luks mapping "+storage.LuksMapperName, func() error {
		_, err := d.run.Run(ctx, []string{"cryptsetup", "close", storage.LuksMapperName}, nil, nil)
		return err
	})
	return "/dev/mapper/" + storage.LuksMapperName, nil
}

func (d *ChrootDriver) mountFilesystems(ctx context.Context) error {
	if err := d.refuseIfMounted(d.rootDevice); err != nil {
		return err
	}

	root, err := makeMountRoot(d.ctx, d.stack)
	if err != nil {
		return err
	}
	d.root = root

	layout := storage.Layout{
		RootDevice: d.rootDevice,
		BootDevice: d.bootDevice,
		RootFS:     d.fs,
	}
	if err := mountLayout(ctx, d.mnt, root, layout); err != nil {
		return err
	}
	return d.mnt.MountAPIBinds(ctx, root)
}

// refuseIfMounted guards against re-entering a medium that is already
// mounted elsewhere, which would race two writers.
func (d *ChrootDriver) refuseIfMounted(dev string) error {
	mounter := mountutils.New("")
	mps, err := mounter.List()
	if err != nil {
		// listing /proc/mounts only fails on exotic hosts; proceed
		return nil
	}
	for _, mp := range mps {
		if mp.Device == dev {
			return &almaerr.BadTarget{Path: dev, Reason: "already mounted at " + mp.Path}
		}
	}
	return nil
}

func (d *ChrootDriver) enterChroot(ctx context.Context) error {
	argv := []string{"arch-chroot", d.root}
	if len(d.opts.Command) > 0 {
		argv = append(argv, d.opts.Command...)
	} else {
		argv = append(argv, "/bin/bash")
	}
	return d.run.RunInteractive(ctx, argv, nil)
}
