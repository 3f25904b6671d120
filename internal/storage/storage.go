package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/google/uuid"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/device"
	"alma/internal/resources"
	"alma/internal/runner"
)

// Options configures how Build realizes a Target into a Layout.
type Options struct {
	Filesystem        Filesystem
	Encrypted         bool
	BootSizeMiB       uint64 // 0 means DefaultBootSizeMiB
	AllowNonRemovable bool
	Passphrase        string // read once from the TTY or a fd by the caller
}

// Builder turns a resolved Target into on-disk storage.
type Builder struct {
	ctx   *appctx.Context
	run   *runner.Runner
	probe *device.Probe
	stack *resources.Stack
}

// New builds a storage Builder.
func New(ctx *appctx.Context, run *runner.Runner, probe *device.Probe, stack *resources.Stack) *Builder {
	return &Builder{ctx: ctx, run: run, probe: probe, stack: stack}
}

// Build realizes target into a Layout, pushing every acquired
// resource's cleanup onto the stack before returning success.
func (b *Builder) Build(ctx context.Context, target Target, opts Options) (Layout, error) {
	if opts.BootSizeMiB == 0 {
		opts.BootSizeMiB = DefaultBootSizeMiB
	}

	switch target.Kind {
	case KindImage:
		diskPath, err := b.createImageAndAttach(ctx, target)
		if err != nil {
			return Layout{}, err
		}
		return b.buildWholeDiskLike(ctx, diskPath, opts, diskPath)
	case KindWholeDisk:
		dev, err := b.probe.ValidateTarget(ctx, target.DiskPath, opts.AllowNonRemovable)
		if err != nil {
			return Layout{}, err
		}
		return b.buildWholeDiskLike(ctx, dev.Path, opts, "")
	case KindPartitions:
		return b.buildFromPartitions(ctx, target, opts)
	default:
		return Layout{}, &almaerr.Internal{Err: fmt.Errorf("unknown target kind %d", target.Kind)}
	}
}

// createImageAndAttach creates a sparse file of the requested size and
// attaches it via losetup.
func (b *Builder) createImageAndAttach(ctx context.Context, target Target) (string, error) {
	if _, err := os.Stat(target.ImagePath); err == nil && !target.Overwrite {
		return "", &almaerr.BadTarget{Path: target.ImagePath, Reason: "already exists; pass --overwrite"}
	}

	if !b.ctx.DryRun {
		disk, err := diskfs.Create(target.ImagePath, int64(target.ImageSize), diskfs.Raw, diskfs.SectorSizeDefault)
		if err != nil {
			return "", &almaerr.Internal{Err: fmt.Errorf("creating sparse image: %w", err)}
		}
		_ = disk.File.Close()
	}
	b.stack.Push("image file "+target.ImagePath, func() error {
		return nil // the image itself is the deliverable; nothing to undo on success
	})

	res, err := b.run.RunChecked(ctx, []string{"losetup", "-fP", "--show", target.ImagePath}, nil, nil)
	if err != nil {
		return "", err
	}
	loopDev := strings.TrimSpace(res.Stdout)
	if loopDev == "" && b.ctx.DryRun {
		loopDev = "/dev/loop0"
	}

	b.stack.Push("loop device "+loopDev, func() error {
		_, err := b.run.Run(ctx, []string{"losetup", "-d", loopDev}, nil, nil)
		return err
	})

	return loopDev, nil
}

// buildWholeDiskLike provisions an entire disk: wipe, GPT with a
// BIOS-boot partition plus ESP plus root, settle, verify, format. The
// BIOS-boot partition is what lets a pure-GPT disk boot legacy firmware
// via GRUB's embedded core image.
func (b *Builder) buildWholeDiskLike(ctx context.Context, diskPath string, opts Options, loopBacking string) (Layout, error) {
	log := b.ctx.StepLogger("partition")

	if _, err := b.run.RunChecked(ctx, []string{"sgdisk", "--zap-all", diskPath}, nil, nil); err != nil {
		return Layout{}, almaerr.Wrap("wiping existing signatures", err)
	}

	// p1: BIOS boot partition (1 MiB, unformatted, embeds GRUB's core.img)
	// p2: ESP (FAT32, boot_size, default 300 MiB)
	// p3: root (remainder)
	sgdiskArgs := []string{
		"sgdisk",
		"--new=1:0:+1MiB", "--typecode=1:EF02", "--change-name=1:ALMABIOS",
		fmt.Sprintf("--new=2:0:+%dMiB", opts.BootSizeMiB), "--typecode=2:EF00", "--change-name=2:ALMABOOT",
		"--new=3:0:0", "--typecode=3:8300", "--change-name=3:ALMAROOT",
		diskPath,
	}
	if _, err := b.run.RunChecked(ctx, sgdiskArgs, nil, nil); err != nil {
		return Layout{}, almaerr.Wrap("creating GPT partition table", err)
	}

	// mark the protective-MBR entry bootable so BIOS firmware that
	// refuses flag-less disks still hands control to GRUB's embedded
	// core.img
	if _, err := b.run.RunChecked(ctx, []string{"sfdisk", "--activate", diskPath, "1"}, nil, nil); err != nil {
		return Layout{}, almaerr.Wrap("setting MBR boot flag", err)
	}

	bootDevice, rootDevice, err := b.probe.ResolvePartitions(ctx, diskPath, PartNumESP, PartNumRoot)
	if err != nil {
		return Layout{}, almaerr.Wrap("waiting for partition nodes to settle", err)
	}
	log.Info().Str("boot", bootDevice).Str("root", rootDevice).Msg("partitions settled")

	if !b.ctx.DryRun {
		if err := VerifyTable(diskPath, PlanTable(0, opts.BootSizeMiB)); err != nil {
			return Layout{}, almaerr.Wrap("verifying partition table", err)
		}
	}

	if _, err := b.run.RunChecked(ctx, []string{"mkfs.fat", "-F32", "-n", "ALMABOOT", bootDevice}, nil, nil); err != nil {
		return Layout{}, almaerr.Wrap("formatting boot partition", err)
	}

	layout := Layout{
		BootDevice:  bootDevice,
		RootFS:      opts.Filesystem,
		LoopBacking: loopBacking,
		RootPartNum: PartNumRoot,
		BootPartNum: PartNumESP,
	}

	rootTarget := rootDevice
	if opts.Encrypted {
		mapperDev, luksUUID, err := b.openLuks(ctx, rootDevice, opts.Passphrase)
		if err != nil {
			return Layout{}, almaerr.Wrap("opening LUKS container", err)
		}
		layout.Encrypted = true
		layout.LuksName = LuksMapperName
		layout.LuksUUID = luksUUID
		rootTarget = mapperDev
	}

	if err := b.formatRoot(ctx, rootTarget, opts.Filesystem); err != nil {
		return Layout{}, almaerr.Wrap("formatting root", err)
	}
	layout.RootDevice = rootTarget

	return layout, nil
}

// buildFromPartitions reformats a caller-supplied root partition (and
// boot partition, if given), skipping all whole-disk steps.
func (b *Builder) buildFromPartitions(ctx context.Context, target Target, opts Options) (Layout, error) {
	layout := Layout{
		RootFS: opts.Filesystem,
	}

	if target.BootPartition != "" {
		if _, err := b.run.RunChecked(ctx, []string{"mkfs.fat", "-F32", "-n", "ALMABOOT", target.BootPartition}, nil, nil); err != nil {
			return Layout{}, almaerr.Wrap("formatting boot partition", err)
		}
		layout.BootDevice = target.BootPartition
	}

	rootTarget := target.RootPartition
	if opts.Encrypted {
		mapperDev, luksUUID, err := b.openLuks(ctx, target.RootPartition, opts.Passphrase)
		if err != nil {
			return Layout{}, almaerr.Wrap("opening LUKS container", err)
		}
		layout.Encrypted = true
		layout.LuksName = LuksMapperName
		layout.LuksUUID = luksUUID
		rootTarget = mapperDev
	}

	if err := b.formatRoot(ctx, rootTarget, opts.Filesystem); err != nil {
		return Layout{}, almaerr.Wrap("formatting root", err)
	}
	layout.RootDevice = rootTarget

	return layout, nil
}

// openLuks formats and opens a LUKS2 container on partition, pushing
// its close onto the stack.
func (b *Builder) openLuks(ctx context.Context, partition, passphrase string) (mapperDevice, luksUUID string, err error) {
	if _, err := b.run.RunChecked(ctx, []string{"cryptsetup", "luksFormat", "--type", "luks2", "--batch-mode", partition}, nil, []byte(passphrase+"\n")); err != nil {
		return "", "", &almaerr.LuksFailed{Op: "luksFormat", Err: err}
	}

	if _, err := b.run.RunChecked(ctx, []string{"cryptsetup", "open", partition, LuksMapperName}, nil, []byte(passphrase+"\n")); err != nil {
		return "", "", &almaerr.LuksFailed{Op: "open", Err: err}
	}
	b.stack.Push("luks mapping "+LuksMapperName, func() error {
		_, err := b.run.Run(ctx, []string{"cryptsetup", "close", LuksMapperName}, nil, nil)
		return err
	})

	res, err := b.run.RunChecked(ctx, []string{"blkid", "-s", "UUID", "-o", "value", partition}, nil, nil)
	if err != nil {
		return "", "", &almaerr.LuksFailed{Op: "blkid", Err: err}
	}
	luksUUID = strings.TrimSpace(res.Stdout)
	if luksUUID == "" && b.ctx.DryRun {
		luksUUID = uuid.NewString()
	}

	return "/dev/mapper/" + LuksMapperName, luksUUID, nil
}

func (b *Builder) formatRoot(ctx context.Context, device string, fs Filesystem) error {
	switch fs {
	case FilesystemBtrfs:
		if _, err := b.run.RunChecked(ctx, []string{"mkfs.btrfs", "-f", "-L", "ALMAROOT", device}, nil, nil); err != nil {
			return err
		}
		return b.createBtrfsSubvolumes(ctx, device)
	default:
		_, err := b.run.RunChecked(ctx, []string{"mkfs.ext4", "-F", "-L", "ALMAROOT", device}, nil, nil)
		return err
	}
}

// createBtrfsSubvolumes mounts the top-level volume transiently and
// creates the fixed subvolume set.
func (b *Builder) createBtrfsSubvolumes(ctx context.Context, device string) error {
	tmp, err := os.MkdirTemp("", "alma-btrfs-")
	if err != nil {
		return &almaerr.Internal{Err: err}
	}
	defer os.RemoveAll(tmp)

	if _, err := b.run.RunChecked(ctx, []string{"mount", device, tmp}, nil, nil); err != nil {
		return &almaerr.MountFailed{Source: device, Target: tmp, Err: err}
	}
	defer b.run.Run(ctx, []string{"umount", tmp}, nil, nil)

	for _, subvol := range BtrfsSubvolumes {
		if _, err := b.run.RunChecked(ctx, []string{"btrfs", "subvolume", "create", tmp + "/" + subvol}, nil, nil); err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("creating subvolume %s: %w", subvol, err)}
		}
	}
	return nil
}

// BlkidUUID returns the filesystem/LUKS UUID blkid reports for device.
func BlkidUUID(ctx context.Context, run *runner.Runner, device string) (string, error) {
	res, err := run.RunChecked(ctx, []string{"blkid", "-s", "UUID", "-o", "value", device}, nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// DetectFilesystem runs `blkid TYPE` against device to distinguish ext4
// from btrfs, for chroot's auto-detection.
func DetectFilesystem(ctx context.Context, run *runner.Runner, device string) (Filesystem, error) {
	res, err := run.RunChecked(ctx, []string{"blkid", "-s", "TYPE", "-o", "value", device}, nil, nil)
	if err != nil {
		return "", err
	}
	switch strings.TrimSpace(res.Stdout) {
	case "btrfs":
		return FilesystemBtrfs, nil
	case "crypto_LUKS":
		return "", fmt.Errorf("device is a LUKS container; open it first")
	default:
		return FilesystemExt4, nil
	}
}
