package statemachine

import (
	"context"
	"fmt"
	"os"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/bootstrap"
	"alma/internal/device"
	"alma/internal/manifest"
	"alma/internal/mount"
	"alma/internal/preset"
	"alma/internal/resources"
	"alma/internal/runner"
	"alma/internal/storage"
)

// CreateOptions carries everything the create pipeline needs, resolved
// from CLI flags by the caller.
type CreateOptions struct {
	// Target selection; exactly one of Path+ImageSize, Path (device), or
	// RootPartition is the effective target.
	Path          string
	ImageSize     uint64 // non-zero means Path names an image file
	Overwrite     bool
	RootPartition string
	BootPartition string

	Filesystem        storage.Filesystem
	Encrypted         bool
	PassphraseFD      int // non-zero: read the passphrase from this fd
	BootSizeMiB       uint64
	AllowNonRemovable bool
	NoConfirm         bool
	Interactive       bool

	Presets       []string
	ExtraPackages []string
	AURPackages   []string
	AURHelper     string

	Hostname string
	Timezone string

	// CopyHomeFrom/CopyNetworkFrom name a live root to clone /home and
	// NetworkManager state from; used by the install driver.
	CopyHomeFrom    string
	CopyNetworkFrom string

	// PromptPassphrase reads the passphrase twice from the controlling
	// TTY; injected by the caller so the core stays free of TUI code.
	PromptPassphrase func() (string, error)
}

// CreateDriver runs the full provisioning pipeline.
type CreateDriver struct {
	ctx   *appctx.Context
	opts  CreateOptions
	stack *resources.Stack
	run   *runner.Runner
	probe *device.Probe
	mnt   *mount.Manager
	boot  *bootstrap.Bootstrapper

	// runtime state threaded between states
	target     storage.Target
	layout     storage.Layout
	set        preset.Set
	root       string
	passphrase string
}

// NewCreate wires the create driver's components over one shared stack.
func NewCreate(ctx *appctx.Context, opts CreateOptions, stack *resources.Stack) *CreateDriver {
	run := runner.New(ctx)
	stack.SetTerminator(run.TerminateCurrent)
	return &CreateDriver{
		ctx:   ctx,
		opts:  opts,
		stack: stack,
		run:   run,
		probe: device.New(ctx, run),
		mnt:   mount.New(ctx, run, stack),
		boot:  bootstrap.New(ctx, run),
	}
}

// Run executes the pipeline and tears everything down on both success
// and failure.
func (d *CreateDriver) Run(ctx context.Context) error {
	p := NewPipeline(d.ctx, d.stack)

	p.AddState("checking host tools", func(context.Context) error {
		return checkHostTools(createHostTools)
	})
	p.AddState("acquiring presets", d.acquirePresets)
	if d.opts.Encrypted {
		p.AddState("reading passphrase", d.readPassphrase)
	}
	p.AddState("building storage", d.buildStorage)
	p.AddState("mounting filesystems", d.mountFilesystems)
	p.AddState("bootstrapping base system", d.pacstrap)
	p.AddState("generating fstab", d.writeFstab)
	p.AddState("configuring system", d.configure)
	p.AddState("regenerating initramfs", d.regenerateInitramfs)
	p.AddState("installing AUR packages", d.installAURPackages)
	p.AddState("running preset scripts", d.runPresetScripts)
	if d.wantBootloader() {
		p.AddState("installing bootloader", d.installBootloader)
	}
	p.AddState("persisting manifest", d.persistManifest)
	if d.opts.CopyHomeFrom != "" {
		p.AddState("copying home directories", d.copyHome)
	}
	if d.opts.CopyNetworkFrom != "" {
		p.AddState("copying network configuration", d.copyNetwork)
	}
	if d.opts.Interactive {
		p.AddState("interactive shell", d.interactiveShell)
	}

	if err := p.Run(ctx); err != nil {
		return err
	}

	// normal teardown: unmount, close LUKS, detach loop, drop scratch
	// dirs, in exact reverse of acquisition
	d.stack.Unwind()
	return nil
}

// wantBootloader reports whether the bootloader step runs: a root
// partition supplied without a boot partition skips it entirely.
func (d *CreateDriver) wantBootloader() bool {
	return !(d.opts.RootPartition != "" && d.opts.BootPartition == "")
}

func (d *CreateDriver) aurPackages() []string {
	if len(d.set.AggregatedAURPackages) > 0 {
		return d.set.AggregatedAURPackages
	}
	return d.opts.AURPackages
}

// acquirePresets runs the preset pipeline's host-side stages. This
// happens before any destructive action so a missing environment
// variable or a broken preset aborts with the medium untouched.
func (d *CreateDriver) acquirePresets(ctx context.Context) error {
	pipeline := preset.NewPipeline(d.ctx, preset.NewAcquirer(d.ctx, d.stack))
	set, err := pipeline.Build(ctx, d.opts.Presets, d.opts.ExtraPackages, d.opts.AURPackages)
	if err != nil {
		return err
	}
	d.set = set
	return nil
}

func (d *CreateDriver) readPassphrase(context.Context) error {
	if d.opts.PassphraseFD != 0 {
		f := os.NewFile(uintptr(d.opts.PassphraseFD), "passphrase")
		if f == nil {
			return &almaerr.Internal{Err: fmt.Errorf("invalid passphrase fd %d", d.opts.PassphraseFD)}
		}
		defer f.Close()
		buf := make([]byte, 512)
		n, err := f.Read(buf)
		if err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("reading passphrase fd: %w", err)}
		}
		d.passphrase = trimNewline(string(buf[:n]))
		return nil
	}

	if d.opts.PromptPassphrase == nil {
		return &almaerr.Internal{Err: fmt.Errorf("no passphrase source configured")}
	}
	pass, err := d.opts.PromptPassphrase()
	if err != nil {
		return err
	}
	d.passphrase = pass
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (d *CreateDriver) buildStorage(ctx context.Context) error {
	d.target = resolveTarget(d.opts)

	builder := storage.New(d.ctx, d.run, d.probe, d.stack)
	layout, err := builder.Build(ctx, d.target, storage.Options{
		Filesystem:        d.opts.Filesystem,
		Encrypted:         d.opts.Encrypted,
		BootSizeMiB:       d.opts.BootSizeMiB,
		AllowNonRemovable: d.opts.AllowNonRemovable,
		Passphrase:        d.passphrase,
	})
	if err != nil {
		return err
	}
	d.layout = layout
	return nil
}

// resolveTarget maps the option surface onto the tagged Target
// variant; the kind is decided exactly once, here.
func resolveTarget(opts CreateOptions) storage.Target {
	switch {
	case opts.RootPartition != "":
		return storage.Target{
			Kind:          storage.KindPartitions,
			RootPartition: opts.RootPartition,
			BootPartition: opts.BootPartition,
		}
	case opts.ImageSize > 0:
		return storage.Target{
			Kind:      storage.KindImage,
			ImagePath: opts.Path,
			ImageSize: opts.ImageSize,
			Overwrite: opts.Overwrite,
		}
	default:
		return storage.Target{
			Kind:      storage.KindWholeDisk,
			DiskPath:  opts.Path,
			Removable: !opts.AllowNonRemovable,
		}
	}
}

func (d *CreateDriver) mountFilesystems(ctx context.Context) error {
	root, err := makeMountRoot(d.ctx, d.stack)
	if err != nil {
		return err
	}
	d.root = root

	if err := mountLayout(ctx, d.mnt, root, d.layout); err != nil {
		return err
	}

	// API binds go in now so every subsequent chroot step finds them;
	// they come out with the stack, immediately after the last chroot
	// state finishes
	return d.mnt.MountAPIBinds(ctx, root)
}

func (d *CreateDriver) pacstrap(ctx context.Context) error {
	return d.boot.Pacstrap(ctx, d.root, d.set.AggregatedPackages, d.layout)
}

func (d *CreateDriver) writeFstab(ctx context.Context) error {
	return d.boot.WriteFstab(ctx, d.root, d.layout)
}

func (d *CreateDriver) configure(ctx context.Context) error {
	return d.boot.Configure(ctx, d.root, bootstrap.ConfigureOptions{
		Hostname:    d.opts.Hostname,
		Timezone:    d.opts.Timezone,
		Interactive: d.opts.Interactive,
	})
}

func (d *CreateDriver) regenerateInitramfs(ctx context.Context) error {
	return d.boot.RegenerateInitramfs(ctx, d.root, d.layout)
}

func (d *CreateDriver) installAURPackages(ctx context.Context) error {
	return d.boot.InstallAURPackages(ctx, d.root, d.opts.AURHelper, d.aurPackages())
}

func (d *CreateDriver) runPresetScripts(ctx context.Context) error {
	return preset.RunScripts(ctx, d.run, d.mnt, d.root, d.set, forwardedEnvironment(d.set))
}

// forwardedEnvironment builds the child environment for preset scripts:
// the standard passthrough set plus every preset-declared variable.
func forwardedEnvironment(set preset.Set) []string {
	env := []string{}
	for _, name := range []string{"TERM", "PATH", "HOME", "ALMA_USER"} {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for _, name := range set.RequiredEnvironment {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

func (d *CreateDriver) installBootloader(ctx context.Context) error {
	wholeDisk := ""
	switch d.target.Kind {
	case storage.KindWholeDisk:
		wholeDisk = d.target.DiskPath
	case storage.KindImage:
		wholeDisk = d.layout.LoopBacking
	}
	return d.boot.InstallBootloader(ctx, d.root, wholeDisk, d.layout)
}

func (d *CreateDriver) persistManifest(context.Context) error {
	m := manifest.New()
	m.Filesystem = string(d.layout.RootFS)
	m.Encrypted = d.layout.Encrypted
	m.ExtraPackages = d.opts.ExtraPackages
	m.AURPackages = d.aurPackages()
	m.AURHelper = d.opts.AURHelper
	m.Presets = d.opts.Presets
	m.BootSizeMiB = d.opts.BootSizeMiB
	if m.BootSizeMiB == 0 {
		m.BootSizeMiB = storage.DefaultBootSizeMiB
	}
	return d.boot.PersistManifest(d.root, m)
}

func (d *CreateDriver) copyHome(ctx context.Context) error {
	src := d.opts.CopyHomeFrom + "/home/."
	_, err := d.run.RunChecked(ctx, []string{"cp", "-a", src, d.root + "/home/"}, nil, nil)
	return err
}

func (d *CreateDriver) copyNetwork(ctx context.Context) error {
	src := d.opts.CopyNetworkFrom + "/etc/NetworkManager/system-connections"
	if _, err := os.Stat(src); err != nil && !d.ctx.DryRun {
		d.ctx.Log.Warn().Str("path", src).Msg("no NetworkManager state to copy")
		return nil
	}
	_, err := d.run.RunChecked(ctx, []string{"cp", "-a", src, d.root + "/etc/NetworkManager/"}, nil, nil)
	return err
}

func (d *CreateDriver) interactiveShell(ctx context.Context) error {
	return d.boot.InteractiveShell(ctx, d.root)
}

// makeMountRoot allocates ALMA's temporary mount root under /tmp and
// pushes its removal. After a real run every unmount has already fired,
// so the directory is empty and os.Remove suffices; a dry run never
// mounted anything, so the files written beneath it are scratch and the
// whole tree goes.
func makeMountRoot(ctx *appctx.Context, stack *resources.Stack) (string, error) {
	root, err := os.MkdirTemp("", "alma-")
	if err != nil {
		return "", &almaerr.Internal{Err: err}
	}
	stack.Push("mount root "+root, func() error {
		if ctx.DryRun {
			return os.RemoveAll(root)
		}
		return os.Remove(root)
	})
	return root, nil
}

// mountLayout mounts the layout's filesystems under root in nested
// dependency order: root, then btrfs subvolumes, then the ESP at /boot.
func mountLayout(ctx context.Context, mnt *mount.Manager, root string, layout storage.Layout) error {
	if layout.RootFS == storage.FilesystemBtrfs {
		if err := mnt.MountSubvolume(ctx, root, layout.RootDevice, "@", "/"); err != nil {
			return err
		}
		for _, subvol := range storage.BtrfsSubvolumes {
			if subvol == "@" {
				continue
			}
			if err := mnt.MountSubvolume(ctx, root, layout.RootDevice, subvol, storage.BtrfsSubvolumeMount[subvol]); err != nil {
				return err
			}
		}
	} else {
		if err := mnt.MountRoot(ctx, root, layout.RootDevice, string(layout.RootFS), nil); err != nil {
			return err
		}
	}

	if layout.BootDevice != "" {
		if err := mnt.MountBoot(ctx, root, layout.BootDevice); err != nil {
			return err
		}
	}
	return nil
}
