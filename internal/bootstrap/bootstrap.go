// Package bootstrap drives pacstrap, configures the target system
// (locale, hostname, users, initramfs), installs the bootloader, and
// persists the manifest. The steps run in a fixed order inside the
// storage and mount scaffolding the caller has already built.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/manifest"
	"alma/internal/mount"
	"alma/internal/runner"
	"alma/internal/storage"
)

// basePackages is always installed regardless of presets: the base
// system, kernel, bootloader, and the filesystem tools the target needs
// to boot itself.
var basePackages = []string{
	"base", "linux", "linux-firmware", "grub", "efibootmgr", "dosfstools",
}

// Bootstrapper drives the target-system installation inside the
// storage and mount scaffolding.
type Bootstrapper struct {
	ctx *appctx.Context
	run *runner.Runner
}

// New builds a Bootstrapper.
func New(ctx *appctx.Context, run *runner.Runner) *Bootstrapper {
	return &Bootstrapper{ctx: ctx, run: run}
}

// Pacstrap installs the aggregated non-AUR package set into root in a
// single invocation, honoring -C and copying the pacman config into the
// target when one was supplied.
func (b *Bootstrapper) Pacstrap(ctx context.Context, root string, packages []string, layout storage.Layout) error {
	pkgs := mergePackages(basePackages, packages, layout)

	argv := []string{"pacstrap"}
	if b.ctx.PacmanConf != "" {
		argv = append(argv, "-C", b.ctx.PacmanConf)
	}
	argv = append(argv, root)
	argv = append(argv, pkgs...)

	if _, err := b.run.RunChecked(ctx, argv, nil, nil); err != nil {
		return almaerr.Wrap("bootstrapping base system", err)
	}

	if b.ctx.PacmanConf != "" && !b.ctx.DryRun {
		data, err := os.ReadFile(b.ctx.PacmanConf)
		if err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("reading pacman config: %w", err)}
		}
		if err := os.WriteFile(filepath.Join(root, "etc", "pacman.conf"), data, 0644); err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("copying pacman config into target: %w", err)}
		}
	}
	return nil
}

// mergePackages combines the base set, filesystem tools, and preset
// packages, collapsing duplicates while preserving first-seen order.
func mergePackages(base, extra []string, layout storage.Layout) []string {
	seen := map[string]bool{}
	var out []string
	add := func(pkgs ...string) {
		for _, p := range pkgs {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(base...)
	if layout.RootFS == storage.FilesystemBtrfs {
		add("btrfs-progs")
	} else {
		add("e2fsprogs")
	}
	if layout.Encrypted {
		add("cryptsetup")
	}
	add(extra...)
	return out
}

// WriteFstab generates /etc/fstab via genfstab -U and, for encrypted
// roots, /etc/crypttab.
func (b *Bootstrapper) WriteFstab(ctx context.Context, root string, layout storage.Layout) error {
	// subvolume options land in fstab via genfstab reading the live
	// mounts; the rootflags= kernel argument is GRUB's concern
	if err := mount.GenerateFstab(ctx, b.run, root, ""); err != nil {
		return err
	}
	if layout.Encrypted {
		if b.ctx.DryRun {
			return nil
		}
		if err := mount.GenerateCrypttab(root, layout.LuksUUID, layout.LuksName); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureOptions carries the host-configuration choices.
type ConfigureOptions struct {
	Hostname    string
	Timezone    string
	Locales     []string // enabled in locale.gen alongside en_US.UTF-8
	Interactive bool     // prompt for a root password inside the chroot
}

// Configure sets timezone, locales, hostname, hosts, and optionally the
// root password.
func (b *Bootstrapper) Configure(ctx context.Context, root string, opts ConfigureOptions) error {
	if opts.Hostname == "" {
		opts.Hostname = "alma"
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}

	tzTarget := filepath.Join("/usr/share/zoneinfo", opts.Timezone)
	if _, err := b.run.RunChecked(ctx, []string{"arch-chroot", root, "ln", "-sf", tzTarget, "/etc/localtime"}, nil, nil); err != nil {
		return almaerr.Wrap("setting timezone", err)
	}

	if !b.ctx.DryRun {
		if err := writeLocaleGen(root, opts.Locales); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(root, "etc", "locale.conf"), []byte("LANG=en_US.UTF-8\n"), 0644); err != nil {
			return &almaerr.Internal{Err: err}
		}
		if err := os.WriteFile(filepath.Join(root, "etc", "hostname"), []byte(opts.Hostname+"\n"), 0644); err != nil {
			return &almaerr.Internal{Err: err}
		}
		hosts := fmt.Sprintf("127.0.0.1\tlocalhost\n::1\t\tlocalhost\n127.0.1.1\t%s.localdomain\t%s\n", opts.Hostname, opts.Hostname)
		if err := os.WriteFile(filepath.Join(root, "etc", "hosts"), []byte(hosts), 0644); err != nil {
			return &almaerr.Internal{Err: err}
		}
	}

	if _, err := b.run.RunChecked(ctx, []string{"arch-chroot", root, "locale-gen"}, nil, nil); err != nil {
		return almaerr.Wrap("generating locales", err)
	}

	if opts.Interactive {
		fmt.Println("Set the root password for the new system:")
		if err := b.run.RunInteractive(ctx, []string{"arch-chroot", root, "passwd"}, nil); err != nil {
			return almaerr.Wrap("setting root password", err)
		}
	}
	return nil
}

func writeLocaleGen(root string, extra []string) error {
	lines := []string{"en_US.UTF-8 UTF-8"}
	for _, l := range extra {
		if l != "en_US.UTF-8 UTF-8" {
			lines = append(lines, l)
		}
	}
	contents := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(root, "etc", "locale.gen"), []byte(contents), 0644); err != nil {
		return &almaerr.Internal{Err: err}
	}
	return nil
}

// PersistManifest writes the manifest into the installed system.
func (b *Bootstrapper) PersistManifest(root string, m manifest.Manifest) error {
	if b.ctx.DryRun {
		return nil
	}
	return manifest.Write(root, m)
}

// InteractiveShell hands the user a shell inside the chroot before
// unwinding.
func (b *Bootstrapper) InteractiveShell(ctx context.Context, root string) error {
	fmt.Println("Entering the new system. Exit the shell to finish.")
	return b.run.RunInteractive(ctx, []string{"arch-chroot", root, "/bin/bash"}, nil)
}
