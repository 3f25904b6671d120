package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alma/internal/almaerr"
	"alma/internal/arch"
	"alma/internal/mount"
	"alma/internal/storage"
)

// InstallBootloader installs GRUB and generates grub.cfg. The UEFI
// target is always installed; wholeDisk is the disk device for the BIOS
// target, and when it is empty (partition mode with a boot partition)
// only the UEFI target is installed.
func (b *Bootstrapper) InstallBootloader(ctx context.Context, root, wholeDisk string, layout storage.Layout) error {
	if err := b.editGrubDefaults(root, layout); err != nil {
		return err
	}

	uefiArgv := []string{
		"arch-chroot", root, "grub-install",
		"--target=" + arch.GrubTargetUEFI,
		"--efi-directory=/boot",
		"--bootloader-id=" + arch.BootloaderID,
		"--removable",
	}
	if _, err := b.run.RunChecked(ctx, uefiArgv, nil, nil); err != nil {
		return almaerr.Wrap("installing UEFI bootloader", err)
	}

	if wholeDisk != "" {
		biosArgv := []string{
			"arch-chroot", root, "grub-install",
			"--target=" + arch.GrubTargetBIOS,
			wholeDisk,
		}
		if _, err := b.run.RunChecked(ctx, biosArgv, nil, nil); err != nil {
			return almaerr.Wrap("installing BIOS bootloader", err)
		}
	}

	if _, err := b.run.RunChecked(ctx, []string{"arch-chroot", root, "grub-mkconfig", "-o", "/boot/grub/grub.cfg"}, nil, nil); err != nil {
		return almaerr.Wrap("generating grub configuration", err)
	}
	return nil
}

// editGrubDefaults appends the cryptdevice and subvolume fragments to
// GRUB_CMDLINE_LINUX_DEFAULT in /etc/default/grub.
func (b *Bootstrapper) editGrubDefaults(root string, layout storage.Layout) error {
	var fragments []string
	if layout.Encrypted {
		fragments = append(fragments, mount.GrubCmdlineFragment(layout.LuksUUID, layout.LuksName))
	}
	if layout.RootFS == storage.FilesystemBtrfs {
		fragments = append(fragments, "rootflags=subvol=@")
	}
	if len(fragments) == 0 || b.ctx.DryRun {
		return nil
	}

	path := filepath.Join(root, "etc", "default", "grub")
	data, err := os.ReadFile(path)
	if err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("reading grub defaults: %w", err)}
	}

	edited := appendCmdline(string(data), strings.Join(fragments, " "))
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("writing grub defaults: %w", err)}
	}
	return nil
}

// appendCmdline appends extra inside the quotes of the active
// GRUB_CMDLINE_LINUX_DEFAULT line, adding the line if absent.
func appendCmdline(conf, extra string) string {
	lines := strings.Split(conf, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "GRUB_CMDLINE_LINUX_DEFAULT=") {
			continue
		}
		if idx := strings.LastIndex(line, "\""); idx > strings.Index(line, "\"") {
			lines[i] = line[:idx] + " " + extra + line[idx:]
			return strings.Join(lines, "\n")
		}
	}
	return conf + fmt.Sprintf("\nGRUB_CMDLINE_LINUX_DEFAULT=\"%s\"\n", extra)
}
