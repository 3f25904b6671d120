package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alma/internal/almaerr"
	"alma/internal/storage"
)

// RegenerateInitramfs edits /etc/mkinitcpio.conf so the generated
// initramfs can open the root: the encrypt hook goes before filesystems
// iff encrypted, and the btrfs binary is added iff the root is btrfs.
// Then runs mkinitcpio -P.
func (b *Bootstrapper) RegenerateInitramfs(ctx context.Context, root string, layout storage.Layout) error {
	if !b.ctx.DryRun {
		confPath := filepath.Join(root, "etc", "mkinitcpio.conf")
		data, err := os.ReadFile(confPath)
		if err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("reading mkinitcpio.conf: %w", err)}
		}

		edited := string(data)
		if layout.Encrypted {
			edited = editHooksLine(edited)
		}
		if layout.RootFS == storage.FilesystemBtrfs {
			edited = editBinariesLine(edited)
		}

		if edited != string(data) {
			if err := os.WriteFile(confPath, []byte(edited), 0644); err != nil {
				return &almaerr.Internal{Err: fmt.Errorf("writing mkinitcpio.conf: %w", err)}
			}
		}
	}

	if _, err := b.run.RunChecked(ctx, []string{"arch-chroot", root, "mkinitcpio", "-P"}, nil, nil); err != nil {
		return almaerr.Wrap("regenerating initramfs", err)
	}
	return nil
}

// editHooksLine inserts "encrypt" before "filesystems" in the active
// HOOKS= line, leaving an already-correct line untouched.
func editHooksLine(conf string) string {
	lines := strings.Split(conf, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "HOOKS=") {
			continue
		}
		if strings.Contains(trimmed, "encrypt") {
			return conf
		}
		lines[i] = strings.Replace(line, "filesystems", "encrypt filesystems", 1)
		return strings.Join(lines, "\n")
	}
	return conf
}

// editBinariesLine adds btrfs to the active BINARIES= line.
func editBinariesLine(conf string) string {
	lines := strings.Split(conf, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "BINARIES=") {
			continue
		}
		if strings.Contains(trimmed, "btrfs") {
			return conf
		}
		open := strings.Index(line, "(")
		closing := strings.LastIndex(line, ")")
		if open < 0 || closing < open {
			return conf
		}
		inner := strings.TrimSpace(line[open+1 : closing])
		if inner == "" {
			inner = "btrfs"
		} else {
			inner += " btrfs"
		}
		lines[i] = line[:open+1] + inner + line[closing:]
		return strings.Join(lines, "\n")
	}
	return conf
}
