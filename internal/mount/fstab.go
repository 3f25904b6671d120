package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"alma/internal/almaerr"
	"alma/internal/runner"
)

// GenerateFstab runs `genfstab -U` against root and writes the result to
// root/etc/fstab, using UUIDs rather than device paths. If rootflags is non-empty (btrfs), it is
// appended to the root entry.
func GenerateFstab(ctx context.Context, run *runner.Runner, root string, rootflags string) error {
	res, err := run.RunChecked(ctx, []string{"genfstab", "-U", "-p", root}, nil, nil)
	if err != nil {
		return almaerr.Wrap("generating fstab", err)
	}

	contents := res.Stdout
	if rootflags != "" {
		contents = appendRootflags(contents, rootflags)
	}

	fstabPath := filepath.Join(root, "etc", "fstab")
	if err := os.MkdirAll(filepath.Dir(fstabPath), 0755); err != nil {
		return &almaerr.Internal{Err: err}
	}
	if err := os.WriteFile(fstabPath, []byte(contents), 0644); err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("writing fstab: %w", err)}
	}
	return nil
}

// appendRootflags appends rootflags=subvol=@ (or similar) to the root
// entry's option field, the 4th whitespace-delimited column of an fstab
// line whose mount point is "/".
func appendRootflags(fstab, rootflags string) string {
	lines := splitLines(fstab)
	for i, line := range lines {
		fields := splitFields(line)
		if len(fields) >= 4 && fields[1] == "/" {
			fields[3] = fields[3] + "," + rootflags
			lines[i] = joinFields(fields)
		}
	}
	return joinLines(lines)
}

// GenerateCrypttab writes /etc/crypttab for an encrypted root, using the
// LUKS UUID.
func GenerateCrypttab(root, luksUUID, mapperName string) error {
	line := fmt.Sprintf("%s UUID=%s none luks\n", mapperName, luksUUID)
	path := filepath.Join(root, "etc", "crypttab")
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("writing crypttab: %w", err)}
	}
	return nil
}

// GrubCmdlineFragment builds the GRUB_CMDLINE_LINUX_DEFAULT fragment
// that lets the initramfs open the encrypted root.
func GrubCmdlineFragment(luksUUID, mapperName string) string {
	return fmt.Sprintf("cryptdevice=UUID=%s:%s root=/dev/mapper/%s", luksUUID, mapperName, mapperName)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func splitFields(line string) []string {
	var fields []string
	field := ""
	for _, r := range line {
		if r == ' ' || r == '\t' {
			if field != "" {
				fields = append(fields, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		fields = append(fields, field)
	}
	return fields
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += "\t"
		}
		out += f
	}
	return out
}
