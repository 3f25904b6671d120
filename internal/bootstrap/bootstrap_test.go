package bootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"alma/internal/appctx"
	"alma/internal/runner"
	"alma/internal/storage"
)

func dryRunBootstrapper() *Bootstrapper {
	ctx := appctx.New(true, false, "", zerolog.Nop())
	return New(ctx, runner.New(ctx))
}

func TestMergePackages(t *testing.T) {
	tests := []struct {
		name   string
		layout storage.Layout
		extra  []string
		want   []string
	}{
		{
			name:   "ext4 plain",
			layout: storage.Layout{RootFS: storage.FilesystemExt4},
			extra:  []string{"vim", "base"},
			want:   append(append([]string{}, basePackages...), "e2fsprogs", "vim"),
		},
		{
			name:   "encrypted btrfs",
			layout: storage.Layout{RootFS: storage.FilesystemBtrfs, Encrypted: true},
			extra:  nil,
			want:   append(append([]string{}, basePackages...), "btrfs-progs", "cryptsetup"),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mergePackages(basePackages, tc.extra, tc.layout)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("package set (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEditHooksLine(t *testing.T) {
	conf := "# comment\nHOOKS=(base udev autodetect modconf block filesystems fsck)\n"
	got := editHooksLine(conf)
	if !strings.Contains(got, "block encrypt filesystems") {
		t.Fatalf("encrypt hook not inserted before filesystems:\n%s", got)
	}

	// idempotent
	if again := editHooksLine(got); again != got {
		t.Fatalf("editing twice must not duplicate the hook:\n%s", again)
	}
}

func TestEditBinariesLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BINARIES=()\n", "BINARIES=(btrfs)\n"},
		{"BINARIES=(fsck.ext4)\n", "BINARIES=(fsck.ext4 btrfs)\n"},
		{"BINARIES=(btrfs)\n", "BINARIES=(btrfs)\n"},
	}
	for _, tc := range tests {
		if got := editBinariesLine(tc.in); got != tc.want {
			t.Fatalf("editBinariesLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAppendCmdline(t *testing.T) {
	conf := "GRUB_TIMEOUT=5\nGRUB_CMDLINE_LINUX_DEFAULT=\"loglevel=3 quiet\"\n"
	got := appendCmdline(conf, "cryptdevice=UUID=abcd:alma_root root=/dev/mapper/alma_root")
	if !strings.Contains(got, "quiet cryptdevice=UUID=abcd:alma_root root=/dev/mapper/alma_root\"") {
		t.Fatalf("fragment not appended inside the quotes:\n%s", got)
	}
}

func TestAppendCmdline_AddsMissingLine(t *testing.T) {
	got := appendCmdline("GRUB_TIMEOUT=5\n", "rootflags=subvol=@")
	if !strings.Contains(got, "GRUB_CMDLINE_LINUX_DEFAULT=\"rootflags=subvol=@\"") {
		t.Fatalf("missing line not added:\n%s", got)
	}
}

func TestValidAURHelper(t *testing.T) {
	for _, helper := range []string{"paru", "yay"} {
		if !ValidAURHelper(helper) {
			t.Fatalf("%s must be a valid helper", helper)
		}
	}
	if ValidAURHelper("pamac") {
		t.Fatal("unsupported helper accepted")
	}
}

func TestPacstrap_DryRunSucceeds(t *testing.T) {
	b := dryRunBootstrapper()
	layout := storage.Layout{RootFS: storage.FilesystemExt4}
	if err := b.Pacstrap(context.Background(), t.TempDir(), []string{"vim"}, layout); err != nil {
		t.Fatalf("dry-run pacstrap: %v", err)
	}
}

func TestInstallAURPackages_NoPackagesIsNoop(t *testing.T) {
	b := dryRunBootstrapper()
	if err := b.InstallAURPackages(context.Background(), "/mnt", "paru", nil); err != nil {
		t.Fatalf("empty package list must be a no-op, got %v", err)
	}
}
