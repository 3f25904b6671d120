package main

import (
	"errors"
	"fmt"
	"testing"

	"alma/internal/almaerr"
	"alma/internal/commands"
	"alma/internal/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"generic failure", fmt.Errorf("boom"), exitFailure},
		{"cancelled", &almaerr.Cancelled{Step: "pacstrap"}, exitCancelled},
		{"wrapped cancelled", almaerr.Wrap("bootstrapping", &almaerr.Cancelled{Step: "pacstrap"}), exitCancelled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestCreateOptions_ImageSizeParsed(t *testing.T) {
	cmd := &commands.CreateCommand{Args: commands.CreateArgs{Path: "out.img"}}
	cmd.Opts.Image = "4GiB"
	cmd.Opts.BootSize = "300MiB"
	cmd.Opts.Filesystem = "btrfs"

	opts, err := createOptions(cmd)
	if err != nil {
		t.Fatalf("createOptions: %v", err)
	}
	if opts.ImageSize != 4<<30 {
		t.Fatalf("image size = %d, want %d", opts.ImageSize, uint64(4)<<30)
	}
	if opts.BootSizeMiB != 300 {
		t.Fatalf("boot size = %d MiB, want 300", opts.BootSizeMiB)
	}
	if opts.Filesystem != storage.FilesystemBtrfs {
		t.Fatalf("filesystem = %s", opts.Filesystem)
	}
}

func TestCreateOptions_BadSizeRejected(t *testing.T) {
	cmd := &commands.CreateCommand{Args: commands.CreateArgs{Path: "out.img"}}
	cmd.Opts.Image = "4GB" // SI units are not accepted
	cmd.Opts.BootSize = "300MiB"

	_, err := createOptions(cmd)
	var bt *almaerr.BadTarget
	if !errors.As(err, &bt) {
		t.Fatalf("expected BadTarget for SI unit, got %v", err)
	}
}
