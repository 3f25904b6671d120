package commands

import (
	"fmt"

	"alma/internal/almaerr"
)

// ValidateCreate enforces the cross-flag rules that must fail before
// any component runs.
func ValidateCreate(cmd *CreateCommand) error {
	opts := &cmd.Opts

	if opts.EncryptedRoot && opts.NoConfirm {
		return &almaerr.BadTarget{
			Path:   cmd.Args.Path,
			Reason: "--noconfirm cannot be combined with -e: encryption always requires a human",
		}
	}
	if opts.RootPartition == "" && cmd.Args.Path == "" {
		return &almaerr.BadTarget{Path: "", Reason: "a target path is required unless --root-partition is given"}
	}
	if opts.RootPartition != "" && opts.Image != "" {
		return &almaerr.BadTarget{
			Path:   opts.RootPartition,
			Reason: "--root-partition and --image are mutually exclusive",
		}
	}
	if opts.BootPartition != "" && opts.RootPartition == "" {
		return &almaerr.BadTarget{
			Path:   opts.BootPartition,
			Reason: "--boot-partition requires --root-partition",
		}
	}
	if opts.Image != "" && opts.Overwrite && cmd.Args.Path == "" {
		return &almaerr.BadTarget{Path: "", Reason: "--image requires an image path"}
	}
	if opts.PassphraseFD != 0 && !opts.EncryptedRoot {
		return &almaerr.BadTarget{Path: "", Reason: "--passphrase-fd only makes sense with -e"}
	}
	if opts.PassphraseFD < 0 {
		return &almaerr.BadTarget{Path: "", Reason: fmt.Sprintf("invalid passphrase fd %d", opts.PassphraseFD)}
	}
	return nil
}

// ValidateInstall enforces install's cross-flag rules.
func ValidateInstall(cmd *InstallCommand) error {
	opts := &cmd.Opts
	if opts.RootPartition == "" && cmd.Args.Path == "" {
		return &almaerr.BadTarget{Path: "", Reason: "a target path is required unless --root-partition is given"}
	}
	if opts.RootPartition != "" && opts.Image != "" {
		return &almaerr.BadTarget{
			Path:   opts.RootPartition,
			Reason: "--root-partition and --image are mutually exclusive",
		}
	}
	if opts.BootPartition != "" && opts.RootPartition == "" {
		return &almaerr.BadTarget{
			Path:   opts.BootPartition,
			Reason: "--boot-partition requires --root-partition",
		}
	}
	return nil
}
