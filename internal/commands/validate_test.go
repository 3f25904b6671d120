package commands

import (
	"errors"
	"testing"

	"alma/internal/almaerr"
)

func TestValidateCreate_EncryptedWithNoConfirmRejected(t *testing.T) {
	cmd := &CreateCommand{Args: CreateArgs{Path: "/dev/sdb"}}
	cmd.Opts.EncryptedRoot = true
	cmd.Opts.NoConfirm = true

	err := ValidateCreate(cmd)
	var bt *almaerr.BadTarget
	if !errors.As(err, &bt) {
		t.Fatalf("expected BadTarget, got %v", err)
	}
}

func TestValidateCreate_RootPartitionAloneIsFine(t *testing.T) {
	cmd := &CreateCommand{}
	cmd.Opts.RootPartition = "/dev/loop0p5"

	if err := ValidateCreate(cmd); err != nil {
		t.Fatalf("root partition without path must validate, got %v", err)
	}
}

func TestValidateCreate_MissingPathRejected(t *testing.T) {
	cmd := &CreateCommand{}
	if err := ValidateCreate(cmd); err == nil {
		t.Fatal("expected error when no target is named")
	}
}

func TestValidateCreate_BootPartitionRequiresRootPartition(t *testing.T) {
	cmd := &CreateCommand{Args: CreateArgs{Path: "/dev/sdb"}}
	cmd.Opts.BootPartition = "/dev/sdb1"

	if err := ValidateCreate(cmd); err == nil {
		t.Fatal("expected error for --boot-partition without --root-partition")
	}
}

func TestValidateCreate_ImageExcludesRootPartition(t *testing.T) {
	cmd := &CreateCommand{Args: CreateArgs{Path: "out.img"}}
	cmd.Opts.Image = "4GiB"
	cmd.Opts.RootPartition = "/dev/sdb3"

	if err := ValidateCreate(cmd); err == nil {
		t.Fatal("expected error for --image with --root-partition")
	}
}

func TestValidateInstall_BootPartitionRequiresRootPartition(t *testing.T) {
	cmd := &InstallCommand{Args: InstallArgs{Path: "/dev/sdc"}}
	cmd.Opts.BootPartition = "/dev/sdc1"

	if err := ValidateInstall(cmd); err == nil {
		t.Fatal("expected error for --boot-partition without --root-partition")
	}
}
