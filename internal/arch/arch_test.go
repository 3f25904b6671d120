package arch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHostBootsUEFI(t *testing.T) {
	orig := efiSysfsPath
	defer func() { efiSysfsPath = orig }()

	dir := t.TempDir()
	efi := filepath.Join(dir, "efi")

	efiSysfsPath = efi
	if HostBootsUEFI() {
		t.Fatal("missing efi dir must report BIOS boot")
	}

	if err := os.Mkdir(efi, 0755); err != nil {
		t.Fatal(err)
	}
	if !HostBootsUEFI() {
		t.Fatal("present efi dir must report UEFI boot")
	}
}
