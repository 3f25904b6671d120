// Package arch answers firmware and architecture questions for the
// bootloader install step.
package arch

import "os"

// GRUB install targets for the two firmware types ALMA supports.
const (
	GrubTargetUEFI = "x86_64-efi"
	GrubTargetBIOS = "i386-pc"
)

// BootloaderID is the EFI bootloader id passed to grub-install.
const BootloaderID = "ALMA"

// efiSysfsPath is swapped out in tests.
var efiSysfsPath = "/sys/firmware/efi"

// HostBootsUEFI reports whether the running host booted under UEFI, by
// checking for the EFI sysfs directory. It has no bearing on which
// bootloader targets are installed on the provisioned medium.
func HostBootsUEFI() bool {
	info, err := os.Stat(efiSysfsPath)
	return err == nil && info.IsDir()
}
