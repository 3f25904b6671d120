// Package commands declares the go-flags option and argument structs
// for every alma sub-command, plus the cross-flag validation that must
// fail before any component runs.
package commands

// CommonOpts holds flags shared by every sub-command.
type CommonOpts struct {
	Verbose    bool   `short:"v" long:"verbose" description:"Print debug-level progress."`
	DryRun     bool   `long:"dry-run" description:"Print mutating commands instead of executing them. Probing commands still run."`
	PacmanConf string `long:"pacman-conf" description:"pacman configuration file used for pacstrap and copied into the target." value-name:"FILE"`
	Version    bool   `long:"version" description:"Print the version and exit."`
}

// CreateArgs holds create's positional argument.
type CreateArgs struct {
	Path string `positional-arg-name:"path" description:"Block device to provision, or image file path when --image is given. Omit when using --root-partition."`
}

// CreateOpts holds all flags specific to the create command.
type CreateOpts struct {
	Image             string   `long:"image" description:"Create a loop-backed disk image of this size (IEC units, e.g. 4GiB) at the given path instead of using a block device." value-name:"SIZE"`
	Overwrite         bool     `long:"overwrite" description:"Overwrite an existing image file."`
	EncryptedRoot     bool     `short:"e" long:"encrypted-root" description:"Encrypt the root partition with LUKS2. Prompts for a passphrase; incompatible with --noconfirm."`
	PassphraseFD      int      `long:"passphrase-fd" description:"Read the LUKS passphrase from this file descriptor instead of prompting." value-name:"FD"`
	Filesystem        string   `long:"filesystem" description:"Root filesystem type." choice:"ext4" choice:"btrfs" default:"ext4"`
	BootSize          string   `long:"boot-size" description:"Size of the EFI system partition (IEC units)." default:"300MiB" value-name:"SIZE"`
	ExtraPackages     []string `short:"p" long:"extra-packages" description:"Additional packages for pacstrap. May be repeated." value-name:"PACKAGE"`
	Presets           []string `long:"presets" description:"Preset file, directory, archive URL, or git URL. May be repeated." value-name:"SOURCE"`
	AURPackages       []string `long:"aur-packages" description:"AUR packages to install via the chosen helper. May be repeated." value-name:"PACKAGE"`
	AURHelper         string   `long:"aur-helper" description:"AUR helper to bootstrap when AUR packages are requested." choice:"paru" choice:"yay" default:"paru"`
	Hostname          string   `long:"hostname" description:"Hostname of the installed system." default:"alma"`
	Timezone          string   `long:"timezone" description:"Timezone symlinked into the installed system." default:"UTC"`
	RootPartition     string   `long:"root-partition" description:"Provision this existing partition as the root instead of a whole disk." value-name:"DEVICE"`
	BootPartition     string   `long:"boot-partition" description:"Existing partition to reformat as the ESP; only with --root-partition." value-name:"DEVICE"`
	AllowNonRemovable bool     `long:"allow-non-removable" description:"Permit provisioning a non-removable device."`
	NoConfirm         bool     `long:"noconfirm" description:"Never prompt; fail instead. Incompatible with -e."`
	Interactive       bool     `short:"i" long:"interactive" description:"Prompt for a root password and drop into a shell inside the new system before finishing."`
}

// CreateCommand bundles create's args and opts.
type CreateCommand struct {
	Args CreateArgs `positional-args:"true"`
	Opts CreateOpts
}

// InstallArgs holds install's positional argument.
type InstallArgs struct {
	Path string `positional-arg-name:"path" description:"New target: block device, or image path with --image."`
}

// InstallOpts holds all flags specific to the install command.
type InstallOpts struct {
	Image             string `long:"image" description:"Create a loop-backed disk image of this size at the given path." value-name:"SIZE"`
	Overwrite         bool   `long:"overwrite" description:"Overwrite an existing image file."`
	RootPartition     string `long:"root-partition" description:"Provision this existing partition as the root." value-name:"DEVICE"`
	BootPartition     string `long:"boot-partition" description:"Existing partition to reformat as the ESP." value-name:"DEVICE"`
	AllowNonRemovable bool   `long:"allow-non-removable" description:"Permit provisioning a non-removable device."`
	NoConfirm         bool   `long:"noconfirm" description:"Never prompt; fail instead."`
	Interactive       bool   `short:"i" long:"interactive" description:"Drop into a shell inside the new system before finishing."`
	PassphraseFD      int    `long:"passphrase-fd" description:"Read the LUKS passphrase from this file descriptor." value-name:"FD"`
	CopyHome          bool   `long:"copy-home" description:"Copy /home from the running system into the new target."`
	CopyNetwork       bool   `long:"copy-network" description:"Copy NetworkManager connections from the running system."`
	KeepPresets       bool   `long:"keep-presets" description:"Re-run the preset set recorded in the manifest against the new target."`
}

// InstallCommand bundles install's args and opts.
type InstallCommand struct {
	Args InstallArgs `positional-args:"true"`
	Opts InstallOpts
}

// ChrootArgs holds chroot's positional arguments.
type ChrootArgs struct {
	Path    string   `positional-arg-name:"path" description:"Block device, image file, or root partition of an existing ALMA system." required:"true"`
	Command []string `positional-arg-name:"command" description:"Command to run inside the chroot instead of a shell."`
}

// ChrootCommand bundles chroot's args.
type ChrootCommand struct {
	Args ChrootArgs `positional-args:"true" required:"true"`
}

// QemuArgs holds qemu's positional argument.
type QemuArgs struct {
	Path string `positional-arg-name:"path" description:"Block device or image file to boot." required:"true"`
}

// QemuOpts holds all flags specific to the qemu command.
type QemuOpts struct {
	Memory int  `short:"m" long:"memory" description:"Guest memory in MiB." default:"4096" value-name:"MIB"`
	BIOS   bool `long:"bios" description:"Boot the guest in legacy BIOS mode instead of OVMF."`
}

// QemuCommand bundles qemu's args and opts.
type QemuCommand struct {
	Args QemuArgs `positional-args:"true" required:"true"`
	Opts QemuOpts
}

// LintArgs holds the preset lint target.
type LintArgs struct {
	Path string `positional-arg-name:"path" description:"Preset file or directory to check." required:"true"`
}

// LintCommand checks presets without touching any device.
type LintCommand struct {
	Args LintArgs `positional-args:"true" required:"true"`
}

// PresetsCommand groups preset maintenance sub-commands.
type PresetsCommand struct {
	Lint LintCommand `command:"lint" description:"Parse and schema-check presets without provisioning anything."`
}

// ListCommand enumerates candidate target devices.
type ListCommand struct{}

// WizardCommand starts the interactive wizard.
type WizardCommand struct{}

// AlmaCommand is the go-flags root: one field per sub-command.
type AlmaCommand struct {
	Create  CreateCommand  `command:"create" description:"Provision a new ALMA system onto a device, partitions, or image."`
	Install InstallCommand `command:"install" description:"Replay this system's manifest onto a new target."`
	Chroot  ChrootCommand  `command:"chroot" description:"Mount an existing ALMA medium and enter it."`
	Qemu    QemuCommand    `command:"qemu" description:"Boot a provisioned medium in qemu with OVMF."`
	Presets PresetsCommand `command:"presets" description:"Preset maintenance commands."`
	List    ListCommand    `command:"list" description:"List removable and loop devices."`
	Wizard  WizardCommand  `command:"wizard" description:"Interactively assemble and run a create invocation."`
}
