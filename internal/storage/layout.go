package storage

// Filesystem identifies the root filesystem kind.
type Filesystem string

const (
	FilesystemExt4  Filesystem = "ext4"
	FilesystemBtrfs Filesystem = "btrfs"
)

// DefaultBootSizeMiB is the default ESP size when the caller does not
// override it.
const DefaultBootSizeMiB uint64 = 300

// LuksMapperName is the device-mapper name ALMA always uses for its
// encrypted root. ALMA assumes it is the sole writer to this name;
// concurrent invocations against it are undefined.
const LuksMapperName = "alma_root"

// BtrfsSubvolumes is the fixed set of subvolumes ALMA creates on a btrfs
// root.
var BtrfsSubvolumes = []string{"@", "@home", "@log", "@pkg", "@snapshots"}

// BtrfsSubvolumeMount maps a subvolume name to its mount point under the
// installed root.
var BtrfsSubvolumeMount = map[string]string{
	"@":          "/",
	"@home":      "/home",
	"@log":       "/var/log",
	"@pkg":       "/var/cache/pacman/pkg",
	"@snapshots": "/.snapshots",
}

// Layout describes the storage state built for a Target.
type Layout struct {
	RootDevice   string // partition or, if encrypted, the mapper node
	BootDevice   string // empty iff the caller supplied a root partition alone
	RootFS       Filesystem
	Encrypted    bool
	LuksName     string // set iff Encrypted
	LuksUUID     string // set iff Encrypted; correlates crypttab with blkid
	LoopBacking  string // set iff the target was an Image
	RootPartNum  int // set only when ALMA partitioned the disk itself
	BootPartNum  int // set only when ALMA partitioned the disk itself
}

// Validate checks the layout's internal consistency.
func (l Layout) Validate() error {
	if l.Encrypted && l.LuksName == "" {
		return errf("encrypted layout must set LuksName")
	}
	if l.RootDevice == "" {
		return errf("layout must set RootDevice")
	}
	return nil
}

func errf(msg string) error { return layoutError(msg) }

type layoutError string

func (e layoutError) Error() string { return string(e) }
