package mount

import "testing"

func TestAppendRootflags(t *testing.T) {
	fstab := "UUID=abc\t/\text4\trw,relatime\t0 1\nUUID=def\t/boot\tvfat\trw\t0 2\n"
	got := appendRootflags(fstab, "subvol=@")

	lines := splitLines(got)
	fields := splitFields(lines[0])
	if fields[3] != "rw,relatime,subvol=@" {
		t.Fatalf("root entry options = %q, want rw,relatime,subvol=@", fields[3])
	}
	bootFields := splitFields(lines[1])
	if bootFields[3] != "rw" {
		t.Fatalf("boot entry must be untouched, got %q", bootFields[3])
	}
}

func TestGrubCmdlineFragment(t *testing.T) {
	got := GrubCmdlineFragment("1234-5678", "alma_root")
	want := "cryptdevice=UUID=1234-5678:alma_root root=/dev/mapper/alma_root"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
