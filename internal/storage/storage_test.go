package storage

import "testing"

func TestTarget_HasBoot(t *testing.T) {
	cases := []struct {
		name string
		t    Target
		want bool
	}{
		{"whole disk", Target{Kind: KindWholeDisk}, true},
		{"image", Target{Kind: KindImage}, true},
		{"partitions without boot", Target{Kind: KindPartitions, RootPartition: "/dev/loop0p5"}, false},
		{"partitions with boot", Target{Kind: KindPartitions, RootPartition: "/dev/loop0p5", BootPartition: "/dev/loop0p1"}, true},
	}
	for _, c := range cases {
		if got := c.t.HasBoot(); got != c.want {
			t.Errorf("%s: HasBoot() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestLayout_ValidateRejectsEncryptedWithoutName(t *testing.T) {
	l := Layout{Encrypted: true}
	if err := l.Validate(); err == nil {
		t.Fatalf("expected validation error for encrypted layout without LuksName")
	}
}

func TestBtrfsSubvolumeMount_CoversAllSubvolumes(t *testing.T) {
	for _, s := range BtrfsSubvolumes {
		if _, ok := BtrfsSubvolumeMount[s]; !ok {
			t.Errorf("subvolume %s has no mount point mapping", s)
		}
	}
}
