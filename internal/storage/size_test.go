package storage

import "testing"

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"10GiB", 10 * 1 << 30},
		{"512MiB", 512 * 1 << 20},
		{"1TiB", 1 << 40},
		{"4096", 4096 * 1 << 20},
		{"2gib", 2 * 1 << 30},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if err != nil {
			t.Fatalf("ParseSize(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseSize_RejectsSIUnits(t *testing.T) {
	if _, err := ParseSize("10GB"); err == nil {
		t.Fatalf("expected error for non-IEC unit")
	}
}

func TestAlignTo1MiB(t *testing.T) {
	const mib = 1 << 20
	if got := alignTo1MiB(mib); got != mib {
		t.Errorf("aligned boundary changed: %d", got)
	}
	if got := alignTo1MiB(mib + 1); got != 2*mib {
		t.Errorf("got %d, want %d", got, 2*mib)
	}
}
