package device

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"alma/internal/appctx"
	"alma/internal/runner"
)

func TestPartitionNodePath(t *testing.T) {
	cases := []struct {
		disk string
		num  int
		want string
	}{
		{"/dev/sda", 1, "/dev/sda1"},
		{"/dev/nvme0n1", 2, "/dev/nvme0n1p2"},
		{"/dev/loop0", 1, "/dev/loop0p1"},
		{"/dev/sda", 0, ""},
	}
	for _, c := range cases {
		if got := partitionNodePath(c.disk, c.num); got != c.want {
			t.Errorf("partitionNodePath(%q, %d) = %q, want %q", c.disk, c.num, got, c.want)
		}
	}
}

func TestFindByPath_Nested(t *testing.T) {
	devices := []Device{
		{
			Path: "/dev/sda",
			Children: []Device{
				{Path: "/dev/sda1"},
				{Path: "/dev/sda2"},
			},
		},
	}
	dev, found := findByPath(devices, "/dev/sda2")
	if !found {
		t.Fatalf("expected to find /dev/sda2")
	}
	if dev.Path != "/dev/sda2" {
		t.Fatalf("got %q", dev.Path)
	}

	if _, found := findByPath(devices, "/dev/sda3"); found {
		t.Fatalf("did not expect to find /dev/sda3")
	}
}

func TestToDevice_TypeClassification(t *testing.T) {
	wholeNvme := toDevice(lsblkDevice{Path: "/dev/nvme0n1", Type: "disk"})
	if wholeNvme.IsPart {
		t.Fatalf("an nvme whole disk must not classify as a partition")
	}

	loop := toDevice(lsblkDevice{Path: "/dev/loop0", Type: "loop"})
	if loop.IsPart || !loop.IsLoop {
		t.Fatalf("a bare loop device must classify as loop, not partition")
	}

	part := toDevice(lsblkDevice{Path: "/dev/nvme0n1p1", Type: "part"})
	if !part.IsPart {
		t.Fatalf("a partition must classify as a partition")
	}
}

func TestResolvePartitions_DryRunReturnsComputedPaths(t *testing.T) {
	ctx := appctx.New(true, false, "", zerolog.Nop())
	p := New(ctx, runner.New(ctx))

	boot, root, err := p.ResolvePartitions(context.Background(), "/dev/loop0", 2, 3)
	if err != nil {
		t.Fatalf("dry-run resolve: %v", err)
	}
	if boot != "/dev/loop0p2" || root != "/dev/loop0p3" {
		t.Fatalf("got boot %q root %q", boot, root)
	}
}
