// Package device probes and validates block devices: enumerating
// removable and loop devices via lsblk, validating provisioning
// targets, and waiting for partition nodes to settle after
// partitioning.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/runner"
)

// minSize is the default floor below which a target is rejected.
const minSize uint64 = 2 * 1 << 30 // 2 GiB

// Device describes a block device as reported by lsblk.
type Device struct {
	Path      string
	Name      string
	SizeBytes uint64
	Removable bool
	IsLoop    bool
	IsPart    bool
	Children  []Device
}

// lsblkOutput mirrors the subset of `lsblk -J -b -o ...` JSON this
// package consumes.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Size     jsonUint64    `json:"size"`
	RM       jsonBool      `json:"rm"`
	Type     string        `json:"type"`
	Children []lsblkDevice `json:"children,omitempty"`
}

// jsonUint64/jsonBool tolerate lsblk's quoted-number JSON output, which
// varies across util-linux versions.
type jsonUint64 uint64
type jsonBool bool

func (u *jsonUint64) UnmarshalJSON(b []byte) error {
	var n uint64
	if err := json.Unmarshal(b, &n); err == nil {
		*u = jsonUint64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	var n2 uint64
	_, err := fmt.Sscanf(s, "%d", &n2)
	*u = jsonUint64(n2)
	return err
}

func (b *jsonBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = jsonBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = jsonBool(s == "1" || s == "true")
	return nil
}

func toDevice(d lsblkDevice) Device {
	children := make([]Device, 0, len(d.Children))
	for _, c := range d.Children {
		children = append(children, toDevice(c))
	}
	return Device{
		Path:      d.Path,
		Name:      d.Name,
		SizeBytes: uint64(d.Size),
		Removable: bool(d.RM),
		IsLoop:    d.Type == "loop",
		IsPart:    d.Type == "part",
		Children:  children,
	}
}

// Probe queries block devices via lsblk.
type Probe struct {
	ctx *appctx.Context
	run *runner.Runner
}

// New builds a Probe bound to the shared application context.
func New(ctx *appctx.Context, run *runner.Runner) *Probe {
	return &Probe{ctx: ctx, run: run}
}

// EnumerateRemovable returns devices where the kernel's removable flag is
// set or the device is a loop device.
func (p *Probe) EnumerateRemovable(ctx context.Context) ([]Device, error) {
	res, err := p.run.RunChecked(ctx, []string{"lsblk", "-J", "-b", "-o", "NAME,PATH,SIZE,RM,TYPE"}, nil, nil)
	if err != nil {
		return nil, err
	}

	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, &almaerr.Internal{Err: fmt.Errorf("parsing lsblk output: %w", err)}
	}

	var devices []Device
	for _, d := range out.BlockDevices {
		dev := toDevice(d)
		if dev.Removable || dev.IsLoop {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// ValidateTarget checks that path is suitable as a whole-disk target.
func (p *Probe) ValidateTarget(ctx context.Context, path string, allowNonRemovable bool) (Device, error) {
	devices, err := p.describeAll(ctx)
	if err != nil {
		return Device{}, err
	}

	dev, found := findByPath(devices, path)
	if !found {
		return Device{}, &almaerr.BadTarget{Path: path, Reason: "device not found"}
	}

	if dev.IsPart {
		return Device{}, &almaerr.BadTarget{Path: path, Reason: "path is a partition, not a whole disk"}
	}

	if !dev.Removable && !dev.IsLoop && !allowNonRemovable {
		return Device{}, &almaerr.BadTarget{Path: path, Reason: "device is not removable (pass the non-removable override to proceed)"}
	}

	if dev.SizeBytes < minSize {
		return Device{}, &almaerr.BadTarget{Path: path, Reason: fmt.Sprintf("device size %d is below the %d floor", dev.SizeBytes, minSize)}
	}

	return dev, nil
}

func (p *Probe) describeAll(ctx context.Context) ([]Device, error) {
	res, err := p.run.RunChecked(ctx, []string{"lsblk", "-J", "-b", "-o", "NAME,PATH,SIZE,RM,TYPE"}, nil, nil)
	if err != nil {
		return nil, err
	}
	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, &almaerr.Internal{Err: fmt.Errorf("parsing lsblk output: %w", err)}
	}
	devices := make([]Device, 0, len(out.BlockDevices))
	for _, d := range out.BlockDevices {
		devices = append(devices, toDevice(d))
	}
	return devices, nil
}

func findByPath(devices []Device, path string) (Device, bool) {
	for _, d := range devices {
		if d.Path == path {
			return d, true
		}
		if child, found := findByPath(d.Children, path); found {
			return child, true
		}
	}
	return Device{}, false
}

// ResolvePartitions waits for the boot and root partition device nodes to
// appear after partitioning, since node creation is asynchronous.
// Bounded retry with exponential backoff, capped around 3 seconds.
func (p *Probe) ResolvePartitions(ctx context.Context, diskPath string, bootPartNum, rootPartNum int) (bootDevice, rootDevice string, err error) {
	bootDevice = partitionNodePath(diskPath, bootPartNum)
	rootDevice = partitionNodePath(diskPath, rootPartNum)

	// the nodes were never created in dry-run; hand back the computed
	// paths so the rest of the pipeline can flow
	if p.ctx.DryRun {
		return bootDevice, rootDevice, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second

	op := func() error {
		if bootPartNum > 0 {
			if _, err := p.run.RunChecked(ctx, []string{"findmnt", "--source", bootDevice}, nil, nil); err != nil {
				if !p.nodeExists(ctx, bootDevice) {
					return &almaerr.PartitionNotSettled{Device: bootDevice}
				}
			}
		}
		if !p.nodeExists(ctx, rootDevice) {
			return &almaerr.PartitionNotSettled{Device: rootDevice}
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", "", err
	}
	return bootDevice, rootDevice, nil
}

func (p *Probe) nodeExists(ctx context.Context, path string) bool {
	res, err := p.run.Run(ctx, []string{"blkid", path}, nil, nil)
	return err == nil && res.Exit == 0
}

func partitionNodePath(diskPath string, num int) string {
	if num <= 0 {
		return ""
	}
	// nvme/loop devices need a "p" separator before the partition number.
	last := diskPath[len(diskPath)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", diskPath, num)
	}
	return fmt.Sprintf("%s%d", diskPath, num)
}
