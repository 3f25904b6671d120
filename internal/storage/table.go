package storage

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"

	"alma/internal/almaerr"
)

const (
	sectorSize512 uint64 = 512

	protectiveMBRSectors   uint64 = 1
	partitionHeaderSectors uint64 = 1
	partitionEntrySectors  uint64 = 32
)

// Partition numbers of the fixed whole-disk layout.
const (
	PartNumBIOSBoot = 1
	PartNumESP      = 2
	PartNumRoot     = 3
)

// PlanTable models the GPT that the whole-disk path asks sgdisk to
// create: a 1 MiB BIOS-boot partition, the ESP, and the root spanning
// the remainder. The sgdisk argument list in buildWholeDiskLike spells
// out the same layout by hand; this table is what post-partitioning
// verification compares the disk against.
func PlanTable(diskSize uint64, bootSizeMiB uint64) *gpt.Table {
	const mib = uint64(1 << 20)

	tableSectors := protectiveMBRSectors + partitionHeaderSectors + partitionEntrySectors
	tableBytes := tableSectors * sectorSize512

	biosStart := alignTo1MiB(tableBytes)
	biosSize := mib
	espStart := biosStart + biosSize
	espSize := bootSizeMiB * mib
	rootStart := espStart + espSize
	rootEnd := uint64(0)
	if diskSize > tableBytes {
		rootEnd = diskSize - tableBytes
	}
	rootSize := uint64(0)
	if rootEnd > rootStart {
		rootSize = alignDownTo1MiB(rootEnd - rootStart)
	}

	return &gpt.Table{
		LogicalSectorSize:  int(sectorSize512),
		PhysicalSectorSize: int(sectorSize512),
		ProtectiveMBR:      true,
		Partitions: []*gpt.Partition{
			{
				Start: biosStart / sectorSize512,
				Size:  biosSize,
				Type:  gpt.BIOSBoot,
				Name:  "ALMABIOS",
			},
			{
				Start: espStart / sectorSize512,
				Size:  espSize,
				Type:  gpt.EFISystemPartition,
				Name:  "ALMABOOT",
			},
			{
				Start: rootStart / sectorSize512,
				Size:  rootSize,
				Type:  gpt.LinuxFilesystem,
				Name:  "ALMAROOT",
			},
		},
	}
}

// VerifyTable reads back the partition table on diskPath and checks that
// it matches the planned layout: partition count, GPT types, and names.
// Catches a disk another writer raced ALMA on between sgdisk finishing
// and the nodes settling.
func VerifyTable(diskPath string, plan *gpt.Table) error {
	disk, err := diskfs.Open(diskPath)
	if err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("opening %s for verification: %w", diskPath, err)}
	}
	defer disk.File.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		return &almaerr.BadTarget{Path: diskPath, Reason: fmt.Sprintf("unreadable partition table: %s", err)}
	}

	got, ok := table.(*gpt.Table)
	if !ok {
		return &almaerr.BadTarget{Path: diskPath, Reason: fmt.Sprintf("expected GPT, found %s", table.Type())}
	}
	if len(got.Partitions) < len(plan.Partitions) {
		return &almaerr.BadTarget{
			Path:   diskPath,
			Reason: fmt.Sprintf("expected %d partitions, found %d", len(plan.Partitions), len(got.Partitions)),
		}
	}
	for i, want := range plan.Partitions {
		have := got.Partitions[i]
		if have.Type != want.Type {
			return &almaerr.BadTarget{
				Path:   diskPath,
				Reason: fmt.Sprintf("partition %d has type %s, want %s", i+1, have.Type, want.Type),
			}
		}
		if have.Name != want.Name {
			return &almaerr.BadTarget{
				Path:   diskPath,
				Reason: fmt.Sprintf("partition %d is named %q, want %q", i+1, have.Name, want.Name),
			}
		}
	}
	return nil
}

func alignDownTo1MiB(n uint64) uint64 {
	const mib = 1 << 20
	return n / mib * mib
}
