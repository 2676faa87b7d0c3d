package exfat

import (
	"bytes"
	"encoding/binary"

	"github.com/go-exfat/exfatcore/errors"
	"github.com/go-exfat/exfatcore/exfatio"
)

// oemName is the fixed 8-byte value required at offset 3 of the boot sector.
var oemName = [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '}

// rawBootSector is the on-disk layout of the exFAT boot sector's main
// boot-parameter-block fields, starting at byte offset 0x40. Of the fields
// before that (JumpBoot, OEMName, the 53 reserved bytes), only OEMName is
// checked, and none are kept.
type rawBootSector struct {
	PartitionOffset            uint64
	VolumeLength               uint64
	FatOffset                  uint32
	FatLength                  uint32
	ClusterHeapOffset          uint32
	ClusterCount               uint32
	FirstClusterOfRootDir      uint32
	VolumeSerialNumber         uint32
	FileSystemRevisionMinor    uint8
	FileSystemRevisionMajor    uint8
	VolumeFlags                uint16
	BytesPerSectorShift        uint8
	SectorsPerClusterShift     uint8
	NumberOfFats               uint8
	DriveSelect                uint8
	PercentInUse               uint8
}

const (
	bootSectorSize        = 512
	bpbOffset             = 0x40
	oemNameOffset         = 3
	bootSignatureOffset   = 510
	bootSignatureExpected = 0xAA55
)

// Superblock is a parsed, validated copy of the volume boot record: sector
// size, sectors-per-cluster, FAT origin, cluster heap origin, cluster count,
// and the root directory's first cluster, per spec §3.
//
// It is read-only after Mount.
type Superblock struct {
	// SectorBits is log2(bytes per sector).
	SectorBits uint8
	// BlockBits is libexfat's name for the same quantity as SectorBits: on
	// an exFAT volume a "block" and a "sector" are the same unit. Both
	// fields are kept because spec §3 names them separately.
	BlockBits uint8
	// SectorsPerClusterBits is log2(sectors per cluster).
	SectorsPerClusterBits uint8

	FatSectorStart     uint32
	FatSectorCount     uint32
	ClusterSectorStart uint32
	ClusterCount       uint32
	RootDirCluster     ClusterID

	VolumeSerial     uint32
	VersionMajor     uint8
	VersionMinor     uint8
	VolumeState      uint16
	FatCount         uint8
	DriveNo          uint8
	AllocatedPercent uint8
}

// SectorSize returns the size of one sector, in bytes.
func (sb *Superblock) SectorSize() uint32 {
	return 1 << sb.SectorBits
}

// SectorsPerCluster returns the number of sectors in one cluster.
func (sb *Superblock) SectorsPerCluster() uint32 {
	return 1 << sb.SectorsPerClusterBits
}

// ClusterSize returns the size of one cluster, in bytes.
func (sb *Superblock) ClusterSize() uint32 {
	return sb.SectorSize() * sb.SectorsPerCluster()
}

// ReadSuperblock reads and validates the boot sector at the start of dev.
func ReadSuperblock(dev exfatio.Device) (*Superblock, error) {
	buf := make([]byte, bootSectorSize)
	exfatio.ReadRaw(dev, buf, 0)

	if string(buf[oemNameOffset:oemNameOffset+8]) != string(oemName[:]) {
		return nil, errors.IoFormat.WithMessage(
			"OEM name field does not read \"EXFAT   \"")
	}

	signature := binary.LittleEndian.Uint16(buf[bootSignatureOffset:])
	if signature != bootSignatureExpected {
		return nil, errors.IoFormat.WithMessage("missing 0xAA55 boot signature")
	}

	var raw rawBootSector
	if err := binary.Read(
		bytes.NewReader(buf[bpbOffset:]), binary.LittleEndian, &raw,
	); err != nil {
		return nil, errors.IoFormat.Wrap(err)
	}

	if raw.BytesPerSectorShift < 9 || raw.BytesPerSectorShift > 12 {
		return nil, errors.IoFormat.WithMessage(
			"bytes-per-sector shift out of the valid range [9, 12]")
	}
	if int(raw.SectorsPerClusterShift)+int(raw.BytesPerSectorShift) > 25 {
		return nil, errors.IoFormat.WithMessage(
			"sectors-per-cluster shift makes cluster size exceed 32 MiB")
	}
	if raw.NumberOfFats != 1 && raw.NumberOfFats != 2 {
		return nil, errors.IoFormat.WithMessage("number of FATs must be 1 or 2")
	}
	if raw.ClusterCount == 0 {
		return nil, errors.IoFormat.WithMessage("cluster count is zero")
	}
	if !ValidCluster(ClusterID(raw.FirstClusterOfRootDir), raw.ClusterCount) {
		return nil, errors.IoFormat.WithMessage("root directory cluster out of range")
	}

	return &Superblock{
		SectorBits:            raw.BytesPerSectorShift,
		BlockBits:             raw.BytesPerSectorShift,
		SectorsPerClusterBits: raw.SectorsPerClusterShift,
		FatSectorStart:        raw.FatOffset,
		FatSectorCount:        raw.FatLength,
		ClusterSectorStart:    raw.ClusterHeapOffset,
		ClusterCount:          raw.ClusterCount,
		RootDirCluster:        ClusterID(raw.FirstClusterOfRootDir),
		VolumeSerial:          raw.VolumeSerialNumber,
		VersionMajor:          raw.FileSystemRevisionMajor,
		VersionMinor:          raw.FileSystemRevisionMinor,
		VolumeState:           raw.VolumeFlags,
		FatCount:              raw.NumberOfFats,
		DriveNo:               raw.DriveSelect,
		AllocatedPercent:      raw.PercentInUse,
	}, nil
}
