package exfat

import (
	"unicode/utf16"

	"github.com/go-exfat/exfatcore/errors"
	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/go-exfat/exfatcore/exfatlog"
)

// Mount is a live handle on an exFAT volume: the parsed superblock, the
// cluster allocation bitmap, the FAT service, and the root of the cached
// directory tree. It is the sole entry point for every operation in spec
// §6.
type Mount struct {
	dev  exfatio.Device
	sb   *Superblock
	cmap *CMap
	fat  *fatService

	root *Node
	opts MountOptions

	labelOffset int64
	label       []uint16

	// upcaseTable holds the raw case-folding table bytes found at mount
	// time, kept only so a future name-comparison layer has somewhere to
	// read from; this package does not itself fold or compare names.
	upcaseTable []byte
}

// MountOptions configures a Mount call. The zero value is the common case.
type MountOptions struct {
	// ReadOnly, if set, causes Unmount to skip flushing dirty state.
	ReadOnly bool
}

// Mount reads the boot sector, locates the allocation bitmap and upcase
// table entries in the root directory, and returns a ready-to-use Mount.
func Mount(dev exfatio.Device, opts MountOptions) (*Mount, error) {
	sb, err := ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}

	m := &Mount{
		dev:  dev,
		sb:   sb,
		fat:  newFATService(dev, sb),
		opts: opts,
	}

	root := &Node{
		StartCluster: sb.RootDirCluster,
		FptrCluster:  sb.RootDirCluster,
		Attributes:   AttrDirectory,
	}
	root.setFlag(FlagContiguous, false)
	root.setFlag(FlagCached, true)
	m.root = root

	if err := m.loadSpecialEntries(); err != nil {
		return nil, err
	}
	if m.cmap == nil {
		return nil, errors.IoFormat.WithMessage("root directory has no allocation bitmap entry")
	}
	root.Size = uint64(m.chainClusterCount(root)) * uint64(sb.ClusterSize())

	return m, nil
}

// chainClusterCount walks n's FAT chain from StartCluster and counts how
// many clusters it occupies. Used at mount time to give the root directory
// node (which has no directory entry of its own to read a size from) a
// Size consistent with its actual on-disk chain length.
func (m *Mount) chainClusterCount(n *Node) uint32 {
	if !ValidCluster(n.StartCluster, m.sb.ClusterCount) {
		return 0
	}
	count := uint32(1)
	c := n.StartCluster
	for {
		next := m.fat.NextCluster(n, c)
		if next == ClusterEnd || !ValidCluster(next, m.sb.ClusterCount) {
			break
		}
		count++
		c = next
	}
	return count
}

// loadSpecialEntries scans the root directory for the BITMAP, UPCASE, and
// LABEL entries, which are not part of the FILE/FILE_INFO/FILE_NAME chain
// CacheDirectory understands and so are handled directly here, per spec
// §3's note that the allocation bitmap lives as a special root entry.
func (m *Mount) loadSpecialEntries() error {
	cluster := m.root.StartCluster
	var clusterOffset uint32

	for ValidCluster(cluster, m.sb.ClusterCount) {
		buf := make([]byte, m.sb.ClusterSize())
		readRaw(m, buf, m.ClusterToOffset(cluster))

		for off := uint32(0); off < uint32(len(buf)); off += entrySize {
			raw := buf[off : off+entrySize]
			entryType := raw[0]
			if entryType == entryTypeEOD {
				return nil
			}
			if !inUse(entryType) {
				continue
			}

			switch baseType(entryType) {
			case entryTypeBitmap:
				firstCluster := leUint32(raw[20:24])
				sizeBytes := leUint64(raw[24:32])
				expectedBytes := uint64((m.sb.ClusterCount + 7) / 8)
				if sizeBytes != expectedBytes {
					return errors.IoFormat.WithMessage(
						"allocation bitmap size does not match cluster count")
				}
				if !ValidCluster(ClusterID(firstCluster), m.sb.ClusterCount) {
					return errors.IoFormat.WithMessage(
						"allocation bitmap start cluster out of range")
				}
				byteOffset := m.ClusterToOffset(ClusterID(firstCluster))
				m.cmap = NewCMap(m.dev, byteOffset, m.sb.ClusterCount)

			case entryTypeUpcase:
				firstCluster := leUint32(raw[20:24])
				size := leUint64(raw[24:32])
				if size == 0 || size > 0xFFFF*2 || size%2 != 0 {
					return errors.IoFormat.WithMessage("upcase table size is invalid")
				}
				if !ValidCluster(ClusterID(firstCluster), m.sb.ClusterCount) {
					return errors.IoFormat.WithMessage(
						"upcase table start cluster out of range")
				}
				upcaseBuf := make([]byte, size)
				readRaw(m, upcaseBuf, m.ClusterToOffset(ClusterID(firstCluster)))
				m.upcaseTable = upcaseBuf

			case entryTypeLabel:
				n := raw[1]
				if n > 11 {
					return errors.IoFormat.WithMessage(
						"volume label length exceeds 11 characters")
				}
				var name []uint16
				for i := byte(0); i < n; i++ {
					name = append(name, leUint16(raw[2+int(i)*2:]))
				}
				m.labelOffset = m.ClusterToOffset(cluster) + int64(off)
				m.label = name
			}
		}
		clusterOffset += uint32(len(buf))
		cluster = m.fat.NextCluster(m.root, cluster)
	}
	return nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Unmount resets the cached node tree (flushing anything dirty, per
// Reset's documented behavior) and flushes the allocation bitmap. With
// MountOptions.ReadOnly set it returns without writing anything.
func (m *Mount) Unmount() {
	if m.opts.ReadOnly {
		return
	}
	m.Reset(m.root)
	if m.cmap.Dirty {
		m.cmap.Flush(m.dev)
	}
}

// Root returns the cached root directory node.
func (m *Mount) Root() *Node {
	return m.root
}

// NextCluster exposes the FAT service's contiguous-aware lookup to callers
// that need to walk a node's chain manually.
func (m *Mount) NextCluster(n *Node, c ClusterID) ClusterID {
	return m.fat.NextCluster(n, c)
}

// CountFreeClusters returns the number of unallocated clusters in the
// volume's allocation bitmap.
func (m *Mount) CountFreeClusters() uint32 {
	return m.cmap.CountFree()
}

// IterUsedSectors calls fn once for every sector offset (relative to the
// start of the cluster heap, in sector units) backing an allocated
// cluster, in ascending cluster order. It's intended for tools that need to
// walk live data without materializing the whole bitmap, e.g. a consistency
// checker or an imaging tool.
func (m *Mount) IterUsedSectors(fn func(sectorOffset SectorID)) {
	spc := m.sb.SectorsPerCluster()
	for i := uint32(0); i < m.cmap.Size; i++ {
		if !m.cmap.used(int(i)) {
			continue
		}
		base := i * spc
		for s := uint32(0); s < spc; s++ {
			fn(SectorID(base + s))
		}
	}
}

// GetLabel decodes the volume label, if one is set.
func (m *Mount) GetLabel() string {
	return string(utf16.Decode(m.label))
}

// SetLabel rewrites the volume LABEL entry in the root directory. A
// zero-length name clears the label (per exFAT's encoding, NameLength=0
// with the entry still marked in-use). If the root directory has no LABEL
// entry, nothing is written and an error is logged.
func (m *Mount) SetLabel(name string) {
	if m.labelOffset == 0 {
		exfatlog.Error("root directory has no volume label entry; label not set")
		return
	}
	encoded := EncodeName(name)
	if len(encoded) > 11 {
		exfatlog.Error("volume label longer than 11 characters truncated")
		encoded = encoded[:11]
	}

	raw := make([]byte, entrySize)
	raw[0] = entryTypeLabel | entryTypeInUseBit
	raw[1] = byte(len(encoded))
	for i, ch := range encoded {
		raw[2+i*2] = byte(ch)
		raw[3+i*2] = byte(ch >> 8)
	}

	writeRaw(m, raw, m.labelOffset)
	m.label = encoded
}

func readRaw(m *Mount, buf []byte, offset int64) {
	exfatio.ReadRaw(m.dev, buf, offset)
}

func writeRaw(m *Mount, buf []byte, offset int64) {
	exfatio.WriteRaw(m.dev, buf, offset)
}
