package exfat

import (
	"encoding/binary"

	"github.com/go-exfat/exfatcore/errors"
	"github.com/go-exfat/exfatcore/exfatio"
)

// ClusterID identifies a cluster in the cluster heap. The first data
// cluster is always 2; 0 and 1 are reserved.
type ClusterID uint32

const (
	// FirstDataCluster is the lowest valid cluster index.
	FirstDataCluster = ClusterID(2)
	// ClusterFree marks a FAT entry or start_cluster as unallocated.
	ClusterFree = ClusterID(0)
	// ClusterBad marks a cluster as unusable (media defect).
	ClusterBad = ClusterID(0xFFFFFFF7)
	// ClusterEnd terminates a FAT chain.
	ClusterEnd = ClusterID(0xFFFFFFFF)
)

// ValidCluster reports whether c could be a real, addressable data cluster
// on a volume with the given cluster count: c is in [2, 2+clusterCount) and
// isn't one of the reserved sentinel values.
func ValidCluster(c ClusterID, clusterCount uint32) bool {
	if c < FirstDataCluster {
		return false
	}
	if uint32(c) >= uint32(FirstDataCluster)+clusterCount {
		return false
	}
	if c == ClusterBad {
		return false
	}
	return true
}

// SectorID identifies a sector relative to the start of the cluster heap.
type SectorID uint32

// ClusterToOffset converts a cluster index into an absolute byte offset
// into the device.
func (m *Mount) ClusterToOffset(c ClusterID) int64 {
	sectorOffset := int64(m.sb.ClusterSectorStart) +
		int64(uint32(c-FirstDataCluster))*int64(m.sb.SectorsPerCluster())
	return sectorOffset << m.sb.SectorBits
}

// fatService reads and writes FAT entries, honoring the contiguous-flag
// shortcut described in spec §4.1: a contiguous node's next cluster is
// derived arithmetically and never touches the FAT.
type fatService struct {
	dev exfatio.Device
	sb  *Superblock
}

func newFATService(dev exfatio.Device, sb *Superblock) *fatService {
	return &fatService{dev: dev, sb: sb}
}

func (f *fatService) entryOffset(c ClusterID) int64 {
	fatStartBytes := int64(f.sb.FatSectorStart) << f.sb.SectorBits
	return fatStartBytes + int64(c)*4
}

// readEntry reads the raw FAT entry for cluster c, regardless of whether the
// caller's node is contiguous. Most callers should go through NextCluster
// instead, which applies the contiguous shortcut.
func (f *fatService) readEntry(c ClusterID) ClusterID {
	buf := make([]byte, 4)
	exfatio.ReadRaw(f.dev, buf, f.entryOffset(c))
	return ClusterID(binary.LittleEndian.Uint32(buf))
}

// writeEntry writes next as the FAT entry for cluster c.
func (f *fatService) writeEntry(c ClusterID, next ClusterID) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(next))
	exfatio.WriteRaw(f.dev, buf, f.entryOffset(c))
}

// NextCluster returns the cluster following c in node's chain. For
// contiguous nodes this is c+1 unconditionally, even past the end of the
// file -- callers are expected to bound iteration by byte size, per spec
// §4.1.
func (f *fatService) NextCluster(node *Node, c ClusterID) ClusterID {
	if node.IsContiguous() {
		return c + 1
	}
	return f.readEntry(c)
}

// SetNext writes the FAT link from current to next, but only if node is not
// contiguous: a contiguous node's chain is never materialized in the FAT, so
// this is a true no-op rather than a redundant write, matching libexfat's
// set_next_cluster.
func (f *fatService) SetNext(node *Node, current, next ClusterID) {
	if node.IsContiguous() {
		return
	}
	f.writeEntry(current, next)
}

// AdvanceCluster walks node's chain k steps starting from c, stopping early
// if it encounters an invalid cluster. The caller must check ValidCluster
// on the result: advancing past the end of the chain, or through
// corruption, both return whatever cluster value halted the walk.
func (f *fatService) AdvanceCluster(node *Node, c ClusterID, k uint32) ClusterID {
	for i := uint32(0); i < k; i++ {
		c = f.NextCluster(node, c)
		if !ValidCluster(c, f.sb.ClusterCount) && c != ClusterEnd {
			break
		}
		if c == ClusterEnd {
			break
		}
	}
	return c
}

// clusterChainError builds the IoFormat error for an invalid cluster
// encountered where a valid one was required.
func clusterChainError(c ClusterID) error {
	return errors.IoFormat.WithMessage(
		"invalid cluster in chain: 0x" + clusterHex(c))
}

func clusterHex(c ClusterID) string {
	const hexDigits = "0123456789abcdef"
	v := uint32(c)
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(buf)
}
