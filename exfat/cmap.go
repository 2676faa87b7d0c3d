package exfat

import (
	"github.com/boljen/go-bitmap"
	"github.com/go-exfat/exfatcore/errors"
	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/go-exfat/exfatcore/exfatlog"
)

// CMap is the cluster allocation bitmap: one bit per cluster in the heap,
// set if the cluster is in use. Allocate performs a first-fit scan over the
// raw backing bytes (short-circuiting whole 0xFF bytes) per spec §4.2;
// Free clears a single bit. Both mark the map Dirty rather than writing
// through immediately -- Flush is the only thing that touches the device.
type CMap struct {
	// StartByteOffset is the absolute device offset of the first bitmap byte.
	StartByteOffset int64
	// Size is the number of clusters the map covers.
	Size uint32
	// Dirty is set whenever Allocate or Free changes a bit, and cleared by
	// Flush.
	Dirty bool

	bm bitmap.Bitmap
}

// NewCMap reads an existing on-disk bitmap covering size clusters, starting
// at byteOffset.
func NewCMap(dev exfatio.Device, byteOffset int64, size uint32) *CMap {
	nbytes := int((size + 7) / 8)
	buf := make([]byte, nbytes)
	exfatio.ReadRaw(dev, buf, byteOffset)

	return &CMap{
		StartByteOffset: byteOffset,
		Size:            size,
		bm:              bitmap.Bitmap(buf),
	}
}

// used reports whether cluster index i (0-based, relative to the first data
// cluster) is marked allocated.
func (c *CMap) used(i int) bool {
	return c.bm.Get(i)
}

func (c *CMap) setUsed(i int, v bool) {
	c.bm.Set(i, v)
	c.Dirty = true
}

// Allocate finds the lowest-indexed free cluster, marks it used, and
// returns it. It does not zero the cluster's contents -- callers that need
// a clean cluster (spec §4.3) must erase it themselves after allocation.
func (c *CMap) Allocate() (ClusterID, error) {
	raw := []byte(c.bm)
	nbits := int(c.Size)

	for byteIdx := 0; byteIdx*8 < nbits; byteIdx++ {
		if raw[byteIdx] == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			idx := byteIdx*8 + bit
			if idx >= nbits {
				break
			}
			if !c.used(idx) {
				c.setUsed(idx, true)
				return FirstDataCluster + ClusterID(idx), nil
			}
		}
	}
	return 0, errors.NoSpace.WithMessage("no free clusters in allocation bitmap")
}

// Free marks cluster as unallocated. Freeing an already-free cluster is a
// bug: it almost always indicates a double-free in the caller's reference
// counting.
func (c *CMap) Free(cluster ClusterID) {
	idx := int(cluster - FirstDataCluster)
	if idx < 0 || uint32(idx) >= c.Size {
		exfatlog.Bug("Free called with cluster 0x%x outside the heap", uint32(cluster))
		return
	}
	c.setUsed(idx, false)
}

// CountFree returns the number of currently-unallocated clusters.
func (c *CMap) CountFree() uint32 {
	var free uint32
	raw := []byte(c.bm)
	nbits := int(c.Size)
	for idx := 0; idx < nbits; idx++ {
		byteIdx := idx / 8
		if raw[byteIdx] == 0xFF {
			idx += 7 - (idx % 8)
			continue
		}
		if !c.used(idx) {
			free++
		}
	}
	return free
}

// Flush writes the bitmap back to dev if Dirty, then clears Dirty.
func (c *CMap) Flush(dev exfatio.Device) {
	if !c.Dirty {
		return
	}
	exfatio.WriteRaw(dev, []byte(c.bm), c.StartByteOffset)
	c.Dirty = false
}

// MarkClean clears Dirty without writing, for callers that need to drop
// pending bitmap changes.
func (c *CMap) MarkClean() {
	c.Dirty = false
}
