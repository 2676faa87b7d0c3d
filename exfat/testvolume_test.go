package exfat_test

import (
	"encoding/binary"
	"testing"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/stretchr/testify/require"
)

// testVolume is a small in-memory exFAT image builder for tests: one FAT,
// an allocation bitmap living in cluster 2, and a root directory in
// cluster 3, large enough for a handful of test files.
type testVolume struct {
	t            *testing.T
	sectorShift  uint8
	clusterShift uint8
	clusterCount uint32
	heapOffset   uint32 // in sectors
	fatOffset    uint32 // in sectors
	fatLength    uint32 // in sectors
	data         []byte
}

const testSectorSize = 512
const testClusterSize = testSectorSize * 2 // 2 sectors/cluster

func newTestVolume(t *testing.T, clusterCount uint32) *testVolume {
	t.Helper()

	fatOffset := uint32(8)
	fatLength := uint32(4)
	heapOffset := fatOffset + fatLength
	totalSectors := heapOffset + clusterCount*2

	tv := &testVolume{
		t:            t,
		sectorShift:  9,
		clusterShift: 1,
		clusterCount: clusterCount,
		heapOffset:   heapOffset,
		fatOffset:    fatOffset,
		fatLength:    fatLength,
		data:         make([]byte, uint64(totalSectors)*testSectorSize),
	}

	tv.writeBootSector()
	tv.writeBitmapEntryInto(3, 2) // root dir (cluster 3) describes the bitmap data in cluster 2
	tv.setFAT(2, exfat.ClusterEnd)
	tv.setFAT(3, exfat.ClusterEnd)
	tv.markUsed(2)
	tv.markUsed(3)

	return tv
}

func (tv *testVolume) writeBootSector() {
	copy(tv.data[3:11], "EXFAT   ")
	bpb := tv.data[0x40:]
	binary.LittleEndian.PutUint32(bpb[16:20], tv.fatOffset)
	binary.LittleEndian.PutUint32(bpb[20:24], tv.fatLength)
	binary.LittleEndian.PutUint32(bpb[24:28], tv.heapOffset)
	binary.LittleEndian.PutUint32(bpb[28:32], tv.clusterCount)
	binary.LittleEndian.PutUint32(bpb[32:36], 3) // root dir cluster
	bpb[44] = tv.sectorShift
	bpb[45] = tv.clusterShift
	bpb[46] = 1
	binary.LittleEndian.PutUint16(tv.data[510:512], 0xAA55)
}

func (tv *testVolume) clusterOffset(cluster exfat.ClusterID) int64 {
	sectorOffset := int64(tv.heapOffset) + int64(uint32(cluster-exfat.FirstDataCluster))*2
	return sectorOffset * testSectorSize
}

// writeBitmapEntryInto writes a BITMAP directory entry into dirCluster,
// pointing at dataCluster as the start of the allocation bitmap's own data.
func (tv *testVolume) writeBitmapEntryInto(dirCluster, dataCluster exfat.ClusterID) {
	off := tv.clusterOffset(dirCluster)
	entry := make([]byte, 32)
	entry[0] = 0x81 // BITMAP, in-use
	binary.LittleEndian.PutUint32(entry[20:24], uint32(dataCluster))
	nbytes := (tv.clusterCount + 7) / 8
	binary.LittleEndian.PutUint64(entry[24:32], uint64(nbytes))
	copy(tv.data[off:], entry)
}

func (tv *testVolume) setFAT(cluster exfat.ClusterID, next exfat.ClusterID) {
	off := int64(tv.fatOffset)*testSectorSize + int64(cluster)*4
	binary.LittleEndian.PutUint32(tv.data[off:off+4], uint32(next))
}

func (tv *testVolume) markUsed(cluster exfat.ClusterID) {
	idx := int(cluster - exfat.FirstDataCluster)
	bitmapOff := tv.clusterOffset(2)
	byteIdx := idx / 8
	bit := idx % 8
	tv.data[bitmapOff+int64(byteIdx)] |= 1 << bit
}

// Mount builds an exfatio.MemDevice over the image and mounts it.
func (tv *testVolume) Mount() *exfat.Mount {
	dev := exfatio.NewMemDevice(tv.data)
	m, err := exfat.Mount(dev, exfat.MountOptions{})
	require.NoError(tv.t, err)
	return m
}

// corruptByte flips a bit at byteOffset within cluster, directly in the
// backing image -- used to simulate on-disk bitrot for checksum tests.
func (tv *testVolume) corruptByte(cluster, byteOffset int) {
	off := tv.clusterOffset(exfat.ClusterID(cluster)) + int64(byteOffset)
	tv.data[off] ^= 0xFF
}
