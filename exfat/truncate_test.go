package exfat_test

import (
	"testing"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/stretchr/testify/assert"
)

func TestTruncateGrowFromEmpty(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	n := &exfat.Node{}
	freeBefore := m.CountFreeClusters()

	m.Truncate(n, uint64(testClusterSize)+1)

	assert.EqualValues(t, testClusterSize+1, n.Size)
	assert.NotZero(t, n.StartCluster)
	assert.EqualValues(t, freeBefore-2, m.CountFreeClusters(), "a file one byte larger than a cluster should consume exactly 2 clusters")
}

func TestTruncateShrinkToZeroFreesAllClusters(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	n := &exfat.Node{}
	m.Truncate(n, uint64(testClusterSize)*3)
	freeAfterGrow := m.CountFreeClusters()

	m.Truncate(n, 0)

	assert.EqualValues(t, 0, n.Size)
	assert.EqualValues(t, 0, n.StartCluster)
	assert.EqualValues(t, freeAfterGrow+3, m.CountFreeClusters())
}

func TestTruncateShrinkPartial(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	n := &exfat.Node{}
	m.Truncate(n, uint64(testClusterSize)*3)
	freeAfterGrow := m.CountFreeClusters()

	m.Truncate(n, uint64(testClusterSize))

	assert.EqualValues(t, testClusterSize, n.Size)
	assert.EqualValues(t, freeAfterGrow+2, m.CountFreeClusters())
}

func TestTruncateMarksNodeDirty(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	n := &exfat.Node{}
	assert.False(t, n.IsDirty())
	m.Truncate(n, 10)
	assert.True(t, n.IsDirty())
}
