package exfat_test

import (
	"testing"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/stretchr/testify/assert"
)

func newTestCMap(t *testing.T, clusterCount uint32) *exfat.CMap {
	t.Helper()
	nbytes := (clusterCount + 7) / 8
	dev := exfatio.NewMemDevice(make([]byte, nbytes))
	return exfat.NewCMap(dev, 0, clusterCount)
}

func TestCMapAllocateFirstFit(t *testing.T) {
	cm := newTestCMap(t, 16)

	c1, err := cm.Allocate()
	assert.NoError(t, err)
	assert.Equal(t, exfat.FirstDataCluster, c1)

	c2, err := cm.Allocate()
	assert.NoError(t, err)
	assert.Equal(t, exfat.FirstDataCluster+1, c2)
}

func TestCMapFreeThenReallocate(t *testing.T) {
	cm := newTestCMap(t, 16)

	c1, _ := cm.Allocate()
	_, _ = cm.Allocate()
	cm.Free(c1)

	c3, err := cm.Allocate()
	assert.NoError(t, err)
	assert.Equal(t, c1, c3, "freed cluster should be reused by first-fit")
}

func TestCMapAllocateExhausted(t *testing.T) {
	cm := newTestCMap(t, 4)
	for i := 0; i < 4; i++ {
		_, err := cm.Allocate()
		assert.NoError(t, err)
	}
	_, err := cm.Allocate()
	assert.Error(t, err)
}

func TestCMapCountFree(t *testing.T) {
	cm := newTestCMap(t, 8)
	assert.EqualValues(t, 8, cm.CountFree())

	c, _ := cm.Allocate()
	assert.EqualValues(t, 7, cm.CountFree())

	cm.Free(c)
	assert.EqualValues(t, 8, cm.CountFree())
}

func TestCMapFlushWritesOnlyWhenDirty(t *testing.T) {
	dev := exfatio.NewMemDevice(make([]byte, 2))
	cm := exfat.NewCMap(dev, 0, 16)
	assert.False(t, cm.Dirty)

	cm.Flush(dev)

	_, _ = cm.Allocate()
	assert.True(t, cm.Dirty)
	cm.Flush(dev)
	assert.False(t, cm.Dirty)
}
