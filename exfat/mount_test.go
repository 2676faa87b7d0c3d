package exfat_test

import (
	"testing"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/stretchr/testify/assert"
)

func TestGetLabelEmptyByDefault(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	assert.Equal(t, "", m.GetLabel())
}

func TestIterUsedSectorsCoversAllocatedClustersOnly(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	var sectors []exfat.SectorID
	m.IterUsedSectors(func(s exfat.SectorID) { sectors = append(sectors, s) })

	// Two clusters (bitmap data + root dir) at 2 sectors each.
	assert.Len(t, sectors, 4)
}

func TestUnmountFlushesDirtyBitmap(t *testing.T) {
	tv := newTestVolume(t, 16)
	m := tv.Mount()

	n := &exfat.Node{}
	m.Truncate(n, 10)

	m.Unmount()
	// Unmount should not panic and should leave the bitmap clean; remounting
	// the same backing device should see the same free count.
	m2 := tv.Mount()
	assert.EqualValues(t, m.CountFreeClusters(), m2.CountFreeClusters())
}
