package exfat_test

import (
	"testing"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/stretchr/testify/assert"
)

func TestValidCluster(t *testing.T) {
	assert.False(t, exfat.ValidCluster(0, 100))
	assert.False(t, exfat.ValidCluster(1, 100))
	assert.True(t, exfat.ValidCluster(exfat.FirstDataCluster, 100))
	assert.True(t, exfat.ValidCluster(exfat.FirstDataCluster+99, 100))
	assert.False(t, exfat.ValidCluster(exfat.FirstDataCluster+100, 100))
	assert.False(t, exfat.ValidCluster(exfat.ClusterBad, 100))
}
