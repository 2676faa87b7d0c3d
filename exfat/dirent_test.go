package exfat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInUseAndBaseType(t *testing.T) {
	assert.True(t, inUse(entryTypeFile|entryTypeInUseBit))
	assert.False(t, inUse(entryTypeFile))
	assert.Equal(t, byte(entryTypeFile), baseType(entryTypeFile|entryTypeInUseBit))
}

func TestChecksumSkipsOwnField(t *testing.T) {
	raw := make([]byte, entrySize*2)
	raw[0] = entryTypeFile | entryTypeInUseBit
	raw[1] = 1

	// Changing bytes 2-3 (the checksum field itself) must not change the
	// computed checksum when skipOwnChecksumField is true.
	sum1 := checksum(raw, true)
	raw[2] = 0xFF
	raw[3] = 0xFF
	sum2 := checksum(raw, true)
	assert.Equal(t, sum1, sum2)

	raw[10] = 0x42
	sum3 := checksum(raw, true)
	assert.NotEqual(t, sum2, sum3, "changing a non-checksum byte must change the checksum")
}
