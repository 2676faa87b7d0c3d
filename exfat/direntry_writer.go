package exfat

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/go-exfat/exfatcore/exfatlog"
	"github.com/noxer/bytewriter"
)

// EntryWriteSpec carries everything needed to serialize one directory entry
// set: a primary FILE entry, exactly one FILE_INFO secondary, and however
// many FILE_NAME secondaries the name requires.
type EntryWriteSpec struct {
	Attributes   uint16
	CreateTime   uint32
	ModifyTime   uint32
	AccessTime   uint32
	Create10ms   byte
	Modify10ms   byte
	NoFatChain   bool
	FirstCluster ClusterID
	DataLength   uint64
	ValidLength  uint64
	Name         []uint16
}

// secondaryCount returns how many FILE_INFO/FILE_NAME secondary entries this
// spec serializes to: one FILE_INFO, plus ceil(len(Name)/15) FILE_NAME
// entries (at least one, even for an empty name).
func (s *EntryWriteSpec) secondaryCount() byte {
	return secondaryCountForName(len(s.Name))
}

// Serialize builds the full raw byte sequence for one entry set: the
// primary entry followed by its secondaries, in on-disk order, with the
// checksum already computed and written into the primary. Entries are
// assembled into a single contiguous buffer via bytewriter before any
// field is finalized, the same way the teacher assembles composite
// fixed-layout records.
func (s *EntryWriteSpec) Serialize() []byte {
	secCount := s.secondaryCount()
	total := int(secCount+1) * entrySize
	raw := make([]byte, total)
	buf := bytewriter.New(raw)

	primary := rawPrimaryEntry{
		EntryType:                 entryTypeFile | entryTypeInUseBit,
		SecondaryCount:            secCount,
		FileAttributes:            s.Attributes,
		CreateTimestamp:           s.CreateTime,
		LastModifiedTimestamp:     s.ModifyTime,
		LastAccessedTimestamp:     s.AccessTime,
		Create10msIncrement:       s.Create10ms,
		LastModified10msIncrement: s.Modify10ms,
	}
	buf.Write(packPrimary(&primary))

	flags := byte(infoFlagAllocationPossible)
	if s.NoFatChain {
		flags |= infoFlagNoFatChain
	}
	info := rawInfoEntry{
		EntryType:             entryTypeFileInfo | entryTypeInUseBit,
		GeneralSecondaryFlags: flags,
		NameLength:            byte(len(s.Name)),
		FirstCluster:          uint32(s.FirstCluster),
		DataLength:            s.DataLength,
		ValidDataLength:       s.ValidLength,
	}
	buf.Write(packInfo(&info))

	nameEntries := (len(s.Name) + nameCharsPerEntry - 1) / nameCharsPerEntry
	if nameEntries == 0 {
		nameEntries = 1
	}
	for i := 0; i < nameEntries; i++ {
		var ne rawNameEntry
		ne.EntryType = entryTypeFileName | entryTypeInUseBit
		start := i * nameCharsPerEntry
		end := start + nameCharsPerEntry
		if end > len(s.Name) {
			end = len(s.Name)
		}
		copy(ne.Name[:], s.Name[start:end])
		buf.Write(packName(&ne))
	}

	primary.SetChecksum = checksum(raw, true)
	binary.LittleEndian.PutUint16(raw[2:4], primary.SetChecksum)
	return raw
}

func packPrimary(p *rawPrimaryEntry) []byte {
	tmp := make([]byte, entrySize)
	tmp[0] = p.EntryType
	tmp[1] = p.SecondaryCount
	binary.LittleEndian.PutUint16(tmp[2:4], p.SetChecksum)
	binary.LittleEndian.PutUint16(tmp[4:6], p.FileAttributes)
	binary.LittleEndian.PutUint32(tmp[8:12], p.CreateTimestamp)
	binary.LittleEndian.PutUint32(tmp[12:16], p.LastModifiedTimestamp)
	binary.LittleEndian.PutUint32(tmp[16:20], p.LastAccessedTimestamp)
	tmp[20] = p.Create10msIncrement
	tmp[21] = p.LastModified10msIncrement
	tmp[22] = p.CreateUtcOffset
	tmp[23] = p.LastModifiedUtcOffset
	tmp[24] = p.LastAccessedUtcOffset
	return tmp
}

func packInfo(e *rawInfoEntry) []byte {
	tmp := make([]byte, entrySize)
	tmp[0] = e.EntryType
	tmp[1] = e.GeneralSecondaryFlags
	tmp[3] = e.NameLength
	binary.LittleEndian.PutUint16(tmp[4:6], e.NameHash)
	binary.LittleEndian.PutUint64(tmp[8:16], e.ValidDataLength)
	binary.LittleEndian.PutUint32(tmp[20:24], e.FirstCluster)
	binary.LittleEndian.PutUint64(tmp[24:32], e.DataLength)
	return tmp
}

func packName(n *rawNameEntry) []byte {
	tmp := make([]byte, entrySize)
	tmp[0] = n.EntryType
	for i, ch := range n.Name {
		binary.LittleEndian.PutUint16(tmp[2+i*2:4+i*2], ch)
	}
	return tmp
}

// EncodeName converts a Go string to the UTF-16LE code units exFAT stores
// names as.
func EncodeName(name string) []uint16 {
	return utf16.Encode([]rune(name))
}

// WriteNew writes a brand new entry set to dev at the given absolute byte
// offset, primary entry last: the in-use bit on the primary's type byte is
// what makes the whole set visible to a reader that crashes mid-write, so
// the secondaries must hit the device first, per spec §4.4. This is only
// valid for a set being created from scratch into free space the caller has
// already confirmed is one contiguous run within a single cluster (see
// CreateChild's findFreeRun) -- an existing node's entries are updated via
// Mount.flushExistingEntry instead, which is FAT-chain aware and preserves
// unrelated bytes.
func (s *EntryWriteSpec) WriteNew(dev exfatio.Device, offset int64) {
	raw := s.Serialize()
	if len(raw) > entrySize {
		exfatio.WriteRaw(dev, raw[entrySize:], offset+entrySize)
	}
	exfatio.WriteRaw(dev, raw[:entrySize], offset)
}

// advanceEntryCursor moves (cluster, offset) forward by one directory entry
// within dir's entry stream, crossing into the next cluster via the FAT
// when offset would run past the cluster boundary, per spec §4.4's "entry
// cursor advancement". Crossing into an invalid cluster here is a bug: the
// write sequence assumes a valid chain.
func (m *Mount) advanceEntryCursor(dir *Node, cluster ClusterID, offset uint32) (ClusterID, uint32) {
	offset += entrySize
	if offset < m.sb.ClusterSize() {
		return cluster, offset
	}
	next := m.fat.NextCluster(dir, cluster)
	if !ValidCluster(next, m.sb.ClusterCount) {
		exfatlog.Bug("entry cursor advanced into an invalid cluster past 0x%x", uint32(cluster))
		return cluster, offset
	}
	return next, 0
}

// clearInUseBit clears bit 0x80 of the single type byte at (cluster,
// offset), leaving the rest of the entry's 32 bytes untouched.
func (m *Mount) clearInUseBit(cluster ClusterID, offset uint32) {
	typeByte := make([]byte, 1)
	off := m.ClusterToOffset(cluster) + int64(offset)
	readRaw(m, typeByte, off)
	typeByte[0] &^= entryTypeInUseBit
	writeRaw(m, typeByte, off)
}

// EraseEntrySet clears the in-use bit of the primary entry at (cluster,
// offset) in dir's entry stream first, then of the info entry, then of each
// name entry, advancing through dir's cluster chain between entries. The
// primary-first order means any partial failure leaves the group
// unreachable from scanning (primary is invalid) while the continuations
// linger harmlessly; bytes other than each entry's type byte are left
// byte-identical, per spec §4.4 and testable property #5.
func (m *Mount) EraseEntrySet(dir *Node, cluster ClusterID, offset uint32, secondaryCount byte) {
	m.clearInUseBit(cluster, offset)
	c, o := cluster, offset
	for i := byte(0); i < secondaryCount; i++ {
		c, o = m.advanceEntryCursor(dir, c, o)
		m.clearInUseBit(c, o)
	}
}
