package exfat

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/go-exfat/exfatcore/errors"
)

// entryReaderState tracks progress through one logical directory entry set
// (a primary FILE entry followed by its FILE_INFO and FILE_NAME
// continuations), per spec §4.4's state machine.
type entryReaderState int

const (
	stateSeekingPrimary entryReaderState = iota
	stateExpectInfo
	stateExpectName
	stateComplete
)

// ParsedEntry is the fully assembled result of reading one directory entry
// set: the primary FILE fields, the FILE_INFO fields, and the concatenated
// name from however many FILE_NAME continuations were present.
type ParsedEntry struct {
	Attributes     uint16
	CreateTime     uint32
	ModifyTime     uint32
	AccessTime     uint32
	Create10ms     byte
	Modify10ms     byte
	AllocationFlag bool
	NoFatChain     bool
	FirstCluster   ClusterID
	DataLength     uint64
	ValidLength    uint64
	Name           []uint16

	// EntryCluster/EntryOffset record where the primary entry of this set
	// lives, so callers can locate it again to rewrite or erase it.
	EntryCluster ClusterID
	EntryOffset  uint32
}

// entryReader consumes a stream of raw 32-byte directory entries and
// assembles them into ParsedEntry values.
type entryReader struct {
	state          entryReaderState
	primary        rawPrimaryEntry
	info           rawInfoEntry
	nameRemaining  int
	name           []uint16
	groupBuf       bytes.Buffer
	entryCluster   ClusterID
	entryOffset    uint32
	secondariesGot byte
}

func newEntryReader() *entryReader {
	return &entryReader{state: stateSeekingPrimary}
}

// Feed processes one raw 32-byte entry at the given location. It returns a
// non-nil *ParsedEntry once a complete set has been assembled; otherwise it
// returns nil and the caller should feed the next entry.
func (r *entryReader) Feed(raw []byte, cluster ClusterID, offset uint32) (*ParsedEntry, error) {
	if len(raw) != entrySize {
		return nil, errors.IoFormat.WithMessage("directory entry is not 32 bytes")
	}
	entryType := raw[0]

	switch r.state {
	case stateSeekingPrimary:
		if entryType == entryTypeEOD {
			return nil, nil
		}
		if !inUse(entryType) || baseType(entryType) != entryTypeFile {
			// Not a FILE primary: bitmap/upcase/label entries, deleted
			// entries and orphaned secondaries are skipped here.
			return nil, nil
		}
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &r.primary); err != nil {
			return nil, errors.IoFormat.Wrap(err)
		}
		r.entryCluster = cluster
		r.entryOffset = offset
		r.groupBuf.Reset()
		r.groupBuf.Write(raw)
		r.secondariesGot = 0
		r.name = r.name[:0]
		if r.primary.SecondaryCount == 0 {
			return nil, errors.IoFormat.WithMessage("primary entry has zero secondaries")
		}
		r.state = stateExpectInfo
		return nil, nil

	case stateExpectInfo:
		if !inUse(entryType) || baseType(entryType) != entryTypeFileInfo {
			r.state = stateSeekingPrimary
			return nil, errors.IoFormat.WithMessage("expected FILE_INFO secondary entry")
		}
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &r.info); err != nil {
			return nil, errors.IoFormat.Wrap(err)
		}
		r.groupBuf.Write(raw)
		r.secondariesGot++
		r.nameRemaining = int(r.info.NameLength)
		if r.nameRemaining == 0 {
			r.state = stateComplete
		} else {
			r.state = stateExpectName
		}
		return r.maybeFinish()

	case stateExpectName:
		if !inUse(entryType) || baseType(entryType) != entryTypeFileName {
			r.state = stateSeekingPrimary
			return nil, errors.IoFormat.WithMessage("expected FILE_NAME secondary entry")
		}
		var ne rawNameEntry
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ne); err != nil {
			return nil, errors.IoFormat.Wrap(err)
		}
		r.groupBuf.Write(raw)
		r.secondariesGot++
		take := r.nameRemaining
		if take > nameCharsPerEntry {
			take = nameCharsPerEntry
		}
		r.name = append(r.name, ne.Name[:take]...)
		r.nameRemaining -= take
		if r.nameRemaining <= 0 {
			r.state = stateComplete
		}
		return r.maybeFinish()
	}

	return nil, errors.IoFormat.WithMessage("entry reader in an unknown state")
}

// maybeFinish checks whether the secondary count has been satisfied and, if
// so, validates the checksum and emits a ParsedEntry.
func (r *entryReader) maybeFinish() (*ParsedEntry, error) {
	if r.state != stateComplete {
		return nil, nil
	}
	if r.secondariesGot != r.primary.SecondaryCount {
		r.state = stateSeekingPrimary
		return nil, errors.IoFormat.WithMessage("secondary entry count mismatch")
	}

	raw := r.groupBuf.Bytes()
	want := checksum(raw, true)
	if want != r.primary.SetChecksum {
		r.state = stateSeekingPrimary
		return nil, errors.IoFormat.WithMessage("directory entry set checksum mismatch")
	}

	parsed := &ParsedEntry{
		Attributes:     r.primary.FileAttributes,
		CreateTime:     r.primary.CreateTimestamp,
		ModifyTime:     r.primary.LastModifiedTimestamp,
		AccessTime:     r.primary.LastAccessedTimestamp,
		Create10ms:     r.primary.Create10msIncrement,
		Modify10ms:     r.primary.LastModified10msIncrement,
		AllocationFlag: r.info.GeneralSecondaryFlags&infoFlagAllocationPossible != 0,
		NoFatChain:     r.info.GeneralSecondaryFlags&infoFlagNoFatChain != 0,
		FirstCluster:   ClusterID(r.info.FirstCluster),
		DataLength:     r.info.DataLength,
		ValidLength:    r.info.ValidDataLength,
		Name:           append([]uint16(nil), r.name...),
		EntryCluster:   r.entryCluster,
		EntryOffset:    r.entryOffset,
	}
	r.state = stateSeekingPrimary
	return parsed, nil
}

// NameString decodes a ParsedEntry's UTF-16LE name into a Go string.
func (p *ParsedEntry) NameString() string {
	return string(utf16.Decode(p.Name))
}
