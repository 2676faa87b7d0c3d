package exfat

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/go-exfat/exfatcore/errors"
	"github.com/go-exfat/exfatcore/exfatlog"
	"github.com/hashicorp/go-multierror"
)

// Node flags, mirroring libexfat's EXFAT_ATTRIB_* cache bits (distinct from
// the on-disk FileAttributes bits in dirent.go).
const (
	// FlagContiguous marks a node whose clusters are laid out sequentially
	// on disk, letting NextCluster skip the FAT entirely.
	FlagContiguous = 1 << iota
	// FlagDirty marks a node whose in-memory metadata (size, timestamps,
	// first cluster, ...) has diverged from its on-disk directory entry.
	FlagDirty
	// FlagUnlinked marks a node that has been removed from its parent
	// directory but is still referenced; its clusters are freed when the
	// last reference drops.
	FlagUnlinked
	// FlagCached marks a node currently linked into the in-memory tree.
	FlagCached
)

// Node is one cached file or directory: its metadata, its position in the
// in-memory directory tree, and a reference count controlling when it's
// safe to evict, per spec §5.
type Node struct {
	Name         []uint16
	Attributes   uint16
	Size         uint64
	StartCluster ClusterID
	// FptrCluster caches the cluster last reached by sequential access, so
	// repeated small reads don't re-walk the chain from StartCluster.
	FptrCluster       ClusterID
	FptrIndex         uint32
	CreateTime        uint32
	ModifyTime        uint32
	AccessTime        uint32
	EntryCluster ClusterID
	EntryOffset  uint32

	flags      uint32
	references int

	Parent      *Node
	FirstChild  *Node
	NextSibling *Node
}

func (n *Node) IsContiguous() bool { return n.flags&FlagContiguous != 0 }
func (n *Node) IsDirty() bool      { return n.flags&FlagDirty != 0 }
func (n *Node) IsUnlinked() bool   { return n.flags&FlagUnlinked != 0 }
func (n *Node) IsCached() bool     { return n.flags&FlagCached != 0 }
func (n *Node) IsDirectory() bool  { return n.Attributes&AttrDirectory != 0 }

// NameString decodes the node's UTF-16LE name into a Go string.
func (n *Node) NameString() string {
	return string(utf16.Decode(n.Name))
}

func (n *Node) setFlag(f uint32, v bool) {
	if v {
		n.flags |= f
	} else {
		n.flags &^= f
	}
}

// References returns the current reference count, mostly for tests.
func (n *Node) References() int { return n.references }

// Get increments node's reference count. Every Get must be matched by a Put.
func (m *Mount) Get(n *Node) *Node {
	n.references++
	return n
}

// Put decrements node's reference count. At zero references it runs the
// cleanup sequence from spec §5: flush if dirty (unconditionally, step 1),
// then if unlinked, truncate to zero length to release its clusters (step
// 2); either way the CMap is flushed if it ended up dirty (step 3). A node
// already unlinked has had its Parent nulled by detach at unlink time, so
// FlushNode here is a safe no-op rather than a write into an erased entry.
func (m *Mount) Put(n *Node) {
	n.references--
	if n.references > 0 {
		return
	}
	if n.references < 0 {
		exfatlog.Bug("reference count for node went negative")
		return
	}

	if n.IsDirty() {
		m.FlushNode(n)
	}
	if n.IsUnlinked() {
		m.truncate(n, 0)
	}

	if m.cmap.Dirty {
		m.cmap.Flush(m.dev)
	}
}

// detach removes n from its parent's child list and nulls its parent and
// sibling links, per spec §4.5's unlink/rmdir step "null its parent/
// siblings" -- this is what makes a later FlushNode on an unlinked node a
// no-op instead of a write into an already-erased directory entry.
func (m *Mount) detach(n *Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	if parent.FirstChild == n {
		parent.FirstChild = n.NextSibling
	} else {
		for c := parent.FirstChild; c != nil; c = c.NextSibling {
			if c.NextSibling == n {
				c.NextSibling = n.NextSibling
				break
			}
		}
	}
	n.Parent = nil
	n.NextSibling = nil
}

// LookupChild searches the already-cached children of dir for a name match.
// It does not itself trigger a directory read; callers must CacheDirectory
// first. Returns nil if there is no cached child with that name.
func (m *Mount) LookupChild(dir *Node, name []uint16) *Node {
	for c := dir.FirstChild; c != nil; c = c.NextSibling {
		if uint16SliceEqual(c.Name, name) {
			return c
		}
	}
	return nil
}

func uint16SliceEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CacheDirectory reads dir's entry stream in full and populates its child
// list. Children parsed by this call are attached only once the whole stream
// has been read without error; if any entry fails to parse, they are
// discarded unattached and the accumulated errors are returned together via
// go-multierror, leaving dir's child list exactly as it was before the call.
func (m *Mount) CacheDirectory(dir *Node) error {
	if !dir.IsDirectory() {
		return errors.NotDir.WithMessage("CacheDirectory called on a non-directory node")
	}

	var added []*Node
	var result *multierror.Error

	reader := newEntryReader()
	cluster := dir.StartCluster
	var clusterOffset uint32
	clusters := clustersFor(dir.Size, m.sb.ClusterSize())

	for i := uint32(0); i < clusters && ValidCluster(cluster, m.sb.ClusterCount); i++ {
		clusterBuf := make([]byte, m.sb.ClusterSize())
		exfatioReadCluster(m, cluster, clusterBuf)

		for off := uint32(0); off < uint32(len(clusterBuf)); off += entrySize {
			raw := clusterBuf[off : off+entrySize]
			if raw[0] == entryTypeEOD {
				goto done
			}
			parsed, err := reader.Feed(raw, cluster, off)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if parsed == nil {
				continue
			}
			child := m.nodeFromParsed(dir, parsed)
			added = append(added, child)
		}

		clusterOffset += uint32(len(clusterBuf))
		cluster = m.fat.NextCluster(dir, cluster)
	}

done:
	if result != nil {
		for _, child := range added {
			m.detach(child)
		}
		return result.ErrorOrNil()
	}

	for _, child := range added {
		m.attachChild(dir, child)
	}
	dir.setFlag(FlagCached, true)
	return nil
}

func (m *Mount) attachChild(dir, child *Node) {
	child.Parent = dir
	child.NextSibling = dir.FirstChild
	dir.FirstChild = child
}

func (m *Mount) nodeFromParsed(parent *Node, p *ParsedEntry) *Node {
	n := &Node{
		Name:         p.Name,
		Attributes:   p.Attributes,
		Size:         p.DataLength,
		StartCluster: p.FirstCluster,
		FptrCluster:  p.FirstCluster,
		CreateTime:   p.CreateTime,
		ModifyTime:   p.ModifyTime,
		AccessTime:   p.AccessTime,
		EntryCluster: p.EntryCluster,
		EntryOffset:  p.EntryOffset,
		Parent:       parent,
	}
	if p.NoFatChain {
		n.setFlag(FlagContiguous, true)
	}
	n.setFlag(FlagCached, true)
	return n
}

// exfatioReadCluster reads one whole cluster's worth of bytes into buf.
func exfatioReadCluster(m *Mount, cluster ClusterID, buf []byte) {
	offset := m.ClusterToOffset(cluster)
	readRaw(m, buf, offset)
}

// FlushNode writes n's current in-memory metadata back to its directory
// entry set, if it has one. A node with no parent (the root directory, or a
// node already unlinked and detached) has nothing to flush, mirroring
// libexfat's exfat_flush_node no-op.
func (m *Mount) FlushNode(n *Node) {
	if n.Parent == nil {
		return
	}
	m.flushExistingEntry(n)
	n.setFlag(FlagDirty, false)
}

// flushExistingEntry implements spec §4.4's "Writer — flushing a node":
// locate the primary entry at (entry_cluster, entry_offset), read it and
// its immediately-following secondary (crossing into the next cluster of
// the parent's chain via advanceEntryCursor when the boundary falls
// between them), and validate their types are FILE and FILE_INFO --
// a mismatch means the in-memory pointers have lost sync with disk, which
// is a bug, not a recoverable error. Name entries are read (to fold their
// bytes into the recomputed checksum) but never rewritten: only attrib,
// mtime/atime, size, start cluster, and the fragmentation flag change.
// Secondary is written before primary, matching FlushNode's crash-safety
// ordering.
func (m *Mount) flushExistingEntry(n *Node) {
	dir := n.Parent
	pCluster, pOffset := n.EntryCluster, n.EntryOffset

	primary := make([]byte, entrySize)
	readRaw(m, primary, m.ClusterToOffset(pCluster)+int64(pOffset))
	if baseType(primary[0]) != entryTypeFile {
		exfatlog.Bug("on-disk primary entry at flush target is not a FILE entry")
		return
	}

	iCluster, iOffset := m.advanceEntryCursor(dir, pCluster, pOffset)
	info := make([]byte, entrySize)
	readRaw(m, info, m.ClusterToOffset(iCluster)+int64(iOffset))
	if baseType(info[0]) != entryTypeFileInfo {
		exfatlog.Bug("on-disk secondary entry at flush target is not a FILE_INFO entry")
		return
	}

	secCount := primary[1]
	group := make([]byte, int(secCount+1)*entrySize)
	copy(group[0:entrySize], primary)
	copy(group[entrySize:2*entrySize], info)

	c, o := iCluster, iOffset
	for i := byte(2); i <= secCount; i++ {
		c, o = m.advanceEntryCursor(dir, c, o)
		readRaw(m, group[int(i)*entrySize:int(i+1)*entrySize], m.ClusterToOffset(c)+int64(o))
	}

	binary.LittleEndian.PutUint16(group[4:6], n.Attributes)
	binary.LittleEndian.PutUint32(group[12:16], n.ModifyTime)
	binary.LittleEndian.PutUint32(group[16:20], n.AccessTime)

	flags := byte(infoFlagAllocationPossible)
	if n.IsContiguous() {
		flags |= infoFlagNoFatChain
	}
	group[entrySize+1] = flags
	binary.LittleEndian.PutUint64(group[entrySize+8:entrySize+16], n.Size)
	binary.LittleEndian.PutUint32(group[entrySize+20:entrySize+24], uint32(n.StartCluster))
	binary.LittleEndian.PutUint64(group[entrySize+24:entrySize+32], n.Size)

	binary.LittleEndian.PutUint16(group[2:4], checksum(group, true))

	writeRaw(m, group[entrySize:2*entrySize], m.ClusterToOffset(iCluster)+int64(iOffset))
	writeRaw(m, group[0:entrySize], m.ClusterToOffset(pCluster)+int64(pOffset))
}

// Unlink removes a non-directory node from its parent, erases its directory
// entry set, and marks it UNLINKED: its clusters aren't released until the
// last outstanding reference is Put, per spec §5.
func (m *Mount) Unlink(n *Node) error {
	if n.IsDirectory() {
		return errors.IsDir.WithMessage("Unlink called on a directory; use Rmdir")
	}
	return m.unlinkCommon(n)
}

// Rmdir removes an empty directory node the same way Unlink removes a file.
func (m *Mount) Rmdir(n *Node) error {
	if !n.IsDirectory() {
		return errors.NotDir.WithMessage("Rmdir called on a non-directory node")
	}
	if n.FirstChild != nil {
		return errors.NotEmpty.WithMessage("directory is not empty")
	}
	if err := m.CacheDirectory(n); err != nil {
		return err
	}
	if n.FirstChild != nil {
		return errors.NotEmpty.WithMessage("directory is not empty")
	}
	return m.unlinkCommon(n)
}

func (m *Mount) unlinkCommon(n *Node) error {
	m.EraseEntrySet(n.Parent, n.EntryCluster, n.EntryOffset, secondaryCountForName(len(n.Name)))
	m.detach(n)
	n.setFlag(FlagUnlinked, true)
	return nil
}

// secondaryCountForName returns how many FILE_INFO/FILE_NAME secondaries an
// entry set with a name of the given length occupies.
func secondaryCountForName(nameLen int) byte {
	nameEntries := (nameLen + nameCharsPerEntry - 1) / nameCharsPerEntry
	if nameEntries == 0 {
		nameEntries = 1
	}
	return byte(1 + nameEntries)
}

// CreateChild allocates a new directory entry set for name under dir,
// writes it to the first run of free slots in dir's entry stream (growing
// dir by one cluster if none is found), and attaches the resulting Node to
// dir's child list. Directories are given one cluster immediately, since
// exFAT directories are never zero-length; files start at zero length.
//
// The initial entry group is written directly with WriteNew rather than
// through FlushNode: FlushNode's flushExistingEntry expects to read back an
// existing FILE/FILE_INFO pair, which doesn't exist yet at a freshly
// allocated slot. findFreeRun only ever returns a run within one cluster,
// so WriteNew's flat single-cluster write is safe here.
func (m *Mount) CreateChild(dir *Node, name string, attrs uint16) *Node {
	encoded := EncodeName(name)
	needed := int(secondaryCountForName(len(encoded))) + 1

	cluster, slotOffset, ok := m.findFreeRun(dir, needed)
	if !ok {
		m.growDirectory(dir)
		cluster, slotOffset, ok = m.findFreeRun(dir, needed)
		if !ok {
			exfatlog.Bug("directory grow did not produce a usable free run")
			return nil
		}
	}

	child := &Node{
		Name:         encoded,
		Attributes:   attrs,
		Parent:       dir,
		EntryCluster: cluster,
		EntryOffset:  slotOffset,
	}
	child.setFlag(FlagCached, true)

	if attrs&AttrDirectory != 0 {
		m.truncate(child, uint64(m.sb.ClusterSize()))
	}

	spec := &EntryWriteSpec{
		Attributes:   child.Attributes,
		CreateTime:   child.CreateTime,
		ModifyTime:   child.ModifyTime,
		AccessTime:   child.AccessTime,
		NoFatChain:   child.IsContiguous(),
		FirstCluster: child.StartCluster,
		DataLength:   child.Size,
		ValidLength:  child.Size,
		Name:         child.Name,
	}
	spec.WriteNew(m.dev, m.ClusterToOffset(cluster)+int64(slotOffset))
	child.setFlag(FlagDirty, false)

	m.attachChild(dir, child)
	return child
}

// findFreeRun scans dir's cluster chain for `needed` consecutive entries
// whose type byte is entryTypeEOD, returning the cluster and byte offset
// (within that cluster) of the run's first slot.
func (m *Mount) findFreeRun(dir *Node, needed int) (ClusterID, uint32, bool) {
	cluster := dir.StartCluster
	clusters := clustersFor(dir.Size, m.sb.ClusterSize())
	for i := uint32(0); i < clusters && ValidCluster(cluster, m.sb.ClusterCount); i++ {
		buf := make([]byte, m.sb.ClusterSize())
		readRaw(m, buf, m.ClusterToOffset(cluster))

		run := 0
		for off := uint32(0); off < uint32(len(buf)); off += entrySize {
			if buf[off] == entryTypeEOD {
				run++
				if run == needed {
					return cluster, off - uint32(needed-1)*entrySize, true
				}
			} else {
				run = 0
			}
		}
		cluster = m.fat.NextCluster(dir, cluster)
	}
	return 0, 0, false
}

// growDirectory extends dir by one cluster so findFreeRun has somewhere
// new to look; the new cluster is zero-filled by allocateZeroed, so it
// reads back as a run of EOD entries.
func (m *Mount) growDirectory(dir *Node) {
	m.truncate(dir, dir.Size+uint64(m.sb.ClusterSize()))
}

// Reset walks n's subtree in post-order (children before parents) and
// drops every cached node, warning and forcing the drop on anything still
// referenced -- mirroring libexfat's reset_cache behavior on unmount.
func (m *Mount) Reset(n *Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		m.Reset(c)
		c = next
	}

	if n.references != 0 {
		exfatlog.Warn("node still has %d outstanding reference(s) at reset; forcing release", n.references)
		n.references = 0
	}
	if n.IsDirty() && n.Parent != nil {
		m.FlushNode(n)
	}
	n.setFlag(FlagCached, false)
}
