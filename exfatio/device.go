// Package exfatio defines the block device contract the exFAT core reads
// and writes an image through. It is deliberately the thinnest possible
// wrapper around io.ReaderAt/io.WriterAt: per spec, a short or failing read
// or write is not a recoverable condition for this layer, it's a bug, so
// ReadRaw/WriteRaw report it through exfatlog.Bug instead of returning an
// error a caller could plausibly retry.
package exfatio

import (
	"io"

	"github.com/go-exfat/exfatcore/exfatlog"
	"github.com/xaionaro-go/bytesextra"
)

// Device is the block device abstraction the core consumes: arbitrary byte
// ranges read or written at absolute offsets. Real mounts back this with an
// *os.File (which already satisfies ReaderAt/WriterAt); tests back it with
// MemDevice.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// ReadRaw fills buf entirely from offset. A short read or any error is
// treated as a bug: the underlying device is assumed to be a well-formed
// seekable image, not something that can legitimately truncate a read.
func ReadRaw(dev Device, buf []byte, offset int64) {
	n, err := dev.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		exfatlog.Bug("read of %d bytes at offset %d failed: %s", len(buf), offset, err)
	}
	if n != len(buf) {
		exfatlog.Bug("short read at offset %d: wanted %d bytes, got %d", offset, len(buf), n)
	}
}

// WriteRaw writes buf entirely at offset. A short write or any error is a
// bug, for the same reason as ReadRaw.
func WriteRaw(dev Device, buf []byte, offset int64) {
	n, err := dev.WriteAt(buf, offset)
	if err != nil {
		exfatlog.Bug("write of %d bytes at offset %d failed: %s", len(buf), offset, err)
	}
	if n != len(buf) {
		exfatlog.Bug("short write at offset %d: wanted %d bytes, wrote %d", offset, len(buf), n)
	}
}

// MemDevice is an in-memory Device backed by a plain byte slice, for tests
// and small scratch images. It wraps bytesextra's ReadWriteSeeker the same
// way the teacher's test harness wraps a decompressed fixture image, except
// the backing bytes here are built directly instead of decompressed from an
// embedded fixture.
type MemDevice struct {
	stream io.ReadWriteSeeker
}

// NewMemDevice creates a MemDevice over data. Writes past the end of data
// fail, mirroring a fixed-size disk image.
func NewMemDevice(data []byte) *MemDevice {
	return &MemDevice{stream: bytesextra.NewReadWriteSeeker(data)}
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if _, err := d.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(d.stream, p)
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if _, err := d.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return d.stream.Write(p)
}
