// Package testing holds helpers shared by the cache test suites: an
// in-memory counting device and pattern-image builders.
package testing

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// Device is an in-memory implementation of [common.Device] backed by a fixed
// byte slice. It counts positioned reads and writes so tests can assert on
// the exact amount of device I/O an operation caused, and can be told to
// fail writes to exercise the write-back failure paths.
type Device struct {
	storage []byte
	stream  io.ReadWriteSeeker

	// ReadCount and WriteCount tally every ReadAt / WriteAt call, including
	// failed ones.
	ReadCount  int
	WriteCount int

	// WriteError, when non-nil, makes every WriteAt fail with this error
	// without touching the storage.
	WriteError error
}

// NewDevice wraps `storage` in a Device. The slice is used in place, so tests
// can inspect it to verify what was written back.
func NewDevice(storage []byte) *Device {
	return &Device{
		storage: storage,
		stream:  bytesextra.NewReadWriteSeeker(storage),
	}
}

// Bytes returns the underlying storage.
func (device *Device) Bytes() []byte {
	return device.storage
}

// ReadAt implements [io.ReaderAt]. Reading past the end of the storage
// returns the bytes that exist followed by [io.EOF], like a real file.
func (device *Device) ReadAt(p []byte, off int64) (int, error) {
	device.ReadCount++

	size := int64(len(device.storage))
	if off >= size {
		return 0, io.EOF
	}

	_, err := device.stream.Seek(off, io.SeekStart)
	if err != nil {
		return 0, err
	}

	limit := len(p)
	short := false
	if off+int64(limit) > size {
		limit = int(size - off)
		short = true
	}

	n, err := io.ReadFull(device.stream, p[:limit])
	if err != nil {
		return n, err
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements [io.WriterAt]. Writes must fall entirely within the
// storage; the fixture doesn't grow.
func (device *Device) WriteAt(p []byte, off int64) (int, error) {
	device.WriteCount++

	if device.WriteError != nil {
		return 0, device.WriteError
	}

	_, err := device.stream.Seek(off, io.SeekStart)
	if err != nil {
		return 0, err
	}
	return device.stream.Write(p)
}
